package extractor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/your-org/framestream/internal/ffmpeg"
	"github.com/your-org/framestream/pkg/storage/objectstore"
)

// Quality tier identifiers.
const (
	QualityHigh = "high"
	QualityLow  = "low"
)

// QualityProfile is one segmentation tier.
type QualityProfile struct {
	ID  string
	CRF int
	GOP int
	// Scale is an optional ffmpeg scale filter argument.
	Scale string
}

// lowScale halves sources taller than 720px, keeping even dimensions and a
// 720px floor.
const lowScale = "-2:'if(gt(ih,720),max(ceil(ih/4)*2,720),ih)'"

// Profiles are the two fixed tiers.
var Profiles = []QualityProfile{
	{ID: QualityHigh, CRF: 23, GOP: 15},
	{ID: QualityLow, CRF: 40, GOP: 15, Scale: lowScale},
}

// Segment is one encoded media chunk.
type Segment struct {
	Index    int
	Path     string
	Duration float64
	// Size is -1 when the file could not be stat'd.
	Size int64
}

// Tier is the result of segmenting the source at one quality.
type Tier struct {
	Quality   string
	IndexPath string
	Segments  []Segment
	// Bitrate is the mean bits per second over valid segments; nil when no
	// segment produced a measurement.
	Bitrate *float64
}

// SegmentSet holds both tiers of one run.
type SegmentSet struct {
	High Tier
	Low  Tier
}

// SegmentExtractor encodes the source into fixed-length HLS segments.
type SegmentExtractor struct {
	tool   *ffmpeg.Tool
	logger *zap.Logger
}

// NewSegmentExtractor returns a SegmentExtractor.
func NewSegmentExtractor(tool *ffmpeg.Tool, logger *zap.Logger) *SegmentExtractor {
	return &SegmentExtractor{tool: tool, logger: logger}
}

// Extract runs both quality profiles sequentially.
func (s *SegmentExtractor) Extract(ctx context.Context, source string, layout Layout, segmentLength int) (SegmentSet, error) {
	var set SegmentSet
	for _, p := range Profiles {
		tier, err := s.extractTier(ctx, source, layout.SegmentsDir(p.ID), p, segmentLength)
		if err != nil {
			return set, err
		}
		if p.ID == QualityLow {
			set.Low = tier
		} else {
			set.High = tier
		}
	}
	return set, nil
}

func (s *SegmentExtractor) extractTier(ctx context.Context, source, dir string, p QualityProfile, segmentLength int) (Tier, error) {
	index := filepath.Join(dir, IndexFile)
	if _, err := s.tool.Exec(ctx, segmentArgs(source, dir, p, segmentLength)...); err != nil {
		return Tier{}, fmt.Errorf("segment %s quality: %w", p.ID, err)
	}

	data, err := os.ReadFile(index)
	if err != nil {
		return Tier{}, fmt.Errorf("read %s index: %w", p.ID, err)
	}
	paths, err := listSegments(dir)
	if err != nil {
		return Tier{}, err
	}

	durations := ParseIndexDurations(string(data))
	tier := Tier{Quality: p.ID, IndexPath: index}
	for i, path := range paths {
		seg := Segment{Index: i, Path: path, Size: -1}
		if i < len(durations) {
			seg.Duration = durations[i]
		}
		if fi, err := os.Stat(path); err == nil {
			seg.Size = fi.Size()
		}
		tier.Segments = append(tier.Segments, seg)
	}
	tier.Bitrate = AverageBitrate(tier.Segments)

	fields := []zap.Field{zap.String("quality", p.ID), zap.Int("segments", len(paths))}
	if tier.Bitrate != nil {
		fields = append(fields, zap.Float64("bitrate", *tier.Bitrate))
	}
	s.logger.Info("segments extracted", fields...)
	return tier, nil
}

func segmentArgs(source, dir string, p QualityProfile, segmentLength int) []string {
	args := []string{
		"-hide_banner",
		"-v", "error",
		"-i", source,
		"-c:v", "libx264",
		"-crf", strconv.Itoa(p.CRF),
		"-g", strconv.Itoa(p.GOP),
		"-f", "hls",
		"-hls_time", strconv.Itoa(segmentLength),
		"-hls_list_size", "0",
		"-start_number", "0",
		"-hls_segment_filename", filepath.Join(dir, "%09d.ts"),
		"-vsync", "passthrough",
		"-max_muxing_queue_size", "1024",
	}
	if p.Scale != "" {
		args = append(args, "-vf", "scale="+p.Scale)
	}
	return append(args, filepath.Join(dir, IndexFile))
}

// listSegments returns the .ts files in dir in index order.
func listSegments(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.ts"))
	if err != nil {
		return nil, fmt.Errorf("list segments in %s: %w", dir, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// ParseIndexDurations returns the #EXTINF duration of every segment in an
// HLS playlist. Malformed entries are skipped.
func ParseIndexDurations(index string) []float64 {
	var out []float64
	for _, line := range strings.Split(index, "\n") {
		rest, ok := strings.CutPrefix(strings.TrimSpace(line), "#EXTINF:")
		if !ok {
			continue
		}
		value, _, _ := strings.Cut(rest, ",")
		d, err := strconv.ParseFloat(value, 64)
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	return out
}

// AverageBitrate averages size*8/duration over segments. Segments with a
// non-positive duration or an unknown size are skipped. It returns nil when
// nothing could be measured.
func AverageBitrate(segments []Segment) *float64 {
	var sum float64
	var count int
	for _, seg := range segments {
		if seg.Duration <= 0 || seg.Size < 0 {
			continue
		}
		sum += float64(seg.Size*8) / seg.Duration
		count++
	}
	if count == 0 {
		return nil
	}
	avg := sum / float64(count)
	return &avg
}

var segmentLineRe = regexp.MustCompile(`(?m)^(.*\.ts)$`)

// RewriteIndex replaces each relative segment path in an HLS playlist with
// keyPrefix/path.
func RewriteIndex(index, keyPrefix string) string {
	return segmentLineRe.ReplaceAllStringFunc(index, func(line string) string {
		return objectstore.JoinKey(keyPrefix, line)
	})
}
