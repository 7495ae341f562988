package extractor

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/your-org/framestream/internal/ffmpeg"
)

// ManifestEntry places one decoded frame inside its segment.
type ManifestEntry struct {
	FrameInSegment int
	Segment        int
	Visible        bool
	Timestamp      float64
}

// String renders the entry as "frame:segment:visibility:timestamp".
func (e ManifestEntry) String() string {
	vis := 0
	if e.Visible {
		vis = 1
	}
	return fmt.Sprintf("%d:%d:%d:%s", e.FrameInSegment, e.Segment, vis, formatTimestamp(e.Timestamp))
}

// Manifest is the ordered frame placement of a whole source.
type Manifest struct {
	Entries       []ManifestEntry
	VisibleFrames int
}

// TotalFrames is the number of decoded frames, visible or not.
func (m Manifest) TotalFrames() int {
	return len(m.Entries)
}

// Encode joins all entries with newlines, without a trailing newline.
func (m Manifest) Encode() []byte {
	lines := make([]string, len(m.Entries))
	for i, e := range m.Entries {
		lines[i] = e.String()
	}
	return []byte(strings.Join(lines, "\n"))
}

// BuildManifest assigns every timestamp a segment and in-segment index and
// marks it visible when it falls on the downsampling cadence. Frames beyond
// the counted capacity of the last segment stay in the last segment.
func BuildManifest(timestamps []float64, segmentFrameCounts []int, step float64) Manifest {
	m := Manifest{Entries: make([]ManifestEntry, 0, len(timestamps))}
	lastSegment := max(len(segmentFrameCounts)-1, 0)

	var segment, frameInSegment int
	for frameNo, ts := range timestamps {
		visible := frameNo == int(float64(m.VisibleFrames)*step)
		if visible {
			m.VisibleFrames++
		}

		if segment < lastSegment && frameInSegment >= segmentFrameCounts[segment] {
			segment++
			frameInSegment = 0
		}

		m.Entries = append(m.Entries, ManifestEntry{
			FrameInSegment: frameInSegment,
			Segment:        segment,
			Visible:        visible,
			Timestamp:      ts,
		})
		frameInSegment++
	}
	return m
}

// formatTimestamp prints the shortest exact decimal, keeping a ".0" suffix on
// whole seconds.
func formatTimestamp(ts float64) string {
	s := strconv.FormatFloat(ts, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// ManifestBuilder gathers frame timestamps and segment frame counts from
// the tool and writes the frames manifest.
type ManifestBuilder struct {
	tool   *ffmpeg.Tool
	logger *zap.Logger
}

// NewManifestBuilder returns a ManifestBuilder.
func NewManifestBuilder(tool *ffmpeg.Tool, logger *zap.Logger) *ManifestBuilder {
	return &ManifestBuilder{tool: tool, logger: logger}
}

// Build aligns the frames of source with the segments in segmentsDir and
// writes the manifest to path.
func (b *ManifestBuilder) Build(ctx context.Context, source, segmentsDir string, step float64, path string) (Manifest, error) {
	timestamps, err := b.tool.FrameTimestamps(ctx, source)
	if err != nil {
		return Manifest{}, fmt.Errorf("read frame timestamps: %w", err)
	}

	segments, err := listSegments(segmentsDir)
	if err != nil {
		return Manifest{}, err
	}
	counts := make([]int, 0, len(segments))
	for _, seg := range segments {
		n, err := b.tool.CountFrames(ctx, seg)
		if err != nil {
			return Manifest{}, fmt.Errorf("count frames in %s: %w", seg, err)
		}
		counts = append(counts, n)
	}

	m := BuildManifest(timestamps, counts, step)
	if err := os.WriteFile(path, m.Encode(), 0o644); err != nil {
		return m, fmt.Errorf("write frames manifest: %w", err)
	}

	b.logger.Info("frames manifest written",
		zap.Int("total_frames", m.TotalFrames()),
		zap.Int("visible_frames", m.VisibleFrames),
		zap.Ints("segment_frame_counts", counts),
	)
	return m, nil
}
