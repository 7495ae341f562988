package extractor

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/your-org/framestream/internal/ffmpeg"
)

const (
	extPNG = "png"
	extJPG = "jpg"

	previewQuality = 10
)

// DownsamplingStep is the ratio of native to requested frame rate, never
// below 1 and rounded to 4 decimals. A non-positive requested rate keeps
// the native cadence.
func DownsamplingStep(nativeFPS, requestedFPS float64) float64 {
	if requestedFPS <= 0 {
		return 1.0
	}
	step := math.Max(nativeFPS/requestedFPS, 1.0)
	return math.Round(step*1e4) / 1e4
}

// FrameOptions controls frame extraction.
type FrameOptions struct {
	Step float64
	// PrimaryQuality > 0 stores primary frames as JPEG with that -q:v value;
	// otherwise they are lossless PNG.
	PrimaryQuality int
	// Preview also writes a lower resolution JPEG sequence.
	Preview bool
}

// PrimaryExtension is the file extension of primary frames.
func (o FrameOptions) PrimaryExtension() string {
	if o.PrimaryQuality > 0 {
		return extJPG
	}
	return extPNG
}

// FrameExtractor writes still frames at the downsampling cadence.
type FrameExtractor struct {
	tool   *ffmpeg.Tool
	logger *zap.Logger
}

// NewFrameExtractor returns a FrameExtractor.
func NewFrameExtractor(tool *ffmpeg.Tool, logger *zap.Logger) *FrameExtractor {
	return &FrameExtractor{tool: tool, logger: logger}
}

// Extract writes the primary sequence into layout.SectionsHigh and, when
// requested, the preview sequence into layout.SectionsLow.
func (f *FrameExtractor) Extract(ctx context.Context, source string, layout Layout, opts FrameOptions) error {
	var encode []string
	if opts.PrimaryQuality > 0 {
		encode = []string{"-q:v", strconv.Itoa(opts.PrimaryQuality)}
	}
	pattern := filepath.Join(layout.SectionsHigh, "%09d."+opts.PrimaryExtension())
	if _, err := f.tool.Exec(ctx, frameArgs(source, pattern, opts.Step, "", encode)...); err != nil {
		return fmt.Errorf("extract primary frames: %w", err)
	}
	f.logger.Info("primary frames extracted",
		zap.String("extension", opts.PrimaryExtension()),
		zap.Float64("step", opts.Step),
	)

	if !opts.Preview {
		return nil
	}
	pattern = filepath.Join(layout.SectionsLow, "%09d."+extJPG)
	encode = []string{"-q:v", strconv.Itoa(previewQuality)}
	if _, err := f.tool.Exec(ctx, frameArgs(source, pattern, opts.Step, "scale="+lowScale, encode)...); err != nil {
		return fmt.Errorf("extract preview frames: %w", err)
	}
	f.logger.Info("preview frames extracted")
	return nil
}

// SelectExpr is the ffmpeg select filter keeping exactly the frames the
// manifest marks visible for step.
func SelectExpr(step float64) string {
	s := strconv.FormatFloat(step, 'f', -1, 64)
	return fmt.Sprintf(`select='eq(trunc(trunc((n+1)/%s)*%s)\,n)'`, s, s)
}

func frameArgs(source, pattern string, step float64, scale string, encode []string) []string {
	args := []string{
		"-hide_banner",
		"-v", "error",
		"-i", source,
		"-start_number", "0",
		"-vsync", "passthrough",
	}

	var filter string
	if step > 1 {
		filter = SelectExpr(step)
	}
	if scale != "" {
		if filter != "" {
			filter += ","
		}
		filter += scale
	}
	if filter != "" {
		args = append(args, "-vf", filter)
	}
	args = append(args, encode...)
	return append(args, "-f", "image2", pattern)
}
