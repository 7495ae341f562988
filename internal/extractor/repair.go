package extractor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/your-org/framestream/internal/ffmpeg"
)

const diagnosticLines = 3

// ErrCorruption reports a source that has decode errors and could not be repaired.
var ErrCorruption = errors.New("video corruption")

// RepairResult describes the outcome of a repair pass.
type RepairResult struct {
	Repaired bool
	// Source is the file every later stage should read.
	Source string
	// Diagnostics holds the first lines of the decoder error output.
	Diagnostics []string
}

// Repairer re-encodes sources that fail a strict decode pass.
type Repairer struct {
	tool   *ffmpeg.Tool
	logger *zap.Logger
	// VAAPIDevice is the render node used for the hardware encode attempt.
	VAAPIDevice string
}

// NewRepairer returns a Repairer using tool.
func NewRepairer(tool *ffmpeg.Tool, logger *zap.Logger) *Repairer {
	return &Repairer{tool: tool, logger: logger, VAAPIDevice: "/dev/dri/renderD128"}
}

// MaybeRepair scans source for decode errors and, if any are found, writes a
// repaired copy into outDir. A hardware HEVC encode is tried first and a
// software H.264 encode second; if both fail the error wraps ErrCorruption.
func (r *Repairer) MaybeRepair(ctx context.Context, source, outDir string) (RepairResult, error) {
	r.logger.Info("checking video for errors", zap.String("source", source))

	diag, err := r.tool.DetectErrors(ctx, source)
	if err != nil {
		return RepairResult{}, fmt.Errorf("scan for decode errors: %w", err)
	}
	if diag == "" {
		r.logger.Info("no decode errors detected, using original video")
		return RepairResult{Source: source}, nil
	}

	lines := strings.Split(diag, "\n")
	if len(lines) > diagnosticLines {
		lines = lines[:diagnosticLines]
	}
	r.logger.Warn("video contains decode errors, attempting repair", zap.Strings("diagnostics", lines))

	out := filepath.Join(outDir, "repaired_"+filepath.Base(source))
	if _, err := r.tool.Exec(ctx, r.hardwareArgs(source, out)...); err != nil {
		if errors.Is(err, ffmpeg.ErrDependency) {
			return RepairResult{}, err
		}
		r.logger.Warn("hardware HEVC encode failed, falling back to software H.264", zap.Error(err))
		if _, err := r.tool.Exec(ctx, softwareArgs(source, out)...); err != nil {
			return RepairResult{}, fmt.Errorf("%w: repair %s: %v", ErrCorruption, source, err)
		}
	}

	r.logger.Info("video repaired", zap.String("output", out))
	return RepairResult{Repaired: true, Source: out, Diagnostics: lines}, nil
}

func (r *Repairer) hardwareArgs(source, out string) []string {
	return []string{
		"-y",
		"-fflags", "discardcorrupt+genpts",
		"-vaapi_device", r.VAAPIDevice,
		"-i", source,
		"-vf", "format=nv12,hwupload",
		"-c:v", "hevc_vaapi",
		"-c:a", "copy",
		"-vsync", "cfr",
		out,
	}
}

func softwareArgs(source, out string) []string {
	return []string{
		"-y",
		"-fflags", "discardcorrupt+genpts",
		"-i", source,
		"-c:v", "libx264",
		"-c:a", "copy",
		"-vsync", "cfr",
		out,
	}
}
