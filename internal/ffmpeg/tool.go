package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// MinMajorVersion is the oldest ffmpeg release the extraction commands support.
const MinMajorVersion = 5

// VideoMetadata describes the probed properties of a source video.
type VideoMetadata struct {
	Width     int
	Height    int
	NativeFPS float64
	Duration  float64
}

// Tool wraps ffmpeg and ffprobe invocations and exposes typed results.
type Tool struct {
	runner  Runner
	ffmpeg  string
	ffprobe string
	logger  *zap.Logger
}

// Config names the binaries a Tool invokes.
type Config struct {
	FFmpegPath  string
	FFprobePath string
}

// NewTool binds a Runner to the configured binaries.
func NewTool(runner Runner, cfg Config, logger *zap.Logger) *Tool {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	return &Tool{runner: runner, ffmpeg: cfg.FFmpegPath, ffprobe: cfg.FFprobePath, logger: logger}
}

// CheckVersion fails with ErrDependency unless ffmpeg is installed at
// MinMajorVersion or newer.
func (t *Tool) CheckVersion(ctx context.Context) error {
	res, err := t.runner.Run(ctx, t.ffmpeg, "-version")
	if err != nil {
		if errors.Is(err, ErrDependency) {
			return fmt.Errorf("ffmpeg not found, install ffmpeg %d or newer: %w", MinMajorVersion, err)
		}
		return fmt.Errorf("%w: ffmpeg -version: %v", ErrDependency, err)
	}
	major, err := ParseMajorVersion(res.Stdout)
	if err != nil {
		return err
	}
	if major < MinMajorVersion {
		return fmt.Errorf("%w: ffmpeg %d or newer required, found %d", ErrDependency, MinMajorVersion, major)
	}
	t.logger.Debug("ffmpeg version ok", zap.Int("major", major))
	return nil
}

// Exec runs ffmpeg with the given arguments.
func (t *Tool) Exec(ctx context.Context, args ...string) (Result, error) {
	return t.runner.Run(ctx, t.ffmpeg, args...)
}

// ProbeVideo reads width, height, duration and native frame rate of the
// first video stream. When the average frame rate is degenerate the rate is
// derived from the decoded frame count and the duration.
func (t *Tool) ProbeVideo(ctx context.Context, path string) (VideoMetadata, error) {
	res, err := t.runner.Run(ctx, t.ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,avg_frame_rate,duration",
		"-of", "json",
		path,
	)
	if err != nil {
		return VideoMetadata{}, probeErr(err)
	}

	stream, err := firstStream(res.Stdout)
	if err != nil {
		return VideoMetadata{}, err
	}

	md := VideoMetadata{Width: stream.Width, Height: stream.Height}
	if stream.Duration != "" {
		if d, err := strconv.ParseFloat(stream.Duration, 64); err == nil {
			md.Duration = d
		}
	}

	fps, ok := ParseFrameRate(stream.AvgFrameRate)
	if !ok {
		if md.Duration <= 0 {
			return md, fmt.Errorf("%w: no usable frame rate or duration for %s", ErrMediaRead, path)
		}
		frames, err := t.CountFrames(ctx, path)
		if err != nil {
			return md, err
		}
		fps = round(float64(frames)/md.Duration, 2)
		t.logger.Info("average frame rate unavailable, derived from frame count",
			zap.Int("frames", frames),
			zap.Float64("duration", md.Duration),
			zap.Float64("native_fps", fps),
		)
	}
	if fps <= 0 {
		return md, fmt.Errorf("%w: computed non-positive frame rate for %s", ErrMediaRead, path)
	}
	md.NativeFPS = fps
	return md, nil
}

// CountFrames decodes the first video stream and returns the number of frames read.
func (t *Tool) CountFrames(ctx context.Context, path string) (int, error) {
	res, err := t.runner.Run(ctx, t.ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-count_frames",
		"-show_entries", "stream=nb_read_frames",
		"-of", "json",
		path,
	)
	if err != nil {
		return 0, probeErr(err)
	}
	stream, err := firstStream(res.Stdout)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(stream.NbReadFrames)
	if err != nil {
		return 0, fmt.Errorf("%w: nb_read_frames %q: %v", ErrMediaRead, stream.NbReadFrames, err)
	}
	return n, nil
}

// HasAudio reports whether the file carries at least one audio stream.
func (t *Tool) HasAudio(ctx context.Context, path string) (bool, error) {
	res, err := t.runner.Run(ctx, t.ffprobe,
		"-v", "error",
		"-select_streams", "a",
		"-show_entries", "stream=codec_type",
		"-of", "json",
		path,
	)
	if err != nil {
		return false, probeErr(err)
	}
	p, err := parseProbe(res.Stdout)
	if err != nil {
		return false, err
	}
	return len(p.Streams) > 0, nil
}

// FrameTimestamps returns the presentation time of every decoded frame.
func (t *Tool) FrameTimestamps(ctx context.Context, path string) ([]float64, error) {
	res, err := t.runner.Run(ctx, t.ffmpeg,
		"-hide_banner",
		"-v", "info",
		"-i", path,
		"-vsync", "passthrough",
		"-vf", "showinfo",
		"-f", "null",
		"-",
	)
	if err != nil {
		return nil, probeErr(err)
	}
	return ParsePTSTimes(res.Stderr), nil
}

// DetectErrors runs a strict decode pass and returns the diagnostic output.
// An empty string means no decode errors were reported.
func (t *Tool) DetectErrors(ctx context.Context, path string) (string, error) {
	res, err := t.runner.Run(ctx, t.ffmpeg,
		"-err_detect", "explode",
		"-xerror",
		"-v", "error",
		"-i", path,
		"-f", "null",
		"-",
	)
	var exitErr *ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return "", err
	}
	return strings.TrimSpace(string(res.Stderr)), nil
}

func probeErr(err error) error {
	if errors.Is(err, ErrDependency) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrMediaRead, err)
}
