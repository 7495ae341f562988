package extractor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/your-org/framestream/internal/ffmpeg"
)

// Thumbnail bounding box; aspect ratio is preserved inside it.
const (
	thumbnailWidth  = 356
	thumbnailHeight = 200
)

// ThumbnailExtractor writes a single frame from the temporal midpoint.
type ThumbnailExtractor struct {
	tool *ffmpeg.Tool
}

// NewThumbnailExtractor returns a ThumbnailExtractor.
func NewThumbnailExtractor(tool *ffmpeg.Tool) *ThumbnailExtractor {
	return &ThumbnailExtractor{tool: tool}
}

// Extract writes frame totalFrames/2 of source to out.
func (t *ThumbnailExtractor) Extract(ctx context.Context, source, out string, totalFrames int) error {
	filter := fmt.Sprintf(`select=gte(n\,%d),scale=w=%d:h=%d:force_original_aspect_ratio=decrease`,
		totalFrames/2, thumbnailWidth, thumbnailHeight)
	_, err := t.tool.Exec(ctx,
		"-hide_banner",
		"-v", "error",
		"-i", source,
		"-vf", filter,
		"-vframes", "1",
		"-y",
		out,
	)
	if err != nil {
		return fmt.Errorf("extract thumbnail: %w", err)
	}
	return nil
}

// AudioPeakExtractor writes a gzip-compressed 8-bit mono peak track.
type AudioPeakExtractor struct {
	tool   *ffmpeg.Tool
	logger *zap.Logger
}

// NewAudioPeakExtractor returns an AudioPeakExtractor.
func NewAudioPeakExtractor(tool *ffmpeg.Tool, logger *zap.Logger) *AudioPeakExtractor {
	return &AudioPeakExtractor{tool: tool, logger: logger}
}

// Extract writes AudioPeaksFile into dir and returns its path. It returns
// "" with a nil error when the source has no audio or extraction fails;
// partial files are removed in that case. Only a missing tool is reported.
func (a *AudioPeakExtractor) Extract(ctx context.Context, source, dir string) (string, error) {
	hasAudio, err := a.tool.HasAudio(ctx, source)
	if err != nil {
		if errors.Is(err, ffmpeg.ErrDependency) {
			return "", err
		}
		a.logger.Warn("audio stream check failed, skipping audio peaks", zap.Error(err))
		return "", nil
	}
	if !hasAudio {
		a.logger.Info("no audio streams found")
		return "", nil
	}

	raw := filepath.Join(dir, "audio_peaks.raw")
	gz := filepath.Join(dir, AudioPeaksFile)
	defer os.Remove(raw)

	_, err = a.tool.Exec(ctx,
		"-hide_banner",
		"-v", "error",
		"-i", source,
		"-map", "0:a:0",
		"-ac", "1",
		"-af", "aresample=1000,asetnsamples=1",
		"-f", "u8",
		raw,
	)
	if err == nil {
		err = gzipFile(raw, gz)
	}
	if err != nil {
		a.logger.Warn("failed to extract audio peaks", zap.Error(err))
		os.Remove(gz)
		return "", nil
	}
	return gz, nil
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	zw := gzip.NewWriter(out)
	if _, err := io.Copy(zw, in); err != nil {
		out.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
