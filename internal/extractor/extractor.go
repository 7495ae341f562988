package extractor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/your-org/framestream/internal/ffmpeg"
	"github.com/your-org/framestream/pkg/storage/objectstore"
	"github.com/your-org/framestream/pkg/tracing"
)

// DefaultSegmentLength is the HLS segment duration in seconds.
const DefaultSegmentLength = 2

// ErrSourceNotFound reports a missing source file.
var ErrSourceNotFound = errors.New("source video not found")

var tracer = otel.Tracer("github.com/your-org/framestream/internal/extractor")

// Options tunes one extraction run.
type Options struct {
	// FPS is the requested frame rate; 0 keeps the native rate.
	FPS           float64
	SegmentLength int
	Repair        bool
	// SkipPreviewFrames disables the lower resolution frame sequence.
	SkipPreviewFrames bool
	// PrimaryFramesQuality > 0 stores primary frames as JPEG.
	PrimaryFramesQuality int
	// SkipMetadata leaves metadata.json unwritten.
	SkipMetadata bool
}

// Result is the outcome of a successful run.
type Result struct {
	Repaired bool
	// SourceFile is the file artifacts were derived from, which is the
	// repaired copy when a repair happened.
	SourceFile string
	Prefix     string
	// RepairDiagnostics holds the first decoder error lines that triggered
	// a repair.
	RepairDiagnostics []string
	Layout            Layout
	Payload           RegistrationPayload
}

// Extractor runs the artifact pipeline. Stages run strictly one after another.
type Extractor struct {
	tool      *ffmpeg.Tool
	repairer  *Repairer
	segments  *SegmentExtractor
	frames    *FrameExtractor
	manifest  *ManifestBuilder
	thumbnail *ThumbnailExtractor
	audio     *AudioPeakExtractor
	logger    *zap.Logger
}

// New wires every stage around tool.
func New(tool *ffmpeg.Tool, logger *zap.Logger) *Extractor {
	return &Extractor{
		tool:      tool,
		repairer:  NewRepairer(tool, logger),
		segments:  NewSegmentExtractor(tool, logger),
		frames:    NewFrameExtractor(tool, logger),
		manifest:  NewManifestBuilder(tool, logger),
		thumbnail: NewThumbnailExtractor(tool),
		audio:     NewAudioPeakExtractor(tool, logger),
		logger:    logger,
	}
}

// SetVAAPIDevice overrides the render node of the hardware repair encode.
func (e *Extractor) SetVAAPIDevice(device string) {
	if device != "" {
		e.repairer.VAAPIDevice = device
	}
}

// Extract produces every artifact for source under outDir and returns the
// registration payload keyed under prefix. Any stage failure aborts the run.
func (e *Extractor) Extract(ctx context.Context, source, outDir, prefix string, opts Options) (*Result, error) {
	ctx, span := tracer.Start(ctx, "extractor.Extract")
	defer span.End()

	res, err := e.extract(ctx, source, outDir, prefix, opts)
	if err != nil {
		tracing.Fail(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("video.total_frames", res.Payload.TotalFrames),
		attribute.Int("video.visible_frames", res.Payload.VisibleFrames),
		attribute.Bool("video.repaired", res.Repaired),
	)
	return res, nil
}

func (e *Extractor) extract(ctx context.Context, source, outDir, prefix string, opts Options) (*Result, error) {
	if _, err := os.Stat(source); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, source)
		}
		return nil, fmt.Errorf("stat source: %w", err)
	}
	if opts.SegmentLength <= 0 {
		opts.SegmentLength = DefaultSegmentLength
	}

	if err := e.tool.CheckVersion(ctx); err != nil {
		return nil, err
	}

	layout := NewLayout(outDir)
	if err := layout.Create(!opts.SkipPreviewFrames); err != nil {
		return nil, err
	}

	res := &Result{SourceFile: source, Prefix: strings.Trim(prefix, "/"), Layout: layout}

	if opts.Repair {
		var repair RepairResult
		err := e.stage(ctx, "repair", func(ctx context.Context) (err error) {
			repair, err = e.repairer.MaybeRepair(ctx, source, layout.Base)
			return err
		})
		if err != nil {
			return nil, err
		}
		res.Repaired, res.SourceFile = repair.Repaired, repair.Source
		res.RepairDiagnostics = repair.Diagnostics
	}
	source = res.SourceFile

	var video ffmpeg.VideoMetadata
	err := e.stage(ctx, "probe", func(ctx context.Context) (err error) {
		video, err = e.tool.ProbeVideo(ctx, source)
		return err
	})
	if err != nil {
		return nil, err
	}
	step := DownsamplingStep(video.NativeFPS, opts.FPS)
	fi, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("stat source: %w", err)
	}
	e.logger.Info("video metadata",
		zap.Int("width", video.Width),
		zap.Int("height", video.Height),
		zap.Float64("native_fps", video.NativeFPS),
		zap.Float64("downsampling_step", step),
		zap.Int64("source_size_bytes", fi.Size()),
	)

	var segments SegmentSet
	err = e.stage(ctx, "segments", func(ctx context.Context) (err error) {
		segments, err = e.segments.Extract(ctx, source, layout, opts.SegmentLength)
		return err
	})
	if err != nil {
		return nil, err
	}

	frameOpts := FrameOptions{Step: step, PrimaryQuality: opts.PrimaryFramesQuality, Preview: !opts.SkipPreviewFrames}
	err = e.stage(ctx, "frames", func(ctx context.Context) error {
		return e.frames.Extract(ctx, source, layout, frameOpts)
	})
	if err != nil {
		return nil, err
	}

	var manifest Manifest
	err = e.stage(ctx, "manifest", func(ctx context.Context) (err error) {
		manifest, err = e.manifest.Build(ctx, source, layout.SegmentsHigh, step, layout.path(FramesManifestFile))
		return err
	})
	if err != nil {
		return nil, err
	}

	err = e.stage(ctx, "thumbnail", func(ctx context.Context) error {
		return e.thumbnail.Extract(ctx, source, layout.path(ThumbnailFile), manifest.TotalFrames())
	})
	if err != nil {
		return nil, err
	}

	var peaks string
	err = e.stage(ctx, "audio_peaks", func(ctx context.Context) (err error) {
		peaks, err = e.audio.Extract(ctx, source, layout.Base)
		return err
	})
	if err != nil {
		return nil, err
	}

	highIndex, err := rewriteIndexFile(segments.High.IndexPath, objectstore.JoinKey(res.Prefix, "segments", QualityHigh))
	if err != nil {
		return nil, err
	}
	lowIndex, err := rewriteIndexFile(segments.Low.IndexPath, objectstore.JoinKey(res.Prefix, "segments", QualityLow))
	if err != nil {
		return nil, err
	}

	res.Payload = AssemblePayload(PayloadInput{
		Prefix:          res.Prefix,
		SourceFile:      source,
		SourceSize:      fi.Size(),
		Video:           video,
		RequestedFPS:    opts.FPS,
		Manifest:        manifest,
		Segments:        segments,
		HighIndex:       highIndex,
		LowIndex:        lowIndex,
		FrameExtension:  frameOpts.PrimaryExtension(),
		PreviewFrames:   frameOpts.Preview,
		AudioPeaksExist: peaks != "" && fileExists(peaks),
	})

	if !opts.SkipMetadata {
		md := Metadata{
			Repaired:            res.Repaired,
			SourceFile:          res.SourceFile,
			StorageKeyPrefix:    res.Prefix,
			RegistrationPayload: res.Payload,
		}
		if err := WriteMetadata(layout.path(MetadataFile), md); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (e *Extractor) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, "extractor."+name)
	defer span.End()

	e.logger.Info("stage started", zap.String("stage", name))
	if err := fn(ctx); err != nil {
		tracing.Fail(span, err)
		e.logger.Error("stage failed", zap.String("stage", name), zap.Error(err))
		return err
	}
	return nil
}

func rewriteIndexFile(indexPath, keyPrefix string) (string, error) {
	data, err := os.ReadFile(indexPath)
	if err != nil {
		return "", fmt.Errorf("read segment index: %w", err)
	}
	return RewriteIndex(string(data), keyPrefix), nil
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
