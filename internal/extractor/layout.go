package extractor

import (
	"fmt"
	"os"
	"path/filepath"
)

// Fixed artifact file names inside the output directory.
const (
	FramesManifestFile = "frames_manifest.txt"
	ThumbnailFile      = "thumbnail.jpg"
	AudioPeaksFile     = "audio_peaks.gz"
	MetadataFile       = "metadata.json"
	IndexFile          = "index.m3u8"
)

// Layout is the on-disk directory structure of one extraction run.
type Layout struct {
	Base         string
	SegmentsHigh string
	SegmentsLow  string
	SectionsHigh string
	SectionsLow  string
}

// NewLayout derives the directory structure rooted at base.
func NewLayout(base string) Layout {
	return Layout{
		Base:         base,
		SegmentsHigh: filepath.Join(base, "segments", QualityHigh),
		SegmentsLow:  filepath.Join(base, "segments", QualityLow),
		SectionsHigh: filepath.Join(base, "sections", QualityHigh),
		SectionsLow:  filepath.Join(base, "sections", QualityLow),
	}
}

// SegmentsDir returns the segment directory for a quality tier.
func (l Layout) SegmentsDir(quality string) string {
	if quality == QualityLow {
		return l.SegmentsLow
	}
	return l.SegmentsHigh
}

// Create makes every directory the run writes into. The preview frames
// directory is only created when preview frames are requested.
func (l Layout) Create(withPreview bool) error {
	dirs := []string{l.Base, l.SegmentsHigh, l.SegmentsLow, l.SectionsHigh}
	if withPreview {
		dirs = append(dirs, l.SectionsLow)
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}

func (l Layout) path(name string) string {
	return filepath.Join(l.Base, name)
}
