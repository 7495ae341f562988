package extractor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/your-org/framestream/internal/ffmpeg"
	"github.com/your-org/framestream/pkg/storage/objectstore"
)

// HLSTier is the embedded playlist and measured bitrate of one tier.
type HLSTier struct {
	Index   string   `json:"index"`
	Bitrate *float64 `json:"bitrate"`
}

// HLSSegments holds both tiers.
type HLSSegments struct {
	High HLSTier `json:"high_quality"`
	Low  HLSTier `json:"low_quality"`
}

// RegistrationPayload describes the artifacts and video properties handed
// to the annotation platform.
type RegistrationPayload struct {
	Type                               string      `json:"type"`
	Width                              int         `json:"width"`
	Height                             int         `json:"height"`
	NativeFPS                          float64     `json:"native_fps"`
	FPS                                float64     `json:"fps"`
	VisibleFrames                      int         `json:"visible_frames"`
	TotalFrames                        int         `json:"total_frames"`
	HLSSegments                        HLSSegments `json:"hls_segments"`
	StorageKey                         string      `json:"storage_key"`
	StorageSectionsKeyPrefix           string      `json:"storage_sections_key_prefix"`
	StorageLowQualitySectionsKeyPrefix string      `json:"storage_low_quality_sections_key_prefix,omitempty"`
	StorageFramesManifestKey           string      `json:"storage_frames_manifest_key"`
	StorageThumbnailKey                string      `json:"storage_thumbnail_key"`
	StorageAudioPeaksKey               string      `json:"storage_audio_peaks_key,omitempty"`
	HQFramesExtension                  string      `json:"hq_frames_extension,omitempty"`
	TotalSizeBytes                     int64       `json:"total_size_bytes"`
	Name                               string      `json:"name"`
	Path                               string      `json:"path"`
}

// Metadata is the document persisted next to the artifacts.
type Metadata struct {
	Repaired            bool                `json:"repaired"`
	SourceFile          string              `json:"source_file"`
	StorageKeyPrefix    string              `json:"storage_key_prefix"`
	RegistrationPayload RegistrationPayload `json:"registration_payload"`
}

// PayloadInput gathers every computed value the payload is derived from.
type PayloadInput struct {
	Prefix          string
	SourceFile      string
	SourceSize      int64
	Video           ffmpeg.VideoMetadata
	RequestedFPS    float64
	Manifest        Manifest
	Segments        SegmentSet
	HighIndex       string
	LowIndex        string
	FrameExtension  string
	PreviewFrames   bool
	AudioPeaksExist bool
}

// AssemblePayload builds the registration payload. Optional keys are only
// set when their artifact was produced.
func AssemblePayload(in PayloadInput) RegistrationPayload {
	name := filepath.Base(in.SourceFile)
	p := RegistrationPayload{
		Type:          "video",
		Width:         in.Video.Width,
		Height:        in.Video.Height,
		NativeFPS:     in.Video.NativeFPS,
		FPS:           in.RequestedFPS,
		VisibleFrames: in.Manifest.VisibleFrames,
		TotalFrames:   in.Manifest.TotalFrames(),
		HLSSegments: HLSSegments{
			High: HLSTier{Index: in.HighIndex, Bitrate: in.Segments.High.Bitrate},
			Low:  HLSTier{Index: in.LowIndex, Bitrate: in.Segments.Low.Bitrate},
		},
		StorageKey:               objectstore.JoinKey(in.Prefix, name),
		StorageSectionsKeyPrefix: objectstore.JoinKey(in.Prefix, "sections", QualityHigh),
		StorageFramesManifestKey: objectstore.JoinKey(in.Prefix, FramesManifestFile),
		StorageThumbnailKey:      objectstore.JoinKey(in.Prefix, ThumbnailFile),
		HQFramesExtension:        in.FrameExtension,
		TotalSizeBytes:           in.SourceSize,
		Name:                     name,
		Path:                     "/",
	}
	if in.PreviewFrames {
		p.StorageLowQualitySectionsKeyPrefix = objectstore.JoinKey(in.Prefix, "sections", QualityLow)
	}
	if in.AudioPeaksExist {
		p.StorageAudioPeaksKey = objectstore.JoinKey(in.Prefix, AudioPeaksFile)
	}
	return p
}

// WriteMetadata persists md as indented JSON, replacing any earlier file.
func WriteMetadata(file string, md Metadata) error {
	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := os.WriteFile(file, data, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}
