package jobs

import (
	"time"

	"github.com/your-org/framestream/internal/extractor"
)

// Event types published for every job, keyed by job id.
const (
	EventRegistrationRequested = "registration.requested"
	EventArtifactsUploaded     = "artifacts.uploaded"
	EventArtifactsFailed       = "artifacts.failed"
)

// RegistrationEvent asks the annotation platform to register the item
// described by Payload.
type RegistrationEvent struct {
	JobID            string                        `json:"job_id"`
	Repaired         bool                          `json:"repaired"`
	SourceFile       string                        `json:"source_file"`
	StorageKeyPrefix string                        `json:"storage_key_prefix"`
	Payload          extractor.RegistrationPayload `json:"registration_payload"`
	CreatedAt        time.Time                     `json:"created_at"`
}

// UploadedEvent reports that every artifact is in the object store.
type UploadedEvent struct {
	JobID            string    `json:"job_id"`
	StorageKeyPrefix string    `json:"storage_key_prefix"`
	StorageKey       string    `json:"storage_key"`
	CreatedAt        time.Time `json:"created_at"`
}

// FailedEvent reports the stage a job failed in.
type FailedEvent struct {
	JobID     string    `json:"job_id"`
	Stage     string    `json:"stage"`
	Error     string    `json:"error"`
	CreatedAt time.Time `json:"created_at"`
}
