package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/your-org/framestream/internal/extractor"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusExtracting Status = "extracting"
	StatusUploading  Status = "uploading"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Stages reported in failure events.
const (
	StageExtract  = "extract"
	StageRegister = "register"
	StageUpload   = "upload"
)

var (
	// ErrInvalidRequest wraps every request validation failure.
	ErrInvalidRequest = errors.New("invalid job request")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("job service closed")
)

// Request describes one video to process.
type Request struct {
	SourceFile       string  `json:"source_file"`
	StorageKeyPrefix string  `json:"storage_key_prefix"`
	FPS              float64 `json:"fps"`
	SegmentLength    int     `json:"segment_length"`
	Repair           bool    `json:"repair"`
	// ExtractPreviewFrames defaults to true when omitted.
	ExtractPreviewFrames *bool `json:"extract_preview_frames,omitempty"`
	PrimaryFramesQuality int   `json:"primary_frames_quality"`
}

// Validate reports malformed requests before any work starts.
func (r Request) Validate() error {
	switch {
	case r.SourceFile == "":
		return fmt.Errorf("%w: source_file is required", ErrInvalidRequest)
	case r.FPS < 0:
		return fmt.Errorf("%w: fps must not be negative", ErrInvalidRequest)
	case r.SegmentLength < 0:
		return fmt.Errorf("%w: segment_length must not be negative", ErrInvalidRequest)
	case r.PrimaryFramesQuality < 0 || r.PrimaryFramesQuality > 31:
		return fmt.Errorf("%w: primary_frames_quality must be between 0 and 31", ErrInvalidRequest)
	}
	return nil
}

func (r Request) options(defaultSegmentLength int) extractor.Options {
	opts := extractor.Options{
		FPS:                  r.FPS,
		SegmentLength:        r.SegmentLength,
		Repair:               r.Repair,
		SkipPreviewFrames:    r.ExtractPreviewFrames != nil && !*r.ExtractPreviewFrames,
		PrimaryFramesQuality: r.PrimaryFramesQuality,
	}
	if opts.SegmentLength == 0 {
		opts.SegmentLength = defaultSegmentLength
	}
	return opts
}

// Job is a snapshot of a job's state.
type Job struct {
	ID      string                         `json:"id"`
	Status  Status                         `json:"status"`
	Request Request                        `json:"request"`
	Error   string                         `json:"error,omitempty"`
	Payload *extractor.RegistrationPayload `json:"registration_payload,omitempty"`
	// RepairDiagnostics are the decoder errors that caused a repair.
	RepairDiagnostics []string  `json:"repair_diagnostics,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Extractor produces the artifact set of one video.
type Extractor interface {
	Extract(ctx context.Context, source, outDir, prefix string, opts extractor.Options) (*extractor.Result, error)
}

// Uploader stores the source and every artifact under a prefix.
type Uploader interface {
	UploadArtifacts(ctx context.Context, sourceFile, artifactsDir, prefix string) error
}

// Publisher emits job events.
type Publisher interface {
	PublishJSON(ctx context.Context, key, eventType string, v any) error
}

type Params struct {
	Extractor Extractor
	Uploader  Uploader
	Publisher Publisher
	Logger    *zap.Logger
	// WorkDir holds one artifacts directory per job.
	WorkDir       string
	SegmentLength int
	KeepWorkDir   bool
	MaxConcurrent int
}

// Service runs extraction and upload jobs and tracks their status.
type Service struct {
	extractor     Extractor
	uploader      Uploader
	publisher     Publisher
	logger        *zap.Logger
	workDir       string
	segmentLength int
	keepWorkDir   bool

	mu     sync.RWMutex
	jobs   map[string]*Job
	closed bool

	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewService constructs a job Service.
func NewService(p Params) *Service {
	if p.MaxConcurrent <= 0 {
		p.MaxConcurrent = 1
	}
	if p.SegmentLength <= 0 {
		p.SegmentLength = extractor.DefaultSegmentLength
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		extractor:     p.Extractor,
		uploader:      p.Uploader,
		publisher:     p.Publisher,
		logger:        p.Logger,
		workDir:       p.WorkDir,
		segmentLength: p.SegmentLength,
		keepWorkDir:   p.KeepWorkDir,
		jobs:          map[string]*Job{},
		sem:           make(chan struct{}, p.MaxConcurrent),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Submit validates req and runs it in the background. At most MaxConcurrent
// jobs run at once; the rest stay queued.
func (s *Service) Submit(req Request) (Job, error) {
	if err := req.Validate(); err != nil {
		return Job{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Job{}, ErrClosed
	}
	job := s.trackLocked(uuid.NewString(), req)
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		select {
		case s.sem <- struct{}{}:
		case <-s.ctx.Done():
			s.fail(s.ctx, job.ID, StageExtract, s.ctx.Err())
			return
		}
		defer func() { <-s.sem }()
		_, _ = s.Run(s.ctx, job.ID, req)
	}()
	return job, nil
}

// Get returns a snapshot of the job with id.
func (s *Service) Get(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Run processes req synchronously: extract, request registration, upload,
// then report the outcome. Any stage failure ends the job.
func (s *Service) Run(ctx context.Context, id string, req Request) (*extractor.Result, error) {
	s.mu.Lock()
	if _, ok := s.jobs[id]; !ok {
		s.trackLocked(id, req)
	}
	s.mu.Unlock()

	logger := s.logger.With(zap.String("job_id", id), zap.String("source_file", req.SourceFile))
	outDir := filepath.Join(s.workDir, id)
	if !s.keepWorkDir {
		defer func() {
			if err := os.RemoveAll(outDir); err != nil {
				logger.Warn("remove work dir", zap.Error(err))
			}
		}()
	}

	s.setStatus(id, StatusExtracting)
	logger.Info("extraction started")
	res, err := s.extractor.Extract(ctx, req.SourceFile, outDir, req.StorageKeyPrefix, req.options(s.segmentLength))
	if err != nil {
		return nil, s.fail(ctx, id, StageExtract, err)
	}
	s.recordExtraction(id, res)
	if res.Repaired {
		logger.Warn("source repaired before extraction", zap.Strings("diagnostics", res.RepairDiagnostics))
	}

	err = s.publisher.PublishJSON(ctx, id, EventRegistrationRequested, RegistrationEvent{
		JobID:            id,
		Repaired:         res.Repaired,
		SourceFile:       res.SourceFile,
		StorageKeyPrefix: res.Prefix,
		Payload:          res.Payload,
		CreatedAt:        time.Now().UTC(),
	})
	if err != nil {
		return nil, s.fail(ctx, id, StageRegister, err)
	}

	s.setStatus(id, StatusUploading)
	logger.Info("upload started", zap.String("storage_key_prefix", res.Prefix))
	if err := s.uploader.UploadArtifacts(ctx, res.SourceFile, outDir, res.Prefix); err != nil {
		return nil, s.fail(ctx, id, StageUpload, err)
	}

	err = s.publisher.PublishJSON(ctx, id, EventArtifactsUploaded, UploadedEvent{
		JobID:            id,
		StorageKeyPrefix: res.Prefix,
		StorageKey:       res.Payload.StorageKey,
		CreatedAt:        time.Now().UTC(),
	})
	if err != nil {
		logger.Error("publish uploaded event", zap.Error(err))
	}

	s.setStatus(id, StatusCompleted)
	logger.Info("job completed", zap.Int("total_frames", res.Payload.TotalFrames))
	return res, nil
}

// Close stops accepting jobs and waits for running ones until ctx is done,
// then cancels whatever is left.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	defer s.cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) trackLocked(id string, req Request) Job {
	now := time.Now().UTC()
	job := &Job{ID: id, Status: StatusQueued, Request: req, CreatedAt: now, UpdatedAt: now}
	s.jobs[id] = job
	return *job
}

func (s *Service) setStatus(id string, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		job.Status = status
		job.UpdatedAt = time.Now().UTC()
	}
}

func (s *Service) recordExtraction(id string, res *extractor.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		payload := res.Payload
		job.Payload = &payload
		job.RepairDiagnostics = res.RepairDiagnostics
		job.UpdatedAt = time.Now().UTC()
	}
}

// fail marks the job failed, publishes the failure and returns err wrapped
// with the stage.
func (s *Service) fail(ctx context.Context, id, stage string, err error) error {
	s.mu.Lock()
	if job, ok := s.jobs[id]; ok {
		job.Status = StatusFailed
		job.Error = err.Error()
		job.UpdatedAt = time.Now().UTC()
	}
	s.mu.Unlock()

	s.logger.Error("job failed", zap.String("job_id", id), zap.String("stage", stage), zap.Error(err))

	// The job context may already be cancelled; the failure still gets reported.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	perr := s.publisher.PublishJSON(pubCtx, id, EventArtifactsFailed, FailedEvent{
		JobID:     id,
		Stage:     stage,
		Error:     err.Error(),
		CreatedAt: time.Now().UTC(),
	})
	if perr != nil {
		s.logger.Error("publish failed event", zap.String("job_id", id), zap.Error(perr))
	}
	return fmt.Errorf("%s: %w", stage, err)
}
