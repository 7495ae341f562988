package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/your-org/framestream/internal/extractor"
)

func TestRun_Success(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.service.Run(context.Background(), "job-1", Request{SourceFile: "/in/clip.mp4", StorageKeyPrefix: "/videos/abc/"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Prefix != "videos/abc" {
		t.Errorf("prefix = %q", res.Prefix)
	}

	if got, want := f.publisher.types(), []string{EventRegistrationRequested, EventArtifactsUploaded}; !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	reg := f.publisher.events[0].value.(RegistrationEvent)
	if reg.JobID != "job-1" || reg.Payload.StorageKey != "videos/abc/clip.mp4" || f.publisher.events[0].key != "job-1" {
		t.Errorf("registration event = %+v", reg)
	}

	if len(f.uploader.calls) != 1 {
		t.Fatalf("upload calls = %d, want 1", len(f.uploader.calls))
	}
	call := f.uploader.calls[0]
	want := uploadCall{"/in/clip.mp4", filepath.Join(f.workDir, "job-1"), "videos/abc", true}
	if call != want {
		t.Errorf("upload call = %+v, want %+v", call, want)
	}

	job, ok := f.service.Get("job-1")
	if !ok || job.Status != StatusCompleted || job.Payload == nil || job.Payload.TotalFrames != 150 {
		t.Errorf("job = %+v", job)
	}
	if _, err := os.Stat(filepath.Join(f.workDir, "job-1")); !os.IsNotExist(err) {
		t.Errorf("work dir not removed: %v", err)
	}
}

func TestRun_KeepWorkDir(t *testing.T) {
	f := newFixture(t, func(p *Params) { p.KeepWorkDir = true })

	if _, err := f.service.Run(context.Background(), "job-1", Request{SourceFile: "/in/clip.mp4", StorageKeyPrefix: "p"}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(f.workDir, "job-1", extractor.ThumbnailFile)); err != nil {
		t.Errorf("artifacts removed: %v", err)
	}
}

func TestRun_RecordsRepairDiagnostics(t *testing.T) {
	f := newFixture(t, nil)
	f.extractor.diagnostics = []string{"[h264 @ 0x1] error while decoding MB"}

	if _, err := f.service.Run(context.Background(), "job-1", Request{SourceFile: "/in/clip.mp4", Repair: true}); err != nil {
		t.Fatal(err)
	}
	job, _ := f.service.Get("job-1")
	if !reflect.DeepEqual(job.RepairDiagnostics, f.extractor.diagnostics) {
		t.Errorf("diagnostics = %q, want %q", job.RepairDiagnostics, f.extractor.diagnostics)
	}
	if reg := f.publisher.events[0].value.(RegistrationEvent); !reg.Repaired {
		t.Error("registration event does not report the repair")
	}
}

func TestRun_ExtractionFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.extractor.err = extractor.ErrCorruption

	_, err := f.service.Run(context.Background(), "job-1", Request{SourceFile: "/in/clip.mp4", StorageKeyPrefix: "p"})
	if !errors.Is(err, extractor.ErrCorruption) {
		t.Fatalf("Run() error = %v, want ErrCorruption", err)
	}
	if f.uploader.callCount() != 0 {
		t.Error("upload ran after extraction failure")
	}
	if got, want := f.publisher.types(), []string{EventArtifactsFailed}; !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	if ev := f.publisher.events[0].value.(FailedEvent); ev.Stage != StageExtract {
		t.Errorf("failed stage = %q, want %q", ev.Stage, StageExtract)
	}
	job, _ := f.service.Get("job-1")
	if job.Status != StatusFailed || job.Error == "" {
		t.Errorf("job = %+v", job)
	}
}

func TestRun_RegistrationFailureSkipsUpload(t *testing.T) {
	f := newFixture(t, nil)
	f.publisher.failOn = EventRegistrationRequested

	if _, err := f.service.Run(context.Background(), "job-1", Request{SourceFile: "/in/clip.mp4"}); err == nil {
		t.Fatal("Run() succeeded without registration")
	}
	if f.uploader.callCount() != 0 {
		t.Error("upload ran without registration")
	}
	if ev := f.publisher.events[0].value.(FailedEvent); ev.Stage != StageRegister {
		t.Errorf("failed stage = %q, want %q", ev.Stage, StageRegister)
	}
}

func TestRun_UploadFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.uploader.err = errors.New("access denied")

	_, err := f.service.Run(context.Background(), "job-1", Request{SourceFile: "/in/clip.mp4", StorageKeyPrefix: "p"})
	if err == nil {
		t.Fatal("Run() succeeded after upload failure")
	}
	if got, want := f.publisher.types(), []string{EventRegistrationRequested, EventArtifactsFailed}; !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	if ev := f.publisher.events[1].value.(FailedEvent); ev.Stage != StageUpload || ev.Error != "access denied" {
		t.Errorf("failed event = %+v", ev)
	}
}

func TestRun_LogsFailedStage(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	f := newFixture(t, func(p *Params) { p.Logger = zap.New(core) })
	f.uploader.err = errors.New("access denied")

	_, _ = f.service.Run(context.Background(), "job-1", Request{SourceFile: "/in/clip.mp4"})

	entries := logs.FilterMessage("job failed").All()
	if len(entries) != 1 {
		t.Fatalf("job failed logged %d times", len(entries))
	}
	if stage := entries[0].ContextMap()["stage"]; stage != StageUpload {
		t.Errorf("logged stage = %v", stage)
	}
}

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		ok   bool
	}{
		{"minimal", Request{SourceFile: "a.mp4"}, true},
		{"full", Request{SourceFile: "a.mp4", FPS: 10, SegmentLength: 4, PrimaryFramesQuality: 2}, true},
		{"no source", Request{}, false},
		{"negative fps", Request{SourceFile: "a.mp4", FPS: -1}, false},
		{"negative segment", Request{SourceFile: "a.mp4", SegmentLength: -2}, false},
		{"quality too high", Request{SourceFile: "a.mp4", PrimaryFramesQuality: 32}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.ok != (err == nil) {
				t.Fatalf("Validate() error = %v, ok %v", err, tt.ok)
			}
			if err != nil && !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("error %v does not wrap ErrInvalidRequest", err)
			}
		})
	}
}

func TestRequestOptions(t *testing.T) {
	off := false
	on := true

	tests := []struct {
		name string
		req  Request
		want extractor.Options
	}{
		{"defaults", Request{}, extractor.Options{SegmentLength: 2}},
		{"preview on", Request{ExtractPreviewFrames: &on}, extractor.Options{SegmentLength: 2}},
		{"preview off", Request{ExtractPreviewFrames: &off}, extractor.Options{SegmentLength: 2, SkipPreviewFrames: true}},
		{
			"explicit",
			Request{FPS: 5, SegmentLength: 6, Repair: true, PrimaryFramesQuality: 3},
			extractor.Options{FPS: 5, SegmentLength: 6, Repair: true, PrimaryFramesQuality: 3},
		},
	}
	for _, tt := range tests {
		if got := tt.req.options(2); got != tt.want {
			t.Errorf("%s: options() = %+v, want %+v", tt.name, got, tt.want)
		}
	}
}

func TestSubmit_RunsInBackground(t *testing.T) {
	f := newFixture(t, nil)

	job, err := f.service.Submit(Request{SourceFile: "/in/clip.mp4", StorageKeyPrefix: "p"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if job.ID == "" || job.Status != StatusQueued {
		t.Errorf("job = %+v", job)
	}
	waitForStatus(t, f.service, job.ID, StatusCompleted)
}

func TestSubmit_InvalidRequest(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.service.Submit(Request{}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("Submit() error = %v, want ErrInvalidRequest", err)
	}
}

func TestSubmit_LimitsConcurrentJobs(t *testing.T) {
	f := newFixture(t, func(p *Params) { p.MaxConcurrent = 1 })
	f.extractor.block = make(chan struct{})

	first, _ := f.service.Submit(Request{SourceFile: "/in/a.mp4"})
	second, _ := f.service.Submit(Request{SourceFile: "/in/b.mp4"})

	waitForStatus(t, f.service, first.ID, StatusExtracting)
	if job, _ := f.service.Get(second.ID); job.Status != StatusQueued {
		t.Errorf("second job status = %q, want queued", job.Status)
	}

	close(f.extractor.block)
	waitForStatus(t, f.service, first.ID, StatusCompleted)
	waitForStatus(t, f.service, second.ID, StatusCompleted)
}

func TestClose_RejectsNewJobs(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.service.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := f.service.Submit(Request{SourceFile: "/in/a.mp4"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit() after Close error = %v, want ErrClosed", err)
	}
}

func TestGet_Unknown(t *testing.T) {
	f := newFixture(t, nil)
	if _, ok := f.service.Get("missing"); ok {
		t.Error("Get() found an unknown job")
	}
}
