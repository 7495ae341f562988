package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/framestream/internal/extractor"
	"github.com/your-org/framestream/pkg/storage/objectstore"
)

type fakeExtractor struct {
	mu    sync.Mutex
	err   error
	block chan struct{}
	opts  []extractor.Options
	// diagnostics, when set, makes the run report a repaired source.
	diagnostics []string
}

func (f *fakeExtractor) Extract(ctx context.Context, source, outDir, prefix string, opts extractor.Options) (*extractor.Result, error) {
	f.mu.Lock()
	f.opts = append(f.opts, opts)
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(outDir, extractor.ThumbnailFile), []byte("jpeg"), 0o644); err != nil {
		return nil, err
	}

	p := strings.Trim(prefix, "/")
	name := filepath.Base(source)
	diagnostics := f.diagnostics
	return &extractor.Result{
		SourceFile:        source,
		Prefix:            p,
		Repaired:          len(diagnostics) > 0,
		RepairDiagnostics: diagnostics,
		Payload: extractor.RegistrationPayload{
			Type:        "video",
			Name:        name,
			StorageKey:  objectstore.JoinKey(p, name),
			TotalFrames: 150,
		},
	}, nil
}

type uploadCall struct {
	source, dir, prefix string
	dirExisted          bool
}

type fakeUploader struct {
	mu    sync.Mutex
	err   error
	calls []uploadCall
}

func (f *fakeUploader) UploadArtifacts(_ context.Context, sourceFile, artifactsDir, prefix string) error {
	_, statErr := os.Stat(filepath.Join(artifactsDir, extractor.ThumbnailFile))
	f.mu.Lock()
	f.calls = append(f.calls, uploadCall{sourceFile, artifactsDir, prefix, statErr == nil})
	f.mu.Unlock()
	return f.err
}

func (f *fakeUploader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type published struct {
	key, eventType string
	value          any
}

type fakePublisher struct {
	mu     sync.Mutex
	failOn string
	events []published
}

func (f *fakePublisher) PublishJSON(_ context.Context, key, eventType string, v any) error {
	if eventType == f.failOn {
		return errors.New("broker unavailable")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, published{key, eventType, v})
	return nil
}

func (f *fakePublisher) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		out = append(out, e.eventType)
	}
	return out
}

type fixture struct {
	extractor *fakeExtractor
	uploader  *fakeUploader
	publisher *fakePublisher
	workDir   string
	service   *Service
}

func newFixture(t *testing.T, tweak func(*Params)) *fixture {
	t.Helper()
	f := &fixture{
		extractor: &fakeExtractor{},
		uploader:  &fakeUploader{},
		publisher: &fakePublisher{},
		workDir:   t.TempDir(),
	}
	p := Params{
		Extractor:     f.extractor,
		Uploader:      f.uploader,
		Publisher:     f.publisher,
		Logger:        zap.NewNop(),
		WorkDir:       f.workDir,
		MaxConcurrent: 2,
	}
	if tweak != nil {
		tweak(&p)
	}
	f.service = NewService(p)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.service.Close(ctx)
	})
	return f
}

func waitForStatus(t *testing.T, s *Service, id string, want Status) Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		job, ok := s.Get(id)
		if ok && job.Status == want {
			return job
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s status = %q, want %q", id, job.Status, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
