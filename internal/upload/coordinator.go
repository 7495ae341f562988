package upload

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/framestream/pkg/storage/objectstore"
	"github.com/your-org/framestream/pkg/tracing"
)

// DefaultMaxWorkers is the default number of concurrent uploads.
const DefaultMaxWorkers = 10

// Tasks lists the source file followed by every regular file under
// artifactsDir, each keyed as prefix/relative/path with forward slashes.
// A file whose key is already taken is skipped, so a repaired source kept
// inside artifactsDir is uploaded once.
func Tasks(sourceFile, artifactsDir, prefix string) ([]Task, error) {
	tasks := []Task{{LocalPath: sourceFile, Key: objectstore.JoinKey(prefix, filepath.Base(sourceFile))}}
	seen := map[string]bool{tasks[0].Key: true}

	err := filepath.WalkDir(artifactsDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(artifactsDir, p)
		if err != nil {
			return err
		}
		k := objectstore.JoinKey(prefix, path.Clean(filepath.ToSlash(rel)))
		if seen[k] {
			return nil
		}
		seen[k] = true
		tasks = append(tasks, Task{LocalPath: p, Key: k})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk artifacts %s: %w", artifactsDir, err)
	}
	return tasks, nil
}

// Coordinator uploads a job's files on a bounded pool of workers.
type Coordinator struct {
	uploader   *Uploader
	maxWorkers int
	logger     *zap.Logger
}

func NewCoordinator(uploader *Uploader, maxWorkers int, logger *zap.Logger) *Coordinator {
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	return &Coordinator{uploader: uploader, maxWorkers: maxWorkers, logger: logger}
}

// UploadArtifacts uploads sourceFile and the contents of artifactsDir under
// prefix.
func (c *Coordinator) UploadArtifacts(ctx context.Context, sourceFile, artifactsDir, prefix string) error {
	tasks, err := Tasks(sourceFile, artifactsDir, prefix)
	if err != nil {
		return err
	}
	return c.Upload(ctx, tasks)
}

// Upload runs every task and returns the first failure. A failure cancels
// the context seen by in-flight uploads and tasks that have not started are
// skipped. Upload returns only after every started upload has returned.
func (c *Coordinator) Upload(ctx context.Context, tasks []Task) error {
	ctx, span := tracer.Start(ctx, "upload.Artifacts")
	defer span.End()
	span.SetAttributes(attribute.Int("upload.tasks", len(tasks)))

	var uploaded atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxWorkers)

	submitted := 0
	for _, t := range tasks {
		if gctx.Err() != nil {
			break
		}
		submitted++
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := c.uploader.Upload(gctx, t); err != nil {
				c.logger.Error("upload failed", zap.String("key", t.Key), zap.Error(err))
				return err
			}
			uploaded.Add(1)
			return nil
		})
	}

	err := g.Wait()
	if err == nil && submitted < len(tasks) {
		err = fmt.Errorf("%d of %d uploads not started: %w", len(tasks)-submitted, len(tasks), context.Cause(ctx))
	}
	c.logger.Info("artifact upload finished",
		zap.Int("tasks", len(tasks)),
		zap.Int64("uploaded", uploaded.Load()),
		zap.Bool("aborted", err != nil),
	)
	if err != nil {
		tracing.Fail(span, err)
		return err
	}
	return nil
}
