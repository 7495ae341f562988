package upload

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/your-org/framestream/pkg/storage/objectstore"
	"github.com/your-org/framestream/pkg/tracing"
)

var tracer = otel.Tracer("github.com/your-org/framestream/internal/upload")

// Task maps one local file to its storage key.
type Task struct {
	LocalPath string
	Key       string
}

// Error is the final failure of one file upload.
type Error struct {
	Key      string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("upload %s failed after %d attempt(s): %v", e.Key, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

var retryableStatus = map[int]bool{
	408: true,
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// IsRetryable reports whether err, or any error in its cause chain, is a
// transient HTTP status or a network connection or timeout failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if isTransient(err) {
		return true
	}
	switch u := err.(type) {
	case interface{ Unwrap() error }:
		return IsRetryable(u.Unwrap())
	case interface{ Unwrap() []error }:
		for _, e := range u.Unwrap() {
			if IsRetryable(e) {
				return true
			}
		}
	}
	return false
}

func isTransient(err error) bool {
	if httpErr, ok := err.(*objectstore.HTTPError); ok {
		return retryableStatus[httpErr.StatusCode]
	}
	switch err {
	case context.DeadlineExceeded, os.ErrDeadlineExceeded, io.ErrUnexpectedEOF,
		syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED, syscall.EPIPE, syscall.ETIMEDOUT:
		return true
	}
	if _, ok := err.(*net.OpError); ok {
		return true
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return true
	}
	return false
}

// RetryPolicy shapes the backoff between attempts of one file upload.
type RetryPolicy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Jitter is the multiplicative randomization, 0.2 meaning ±20%.
	Jitter float64
	// MaxElapsed bounds the time spent on one file; the last error is
	// returned once it is reached.
	MaxElapsed time.Duration
}

// DefaultRetryPolicy is 100ms doubling up to 5s, ±20% jitter, 100s total.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Jitter:     0.2,
		MaxElapsed: 100 * time.Second,
	}
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: p.Jitter,
		Multiplier:          2,
		MaxInterval:         p.MaxDelay,
	}
}

// Uploader uploads one file at a time through client, retrying transient
// failures.
type Uploader struct {
	client objectstore.Client
	policy RetryPolicy
	logger *zap.Logger
}

func NewUploader(client objectstore.Client, policy RetryPolicy, logger *zap.Logger) *Uploader {
	return &Uploader{client: client, policy: policy, logger: logger}
}

// Upload returns nil once the file is stored. Non-retryable failures return
// after the first attempt; retryable ones are retried until the policy's
// time budget runs out or ctx is done.
func (u *Uploader) Upload(ctx context.Context, t Task) error {
	ctx, span := tracer.Start(ctx, "upload.File", trace.WithAttributes(attribute.String("storage.key", t.Key)))
	defer span.End()

	var attempts int
	op := func() (struct{}, error) {
		attempts++
		err := u.client.UploadFile(ctx, t.LocalPath, t.Key)
		if err != nil && !IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}
	notify := func(err error, next time.Duration) {
		u.logger.Warn("upload attempt failed, retrying",
			zap.String("key", t.Key),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(u.policy.backOff()),
		backoff.WithMaxElapsedTime(u.policy.MaxElapsed),
		backoff.WithNotify(notify),
	)
	span.SetAttributes(attribute.Int("upload.attempts", attempts))
	if err != nil {
		tracing.Fail(span, err)
		return &Error{Key: t.Key, Attempts: attempts, Err: err}
	}
	return nil
}
