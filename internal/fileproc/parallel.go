// Package fileproc provides concurrent file processing utilities.
package fileproc

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/neural-garage/tools/pkg/analyzer"
	"github.com/neural-garage/tools/pkg/source"
)

// ProcessingError represents an error that occurred while processing a file.
type ProcessingError struct {
	Path string
	Err  error
}

func (e ProcessingError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e ProcessingError) Unwrap() error {
	return e.Err
}

// ProcessingErrors collects multiple file processing errors.
type ProcessingErrors struct {
	Errors []ProcessingError
	mu     sync.Mutex
}

// Add appends an error to the collection (thread-safe).
func (e *ProcessingErrors) Add(path string, err error) {
	e.mu.Lock()
	e.Errors = append(e.Errors, ProcessingError{Path: path, Err: err})
	e.mu.Unlock()
}

// HasErrors returns true if any errors were collected.
func (e *ProcessingErrors) HasErrors() bool {
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Errors) > 0
}

// Error implements the error interface.
func (e *ProcessingErrors) Error() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d files failed to process (first: %v)", len(e.Errors), e.Errors[0])
}

// Unwrap exposes every collected error to errors.Is and errors.As.
func (e *ProcessingErrors) Unwrap() []error {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]error, len(e.Errors))
	for i := range e.Errors {
		out[i] = e.Errors[i]
	}
	return out
}

// DefaultWorkerMultiplier is the multiplier applied to NumCPU for worker count.
// 2x suits the mix of file reads and CGO parsing.
const DefaultWorkerMultiplier = 2

// ErrFileTooLarge is recorded for files over the configured size limit.
var ErrFileTooLarge = errors.New("file exceeds size limit")

// Options tunes a parallel run.
type Options struct {
	// Workers bounds concurrency. Zero means 2x NumCPU.
	Workers int
	// MaxFileSize skips larger files. Zero means no limit.
	MaxFileSize int64
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.NumCPU() * DefaultWorkerMultiplier
}

// MapSources reads every file from src and calls fn for it on a bounded
// worker pool, one task per file. Results come back in input order with
// failed files left out; per-file failures are collected in the returned
// ProcessingErrors instead of stopping the run.
//
// Cancellation is checked before each task starts. Once ctx is done no new
// task runs, results of tasks that were in flight are discarded and the
// context error is returned.
// Progress is tracked via context using analyzer.WithTracker.
func MapSources[T any](
	ctx context.Context,
	files []string,
	src source.ContentSource,
	opts Options,
	fn func(ctx context.Context, path string, content []byte) (T, error),
) ([]T, *ProcessingErrors, error) {
	errs := &ProcessingErrors{}
	if len(files) == 0 {
		return nil, errs, ctx.Err()
	}

	tracker := analyzer.TrackerFromContext(ctx)
	if tracker != nil {
		tracker.Add(len(files))
	}

	slots := make([]T, len(files))
	ok := make([]bool, len(files))

	p := pool.New().WithMaxGoroutines(opts.workers()).WithContext(ctx)
	for i, path := range files {
		p.Go(func(ctx context.Context) error {
			defer func() {
				if tracker != nil {
					tracker.Tick(path)
				}
			}()

			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			content, err := src.Read(path)
			if err != nil {
				errs.Add(path, err)
				return nil
			}
			if opts.MaxFileSize > 0 && int64(len(content)) > opts.MaxFileSize {
				errs.Add(path, fmt.Errorf("%w: %d bytes (limit: %d)", ErrFileTooLarge, len(content), opts.MaxFileSize))
				return nil
			}

			result, err := fn(ctx, path, content)
			if err != nil {
				errs.Add(path, err)
				return nil
			}
			slots[i] = result
			ok[i] = true
			return nil
		})
	}
	_ = p.Wait()

	if err := ctx.Err(); err != nil {
		return nil, errs, err
	}

	results := make([]T, 0, len(files))
	for i := range slots {
		if ok[i] {
			results = append(results, slots[i])
		}
	}
	return results, errs, nil
}
