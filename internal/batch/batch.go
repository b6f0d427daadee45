// Package batch fans per-item work out over a bounded pool of workers, each
// holding its own store session.
package batch

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"birdseed/internal/model"
)

type Options struct {
	// Number of workers; values below 1 mean 1. With 1 worker items run in
	// input order.
	Concurrency int
	// Return a PartialBatchFailureError when every item failed.
	FailOnAll bool
}

// Failure is one item that did not complete.
type Failure struct {
	ID    string
	Err   error
	Stack string
}

type Result struct {
	Total     int
	Succeeded []string
	Failed    []Failure
}

// Driver runs per-item functions with a session of type S per worker.
type Driver[S any] struct {
	open  func(ctx context.Context) (S, error)
	close func(S) error
	opts  Options
	log   zerolog.Logger
}

func New[S any](open func(ctx context.Context) (S, error), close func(S) error, opts Options, log zerolog.Logger) *Driver[S] {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Driver[S]{open: open, close: close, opts: opts, log: log}
}

// Run calls fn once per id. Item failures, panics included, are recorded and
// never stop sibling items. The returned error is non-nil only when a
// session cannot be opened, ctx ends, or FailOnAll is set and nothing
// succeeded.
func (d *Driver[S]) Run(ctx context.Context, ids []string, fn func(ctx context.Context, sess S, id string) error) (Result, error) {
	res := Result{Total: len(ids)}
	if len(ids) == 0 {
		return res, nil
	}
	workers := min(d.opts.Concurrency, len(ids))
	outcomes := make([]error, len(ids))
	done := make([]bool, len(ids))
	var mu sync.Mutex

	jobs := make(chan int)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for i := range ids {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			sess, err := d.open(gctx)
			if err != nil {
				return fmt.Errorf("open worker session: %w", err)
			}
			defer func() { _ = d.close(sess) }()
			for i := range jobs {
				err := d.call(gctx, sess, ids[i], fn)
				mu.Lock()
				outcomes[i], done[i] = err, true
				mu.Unlock()
			}
			return nil
		})
	}
	runErr := g.Wait()

	for i, id := range ids {
		switch {
		case !done[i]:
		case outcomes[i] == nil:
			res.Succeeded = append(res.Succeeded, id)
		default:
			f := Failure{ID: id, Err: outcomes[i], Stack: fmt.Sprintf("%+v", outcomes[i])}
			res.Failed = append(res.Failed, f)
			d.log.Error().Err(f.Err).Str("id", id).Str("stack", f.Stack).Msg("batch item failed")
		}
	}
	if runErr != nil {
		return res, runErr
	}
	if d.opts.FailOnAll && len(res.Failed) == res.Total {
		return res, &model.PartialBatchFailureError{Failed: len(res.Failed), Total: res.Total}
	}
	return res, nil
}

func (d *Driver[S]) call(ctx context.Context, sess S, id string, fn func(context.Context, S, string) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()
	if err := fn(ctx, sess, id); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// Pending drops every id for which done reports true, keeping order. It is
// the filter behind collect-all-once runs.
func Pending(ctx context.Context, ids []string, done func(context.Context, string) (bool, error)) ([]string, error) {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		ok, err := done(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("check %q: %w", id, err)
		}
		if !ok {
			out = append(out, id)
		}
	}
	return out, nil
}
