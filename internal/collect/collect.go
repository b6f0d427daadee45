// Package collect implements the collection operations: one entity or a set
// of entities, fanned out over a worker pool, each run reporting a Summary.
package collect

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"birdseed/internal/batch"
	"birdseed/internal/metrics"
	"birdseed/internal/model"
	"birdseed/internal/resolve"
	"birdseed/internal/scoring"
	"birdseed/internal/snapshot"
	"birdseed/internal/store"
	"birdseed/internal/xclient"
)

type Options struct {
	Concurrency int
	// Fail a batch only when every item failed.
	FailOnAll bool
}

// Collector runs collections from a Source into a Store.
type Collector struct {
	st       *store.Store
	src      xclient.Source
	scorer   scoring.Scorer
	resolver *resolve.Resolver
	writer   *snapshot.Writer
	opts     Options
	log      zerolog.Logger
	now      func() time.Time
}

func New(st *store.Store, src xclient.Source, scorer scoring.Scorer, resolver *resolve.Resolver, opts Options, log zerolog.Logger) *Collector {
	return &Collector{
		st:       st,
		src:      src,
		scorer:   scorer,
		resolver: resolver,
		writer:   snapshot.New(resolver, log),
		opts:     opts,
		log:      log,
		now:      time.Now,
	}
}

// Resolver exposes the resolver shared by every operation.
func (c *Collector) Resolver() *resolve.Resolver { return c.resolver }

// StoredProfile returns the raw payload last applied to the profile known
// as id. It backs the heuristic scorer.
func (c *Collector) StoredProfile(ctx context.Context, id string) (model.Payload, error) {
	p, err := c.resolver.Profile(ctx, c.st, id, false)
	if err != nil {
		return nil, err
	}
	return p.Raw, nil
}

type itemFunc func(ctx context.Context, st *store.Store, id string) (model.Summary, error)

// runBatch applies fn to every id with one store session per worker. With
// allOnce set, ids whose profile already satisfies done are skipped.
func (c *Collector) runBatch(ctx context.Context, op string, ids []string, allOnce bool, done func(store.Progress) bool, fn itemFunc) (model.Summary, error) {
	start := time.Now()
	var (
		mu  sync.Mutex
		sum model.Summary
	)
	ids, invalid := model.NormalizeIDs(ids)
	for _, raw := range invalid {
		c.log.Warn().Str("op", op).Str("id", raw).Msg("skipping invalid id")
	}
	sum.Errors += len(invalid)
	if allOnce {
		pending, err := batch.Pending(ctx, ids, func(ctx context.Context, id string) (bool, error) {
			return c.collected(ctx, id, done)
		})
		if err != nil {
			return sum, err
		}
		c.log.Info().Str("op", op).Int("total", len(ids)).Int("pending", len(pending)).Msg("collect all once")
		ids = pending
	}

	d := batch.New(c.st.Session, (*store.Store).Close, batch.Options{Concurrency: c.opts.Concurrency, FailOnAll: c.opts.FailOnAll}, c.log)
	res, err := d.Run(ctx, ids, func(ctx context.Context, sess *store.Store, id string) error {
		s, err := fn(ctx, sess, id)
		mu.Lock()
		sum.Add(s)
		mu.Unlock()
		return err
	})
	sum.Errors += len(res.Failed)
	if err == nil && c.opts.FailOnAll && len(invalid) > 0 && len(res.Succeeded) == 0 && len(ids) == len(res.Failed) {
		err = &model.PartialBatchFailureError{Failed: len(invalid) + len(res.Failed), Total: len(invalid) + res.Total}
	}
	metrics.ObserveCollect(op, start, sum.Scanned, sum.Updated, sum.Errors)
	c.log.Info().Str("op", op).Int("total", res.Total).Int("failed", len(res.Failed)).
		Int("scanned", sum.Scanned).Int("updated", sum.Updated).Dur("elapsed", time.Since(start)).Msg("batch finished")
	return sum, err
}

// collected reports whether the profile known as id has a prior successful
// run by the done predicate. Unknown IDs are never collected.
func (c *Collector) collected(ctx context.Context, id string, done func(store.Progress) bool) (bool, error) {
	p, err := c.resolver.Profile(ctx, c.st, id, false)
	if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrInvalidID) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	pr, err := c.st.ProfileProgress(ctx, p.ID)
	if err != nil {
		return false, err
	}
	return done(pr), nil
}

// recordSourceError stores the unavailability code on the profile.
func recordSourceError(ctx context.Context, st *store.Store, log zerolog.Logger, p *model.Profile, se *model.SourceError) error {
	code := se.Code
	log.Warn().Str("id", p.ExternalID).Int("code", code).Str("reason", se.Reason).Msg("source unavailable")
	return st.SetProfileError(ctx, p.ID, &code)
}

func observe(op string, start time.Time, sum model.Summary) {
	metrics.ObserveCollect(op, start, sum.Scanned, sum.Updated, sum.Errors)
}
