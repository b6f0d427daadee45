package collect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"birdseed/internal/model"
	"birdseed/internal/store"
)

type EdgeOptions struct {
	// Apply the profile payload of every edge target.
	Hydrate bool
	// Stop after this many edges and keep the list as aborted; 0 means
	// unlimited.
	Limit int
}

// Edges collects one account's followers or followings into a new list. The
// list becomes complete on exhaustion, aborted on reaching the limit, and is
// deleted on any error.
func (c *Collector) Edges(ctx context.Context, id string, kind model.EdgeKind, opts EdgeOptions) (model.Summary, error) {
	start := time.Now()
	sum, err := c.edges(ctx, c.st, id, kind, opts, NewSeenCache())
	observe(string(kind), start, sum)
	return sum, err
}

// EdgesBatch is Edges over many IDs sharing one SeenCache. With allOnce set,
// profiles that already have a complete list of kind are skipped.
func (c *Collector) EdgesBatch(ctx context.Context, ids []string, kind model.EdgeKind, opts EdgeOptions, allOnce bool) (model.Summary, error) {
	seen := NewSeenCache()
	return c.runBatch(ctx, string(kind), ids, allOnce,
		func(pr store.Progress) bool { return pr.CompleteLists[kind] },
		func(ctx context.Context, st *store.Store, id string) (model.Summary, error) {
			return c.edges(ctx, st, id, kind, opts, seen)
		})
}

func (c *Collector) edges(ctx context.Context, st *store.Store, id string, kind model.EdgeKind, opts EdgeOptions, seen *SeenCache) (model.Summary, error) {
	var sum model.Summary
	p, err := c.resolver.Profile(ctx, st, id, true)
	if err != nil {
		return sum, err
	}
	runID := uuid.NewString()
	list, err := st.CreateList(ctx, p.ID, kind, runID, c.now().UTC())
	if err != nil {
		return sum, err
	}
	log := c.log.With().Str("id", p.ExternalID).Str("kind", string(kind)).Str("run_id", runID).Logger()

	rollback := func(cause error) error {
		if err := st.DeleteList(context.WithoutCancel(ctx), list.ID); err != nil {
			log.Error().Err(err).Msg("delete partial list")
		}
		return cause
	}

	seq := c.src.Followers
	if kind == model.Followings {
		seq = c.src.Followings
	}
	status := model.ListComplete
	full := false
	for edge, err := range seq(ctx, p.ExternalID, opts.Hydrate) {
		// anything past the limit means the list was cut short
		if full {
			status = model.ListAborted
			break
		}
		if err != nil {
			var se *model.SourceError
			if errors.As(err, &se) {
				sum.Errors++
				return sum, rollback(recordSourceError(ctx, st, c.log, p, se))
			}
			log.Error().Err(err).Int("scanned", sum.Scanned).Msg("edge collection failed")
			return sum, rollback(err)
		}
		sum.Scanned++
		target, err := c.edgeTarget(ctx, st, edge.ID, edge.Profile, seen)
		if err != nil {
			return sum, rollback(fmt.Errorf("edge %q: %w", edge.ID, err))
		}
		if err := st.AddListMember(ctx, list.ID, target.ID); err != nil {
			return sum, rollback(err)
		}
		sum.Updated++
		full = opts.Limit > 0 && sum.Scanned >= opts.Limit
	}
	if err := st.FinishList(ctx, list.ID, status, c.now().UTC()); err != nil {
		return sum, rollback(err)
	}
	log.Info().Str("status", string(status)).Int("size", sum.Updated).Msg("edges collected")
	return sum, nil
}

// edgeTarget resolves an edge, applying its payload the first time the run
// sees it.
func (c *Collector) edgeTarget(ctx context.Context, st *store.Store, id string, payload model.Payload, seen *SeenCache) (*model.Profile, error) {
	p, err := c.resolver.Profile(ctx, st, id, true)
	if err != nil {
		return nil, err
	}
	if payload == nil || !seen.Add(p.ExternalID) {
		return p, nil
	}
	if _, err := c.writer.ApplyProfile(ctx, st, p, payload); err != nil {
		return nil, err
	}
	return p, nil
}
