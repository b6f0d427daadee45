package collect

import (
	"context"
	"errors"
	"time"

	"birdseed/internal/model"
	"birdseed/internal/sets"
	"birdseed/internal/store"
)

// Profile fetches one account and applies it, tagging the profile into every
// named profile set. An unavailable account is recorded on the profile and
// counted as an error.
func (c *Collector) Profile(ctx context.Context, id string, profileSets []string) (model.Summary, error) {
	start := time.Now()
	tagger, err := sets.NewTagger(ctx, c.st, model.ProfileSet, profileSets)
	if err != nil {
		return model.Summary{}, err
	}
	sum, err := c.profile(ctx, c.st, id, tagger)
	observe("profile", start, sum)
	return sum, err
}

// Profiles is Profile over many IDs. With allOnce set, profiles that already
// have a snapshot are skipped.
func (c *Collector) Profiles(ctx context.Context, ids, profileSets []string, allOnce bool) (model.Summary, error) {
	tagger, err := sets.NewTagger(ctx, c.st, model.ProfileSet, profileSets)
	if err != nil {
		return model.Summary{}, err
	}
	return c.runBatch(ctx, "profiles", ids, allOnce,
		func(pr store.Progress) bool { return pr.Snapshots > 0 },
		func(ctx context.Context, st *store.Store, id string) (model.Summary, error) {
			return c.profile(ctx, st, id, tagger)
		})
}

func (c *Collector) profile(ctx context.Context, st *store.Store, id string, tagger *sets.Tagger) (model.Summary, error) {
	sum := model.Summary{Scanned: 1}
	p, err := c.resolver.Profile(ctx, st, id, true)
	if err != nil {
		return model.Summary{}, err
	}
	if err := tagger.Tag(ctx, st, p.ID); err != nil {
		return sum, err
	}
	payload, err := c.src.FetchProfile(ctx, p.ExternalID)
	var se *model.SourceError
	if errors.As(err, &se) {
		sum.Errors++
		return sum, recordSourceError(ctx, st, c.log, p, se)
	}
	if err != nil {
		return sum, err
	}
	changed, err := c.writer.ApplyProfile(ctx, st, p, payload)
	if err != nil {
		return sum, err
	}
	if changed {
		sum.Updated++
	}
	c.log.Debug().Str("id", p.ExternalID).Bool("changed", changed).Msg("profile collected")
	return sum, nil
}
