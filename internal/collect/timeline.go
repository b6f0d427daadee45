package collect

import (
	"context"
	"time"

	"birdseed/internal/backfill"
	"birdseed/internal/model"
	"birdseed/internal/sets"
	"birdseed/internal/store"
	"birdseed/internal/xclient"
)

// TimelineOptions are the backfill knobs plus the tweet sets every written
// tweet is tagged into.
type TimelineOptions struct {
	backfill.Options
	TweetSets []string
}

// Timeline walks one account's timeline until the backfill tracker stops.
func (c *Collector) Timeline(ctx context.Context, id string, opts TimelineOptions) (model.Summary, error) {
	start := time.Now()
	tagger, err := sets.NewTagger(ctx, c.st, model.TweetSet, opts.TweetSets)
	if err != nil {
		return model.Summary{}, err
	}
	sum, err := c.timeline(ctx, c.st, id, opts.Options, tagger)
	observe("timeline", start, sum)
	return sum, err
}

// Timelines is Timeline over many IDs. With allOnce set, profiles that
// already have tweets are skipped.
func (c *Collector) Timelines(ctx context.Context, ids []string, opts TimelineOptions, allOnce bool) (model.Summary, error) {
	tagger, err := sets.NewTagger(ctx, c.st, model.TweetSet, opts.TweetSets)
	if err != nil {
		return model.Summary{}, err
	}
	return c.runBatch(ctx, "timelines", ids, allOnce,
		func(pr store.Progress) bool { return pr.Tweets > 0 },
		func(ctx context.Context, st *store.Store, id string) (model.Summary, error) {
			return c.timeline(ctx, st, id, opts.Options, tagger)
		})
}

func (c *Collector) timeline(ctx context.Context, st *store.Store, id string, opts backfill.Options, tagger *sets.Tagger) (model.Summary, error) {
	p, err := c.resolver.Profile(ctx, st, id, true)
	if err != nil {
		return model.Summary{}, err
	}
	known, err := st.KnownTweetIDs(ctx, p.KnownIDs())
	if err != nil {
		return model.Summary{}, err
	}
	now := c.now()
	tracker := backfill.New(opts, known, p.TweetBackfilled, now)
	seq := c.src.Timeline(ctx, p.ExternalID, xclient.TimelineQuery{Since: opts.Cutoff(now)})

	res, err := tracker.Run(ctx, seq, func(ctx context.Context, payload model.Payload) error {
		tw, _, err := c.writer.ApplyTweet(ctx, st, p.ID, payload)
		if err != nil {
			return err
		}
		return tagger.Tag(ctx, st, tw.ID)
	})
	sum := model.Summary{Scanned: res.Scanned, Updated: res.Updated}
	log := c.log.With().Str("id", p.ExternalID).Str("state", string(res.State)).
		Int("scanned", res.Scanned).Int("updated", res.Updated).Logger()
	if err != nil {
		log.Error().Err(err).Msg("timeline failed")
		return sum, err
	}
	switch res.State {
	case backfill.Exhausted:
		if err := st.SetTweetBackfilled(ctx, p.ID, true); err != nil {
			return sum, err
		}
	case backfill.SourceUnavailable:
		sum.Errors++
		if err := recordSourceError(ctx, st, c.log, p, res.Source); err != nil {
			return sum, err
		}
	}
	log.Info().Msg("timeline collected")
	return sum, nil
}
