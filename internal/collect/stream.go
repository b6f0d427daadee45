package collect

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"birdseed/internal/backfill"
	"birdseed/internal/model"
	"birdseed/internal/sets"
	"birdseed/internal/store"
)

type StreamOptions struct {
	Keywords []string
	// Payloads buffered before a write; values below 1 mean 1.
	QueueSize int
	// Stop after this long; 0 means until ctx ends.
	Duration time.Duration
	// Stop after this many tweets; 0 means unlimited.
	Count     int
	TweetSets []string
}

// Stream follows the keyword stream, writing tweets and their authors in one
// transaction per full buffer. Stops happen between items, and whatever is
// buffered is written before returning, cancellation included.
func (c *Collector) Stream(ctx context.Context, opts StreamOptions) (model.Summary, error) {
	start := time.Now()
	var sum model.Summary
	if len(opts.Keywords) == 0 {
		return sum, errors.New("stream: no keywords")
	}
	tagger, err := sets.NewTagger(ctx, c.st, model.TweetSet, opts.TweetSets)
	if err != nil {
		return sum, err
	}
	runCtx := ctx
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}
	size := max(opts.QueueSize, 1)
	buf := make([]model.Payload, 0, size)
	seen := NewSeenCache()

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		// a cancelled run still writes what it buffered
		wctx := context.WithoutCancel(ctx)
		defer func() { buf = buf[:0] }()
		n, err := c.writeStreamed(wctx, buf, tagger, seen)
		if err == nil || !itemError(err) {
			sum.Updated += n
			return err
		}
		// one bad item rolled back the batch; write the rest one by one
		for _, payload := range buf {
			n, err := c.writeStreamed(wctx, []model.Payload{payload}, tagger, seen)
			switch {
			case err == nil:
				sum.Updated += n
			case itemError(err):
				id, _ := payload.ID("id")
				c.log.Warn().Err(err).Str("tweet", id).Msg("skipping stream item")
				sum.Errors++
			default:
				return err
			}
		}
		return nil
	}

	var streamErr error
	for payload, err := range c.src.Stream(runCtx, opts.Keywords) {
		if err != nil {
			if runCtx.Err() == nil {
				streamErr = err
			}
			break
		}
		if !streamable(payload) {
			c.log.Warn().Msg("skipping malformed stream item")
			sum.Errors++
			continue
		}
		sum.Scanned++
		buf = append(buf, payload)
		if len(buf) >= size {
			if err := flush(); err != nil {
				streamErr = err
				break
			}
		}
		if (opts.Count > 0 && sum.Scanned >= opts.Count) || runCtx.Err() != nil {
			break
		}
	}
	if err := flush(); err != nil && streamErr == nil {
		streamErr = err
	}
	observe("stream", start, sum)
	c.log.Info().Strs("keywords", opts.Keywords).Int("scanned", sum.Scanned).Int("updated", sum.Updated).
		Dur("elapsed", time.Since(start)).Msg("stream finished")
	return sum, streamErr
}

// streamable reports whether a payload carries a tweet ID, a timestamp and
// an author ID.
func streamable(p model.Payload) bool {
	if _, err := backfill.ItemOf(p); err != nil {
		return false
	}
	user, ok := p.Object("user")
	if !ok {
		return false
	}
	_, ok = user.ID("id")
	return ok
}

// itemError reports whether err is confined to the payload being written.
func itemError(err error) bool {
	return errors.Is(err, model.ErrMalformedPayload) ||
		errors.Is(err, model.ErrAmbiguousEntity) ||
		errors.Is(err, model.ErrInvalidID) ||
		errors.Is(err, model.ErrNotFound)
}

// writeStreamed stores a buffer of tweets in one transaction and returns how
// many were written. Authors are marked seen only once the transaction
// commits.
func (c *Collector) writeStreamed(ctx context.Context, buf []model.Payload, tagger *sets.Tagger, seen *SeenCache) (int, error) {
	n := 0
	var applied []string
	err := c.st.InTx(ctx, func(tx *store.Store) error {
		n, applied = 0, applied[:0]
		for _, payload := range buf {
			user, _ := payload.Object("user")
			authorID, ok := user.ID("id")
			if !ok {
				return &model.MalformedPayloadError{Key: "user.id_str"}
			}
			author, err := c.resolver.Profile(ctx, tx, authorID, true)
			if err != nil {
				return fmt.Errorf("stream author %q: %w", authorID, err)
			}
			if !seen.Has(author.ExternalID) && !slices.Contains(applied, author.ExternalID) {
				if _, err := c.writer.ApplyProfile(ctx, tx, author, user); err != nil {
					return err
				}
				applied = append(applied, author.ExternalID)
			}
			tw, _, err := c.writer.ApplyTweet(ctx, tx, author.ID, payload)
			if err != nil {
				return err
			}
			if err := tagger.Tag(ctx, tx, tw.ID); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, id := range applied {
		seen.Add(id)
	}
	return n, nil
}
