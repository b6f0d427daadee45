package collect

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"birdseed/internal/model"
	"birdseed/internal/scoring"
)

// Scores scores every resolvable ID in one scorer call and stores a score
// row per scored profile. IDs that cannot be resolved or scored count as
// errors.
func (c *Collector) Scores(ctx context.Context, ids []string) (model.Summary, error) {
	start := time.Now()
	ids, invalid := model.NormalizeIDs(ids)
	sum := model.Summary{Scanned: len(ids) + len(invalid), Errors: len(invalid)}
	byKey := map[string]*model.Profile{}
	keys := make([]string, 0, len(ids))
	var lastErr error
	for _, raw := range invalid {
		lastErr = fmt.Errorf("%q: %w", raw, model.ErrInvalidID)
		c.log.Warn().Err(lastErr).Msg("score target not resolved")
	}
	for _, id := range ids {
		p, err := c.resolver.Profile(ctx, c.st, id, true)
		if err != nil {
			c.log.Warn().Err(err).Str("id", id).Msg("score target not resolved")
			sum.Errors++
			lastErr = err
			continue
		}
		key := scoreKey(p)
		if _, dup := byKey[key]; dup {
			continue
		}
		byKey[key] = p
		keys = append(keys, key)
	}
	if len(keys) == 0 && lastErr != nil {
		observe("scores", start, sum)
		return sum, lastErr
	}

	results, err := c.scorer.Score(ctx, keys)
	if err != nil {
		sum.Errors += len(keys)
		observe("scores", start, sum)
		return sum, err
	}
	now := c.now().UTC()
	for _, key := range scoring.ScoredIDs(results) {
		p, ok := byKey[key]
		if !ok {
			continue
		}
		raw := results[key]
		score := &model.BotometerScore{ProfileID: p.ID, Categories: scoring.CategoriesOf(raw), Raw: raw, ScoredAt: now}
		if err := c.st.InsertScore(ctx, score); err != nil {
			observe("scores", start, sum)
			return sum, err
		}
		sum.Updated++
	}
	sum.Errors += len(keys) - sum.Updated
	observe("scores", start, sum)
	return sum, nil
}

// scoreKey prefers a numeric account ID, which scoring services expect.
func scoreKey(p *model.Profile) string {
	for _, id := range p.KnownIDs() {
		if _, err := strconv.ParseUint(id, 10, 64); err == nil {
			return id
		}
	}
	return p.ExternalID
}
