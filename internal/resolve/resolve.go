// Package resolve maps raw external identifiers onto canonical stored
// profiles, creating them on demand and merging duplicates that share an ID.
package resolve

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"birdseed/internal/metrics"
	"birdseed/internal/model"
	"birdseed/internal/store"
)

const maxAttempts = 8

// Resolver is stateless apart from configuration; the store handle is passed
// per call so each worker resolves through its own session.
type Resolver struct {
	invalid map[string]struct{}
	log     zerolog.Logger
	now     func() time.Time
}

// New returns a Resolver that rejects every identifier in invalid.
func New(invalid []string, log zerolog.Logger) *Resolver {
	r := &Resolver{invalid: map[string]struct{}{}, log: log, now: time.Now}
	for _, id := range invalid {
		if n, err := model.NormalizeID(id); err == nil {
			r.invalid[n] = struct{}{}
		}
	}
	return r
}

// Normalize returns the canonical form of raw, or ErrInvalidID.
func (r *Resolver) Normalize(raw string) (string, error) {
	id, err := model.NormalizeID(raw)
	if err != nil {
		return "", fmt.Errorf("%q: %w", raw, err)
	}
	if _, bad := r.invalid[id]; bad {
		return "", fmt.Errorf("%q: %w", raw, model.ErrInvalidID)
	}
	return id, nil
}

// Profile returns the single profile known under raw. With create set an
// unknown ID yields a new profile; otherwise it fails with ErrNotFound.
// Concurrent calls for the same new ID converge on one row.
func (r *Resolver) Profile(ctx context.Context, st *store.Store, raw string, create bool) (*model.Profile, error) {
	id, err := r.Normalize(raw)
	if err != nil {
		return nil, err
	}
	for attempt := 1; ; attempt++ {
		p, err := r.resolveOnce(ctx, st, id, create)
		if err == nil || !store.IsRetryable(err) || attempt == maxAttempts {
			return p, err
		}
		r.log.Debug().Err(err).Str("id", id).Int("attempt", attempt).Msg("resolve conflict, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt*attempt) * 10 * time.Millisecond):
		}
	}
}

// Tweet returns the stored tweet with external ID raw. Tweets are created by
// the snapshot writer, never here.
func (r *Resolver) Tweet(ctx context.Context, st *store.Store, raw string) (*model.Tweet, error) {
	id, err := r.Normalize(raw)
	if err != nil {
		return nil, err
	}
	return st.GetTweet(ctx, id)
}

func (r *Resolver) resolveOnce(ctx context.Context, st *store.Store, id string, create bool) (*model.Profile, error) {
	var out *model.Profile
	err := st.InTx(ctx, func(tx *store.Store) error {
		if err := tx.Lock(ctx, "profile:"+id); err != nil {
			return err
		}
		found, err := tx.FindProfiles(ctx, id)
		if err != nil {
			return err
		}
		switch len(found) {
		case 0:
			if !create {
				return fmt.Errorf("profile %q: %w", id, model.ErrNotFound)
			}
			if _, err := tx.InsertProfileIfAbsent(ctx, id, r.now()); err != nil {
				return err
			}
			out, err = tx.GetProfileByExternalID(ctx, id)
			return err
		case 1:
			out = found[0]
		default:
			if out, err = r.merge(ctx, tx, id, found); err != nil {
				return err
			}
		}
		return r.promote(ctx, tx, out, id)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// promote makes id the canonical ID of p, keeping the previous canonical ID
// as an alias.
func (r *Resolver) promote(ctx context.Context, tx *store.Store, p *model.Profile, id string) error {
	if p.ExternalID == id {
		return nil
	}
	aliases := make([]string, 0, len(p.AltIDs)+1)
	for _, a := range p.AltIDs {
		if a != id {
			aliases = append(aliases, a)
		}
	}
	aliases = appendUnique(aliases, p.ExternalID)
	slices.Sort(aliases)
	p.AltIDs = aliases
	p.ExternalID = id
	p.UpdatedAt = r.now()
	return tx.SaveProfile(ctx, p)
}

// merge folds every candidate into a keeper: the one whose canonical ID is
// id, else the oldest. Candidates that disagree on account creation time are
// not merged.
func (r *Resolver) merge(ctx context.Context, tx *store.Store, id string, found []*model.Profile) (*model.Profile, error) {
	keeper := found[0]
	for _, p := range found {
		if p.ExternalID == id {
			keeper = p
			break
		}
	}
	candidates := make([]string, 0, len(found))
	for _, p := range found {
		candidates = append(candidates, p.ExternalID)
	}
	if conflictingCreation(found) {
		err := &model.AmbiguousEntityError{ID: id, Field: "created_at", Candidates: candidates}
		ev := r.log.Error().Err(err).Str("id", id).Strs("candidates", candidates)
		for _, p := range found {
			if p.CreatedAt != nil {
				ev = ev.Time("created_at_"+p.ExternalID, *p.CreatedAt)
			}
		}
		ev.Msg("ambiguous entity, manual review required")
		return nil, err
	}
	for _, loser := range found {
		if loser == keeper {
			continue
		}
		absorb(keeper, loser)
		if err := tx.ReassignProfile(ctx, loser.ID, keeper.ID); err != nil {
			return nil, err
		}
		if err := tx.DeleteProfile(ctx, loser.ID); err != nil {
			return nil, fmt.Errorf("delete merged profile %d: %w", loser.ID, err)
		}
		metrics.IncMerge()
	}
	keeper.AltIDs = slices.DeleteFunc(keeper.AltIDs, func(a string) bool { return a == keeper.ExternalID })
	slices.Sort(keeper.AltIDs)
	keeper.UpdatedAt = r.now()
	if err := tx.SaveProfile(ctx, keeper); err != nil {
		return nil, err
	}
	r.log.Info().Str("id", id).Str("keeper", keeper.ExternalID).Strs("candidates", candidates).Msg("merged duplicate profiles")
	return keeper, nil
}

func conflictingCreation(found []*model.Profile) bool {
	var first *time.Time
	for _, p := range found {
		if p.CreatedAt == nil {
			continue
		}
		if first == nil {
			first = p.CreatedAt
			continue
		}
		if !first.Equal(*p.CreatedAt) {
			return true
		}
	}
	return false
}

// absorb copies into keeper every field it lacks and unions set fields.
// A keeper value is never replaced.
func absorb(keeper, loser *model.Profile) {
	fillString(&keeper.ScreenName, loser.ScreenName)
	fillString(&keeper.Name, loser.Name)
	fillString(&keeper.Description, loser.Description)
	fillString(&keeper.Language, loser.Language)
	fillString(&keeper.Location, loser.Location)
	fillString(&keeper.StatusText, loser.StatusText)
	fillInt(&keeper.FollowersCount, loser.FollowersCount)
	fillInt(&keeper.FriendsCount, loser.FriendsCount)
	fillInt(&keeper.StatusesCount, loser.StatusesCount)
	fillInt(&keeper.FavouritesCount, loser.FavouritesCount)
	fillInt(&keeper.ListedCount, loser.ListedCount)
	fillBool(&keeper.Verified, loser.Verified)
	fillBool(&keeper.ContributorsEnabled, loser.ContributorsEnabled)
	if keeper.CreatedAt == nil {
		keeper.CreatedAt = loser.CreatedAt
	}
	if keeper.ErrorCode == nil {
		keeper.ErrorCode = loser.ErrorCode
	}
	if loser.LatestSnapshotID != nil && (keeper.LatestSnapshotID == nil || *loser.LatestSnapshotID > *keeper.LatestSnapshotID) {
		keeper.LatestSnapshotID = loser.LatestSnapshotID
	}
	if keeper.Raw == nil {
		keeper.Raw = loser.Raw
	}
	// the merged timeline is only complete if both halves were
	keeper.TweetBackfilled = keeper.TweetBackfilled && loser.TweetBackfilled
	for _, u := range loser.URLs {
		keeper.URLs = appendUnique(keeper.URLs, u)
	}
	keeper.AltIDs = appendUnique(keeper.AltIDs, loser.ExternalID)
	for _, a := range loser.AltIDs {
		keeper.AltIDs = appendUnique(keeper.AltIDs, a)
	}
}

func fillString(dst **string, src *string) {
	if *dst == nil && src != nil {
		*dst = src
	}
}

func fillInt(dst **int64, src *int64) {
	if *dst == nil && src != nil {
		*dst = src
	}
}

func fillBool(dst **bool, src *bool) {
	if *dst == nil && src != nil {
		*dst = src
	}
}

func appendUnique(list []string, v string) []string {
	if v == "" || slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}
