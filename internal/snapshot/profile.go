// Package snapshot applies raw API payloads onto stored profiles and tweets.
package snapshot

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"birdseed/internal/model"
	"birdseed/internal/resolve"
	"birdseed/internal/store"
)

// Writer extracts the normalized field tables from payloads. Applying the
// same payload twice leaves the store unchanged.
type Writer struct {
	resolver *resolve.Resolver
	log      zerolog.Logger
	now      func() time.Time
}

func New(resolver *resolve.Resolver, log zerolog.Logger) *Writer {
	return &Writer{resolver: resolver, log: log, now: time.Now}
}

// ApplyProfile updates p from a user payload and appends a snapshot when the
// captured attributes changed. It reports whether anything was written.
func (w *Writer) ApplyProfile(ctx context.Context, st *store.Store, p *model.Profile, payload model.Payload) (bool, error) {
	next, err := w.extractProfile(p, payload)
	if err != nil {
		return false, err
	}
	changed := false
	err = st.InTx(ctx, func(tx *store.Store) error {
		if !sameProfile(p, next) {
			next.UpdatedAt = w.now().UTC()
			changed = true
		}
		snap, err := buildSnapshot(next, payload)
		if err != nil {
			return err
		}
		latest, err := tx.LatestSnapshot(ctx, next.ID)
		switch {
		case err == nil && latest.Digest == snap.Digest:
		case err == nil || isNotFound(err):
			snap.CapturedAt = w.now().UTC()
			if err := tx.InsertSnapshot(ctx, snap); err != nil {
				return err
			}
			next.LatestSnapshotID = &snap.ID
			if !changed {
				next.UpdatedAt = w.now().UTC()
			}
			changed = true
		default:
			return err
		}
		if !changed {
			return nil
		}
		return tx.SaveProfile(ctx, next)
	})
	if err != nil {
		return false, err
	}
	*p = *next
	return changed, nil
}

func (w *Writer) extractProfile(p *model.Profile, payload model.Payload) (*model.Profile, error) {
	rawID, ok := payload.ID("id")
	if !ok {
		return nil, &model.MalformedPayloadError{Key: "id_str"}
	}
	id, err := model.NormalizeID(rawID)
	if err != nil {
		return nil, &model.MalformedPayloadError{Key: "id_str"}
	}
	next := *p
	next.AltIDs = slices.Clone(p.AltIDs)

	if created, ok := payload.Time("created_at"); ok {
		if p.CreatedAt != nil && !p.CreatedAt.Equal(created) {
			err := &model.AmbiguousEntityError{ID: p.ExternalID, Field: "created_at", Candidates: []string{p.ExternalID, id}}
			w.log.Error().Err(err).Str("id", p.ExternalID).Str("payload_id", id).
				Time("stored_created_at", *p.CreatedAt).Time("payload_created_at", created).
				Msg("ambiguous entity, manual review required")
			return nil, err
		}
		next.CreatedAt = &created
	}

	if name, ok := payload.String("screen_name"); ok && name != "" {
		name = strings.ToLower(name)
		next.ScreenName = &name
		next.AltIDs = addAlias(next.AltIDs, next.ExternalID, name)
	}
	next.AltIDs = addAlias(next.AltIDs, next.ExternalID, id)
	slices.Sort(next.AltIDs)

	next.Name = optString(payload, "name")
	next.Description = optString(payload, "description")
	next.Language = optString(payload, "lang")
	next.Location = optString(payload, "location")
	next.StatusText = optString(payload, "status", "text")
	next.FollowersCount = optInt(payload, "followers_count")
	next.FriendsCount = optInt(payload, "friends_count")
	next.StatusesCount = optInt(payload, "statuses_count")
	next.ListedCount = optInt(payload, "listed_count")
	next.FavouritesCount = optInt(payload, "favourites_count")
	if next.FavouritesCount == nil {
		next.FavouritesCount = optInt(payload, "favorites_count")
	}
	next.Verified = optBool(payload, "verified")
	next.ContributorsEnabled = optBool(payload, "contributors_enabled")
	next.URLs = profileURLs(payload)
	next.ErrorCode = nil
	next.Raw = payload
	return &next, nil
}

func profileURLs(p model.Payload) []string {
	entries, _ := p.Slice("entities", "url", "urls")
	var out []string
	for _, e := range entries {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		u, _ := model.Payload(m).String("expanded_url")
		if u != "" && !slices.Contains(out, u) {
			out = append(out, u)
		}
	}
	return out
}

func buildSnapshot(p *model.Profile, payload model.Payload) (*model.Snapshot, error) {
	snap := &model.Snapshot{
		ProfileID:      p.ID,
		ScreenName:     deref(p.ScreenName),
		Description:    deref(p.Description),
		FollowersCount: derefInt(p.FollowersCount),
		FriendsCount:   derefInt(p.FriendsCount),
		StatusesCount:  derefInt(p.StatusesCount),
		Verified:       p.Verified != nil && *p.Verified,
		Raw:            payload,
	}
	raw, err := payload.Marshal()
	if err != nil {
		return nil, err
	}
	fields, err := json.Marshal([]any{snap.ScreenName, snap.Description, snap.FollowersCount,
		snap.FriendsCount, snap.StatusesCount, snap.Verified})
	if err != nil {
		return nil, err
	}
	h := sha256.New()
	h.Write(fields)
	h.Write(raw)
	snap.Digest = hex.EncodeToString(h.Sum(nil))
	return snap, nil
}

// sameProfile compares everything a payload can change.
func sameProfile(a, b *model.Profile) bool {
	x, y := *a, *b
	x.UpdatedAt, y.UpdatedAt = time.Time{}, time.Time{}
	x.LatestSnapshotID, y.LatestSnapshotID = nil, nil
	x.Raw, y.Raw = nil, nil
	if !sameTime(x.CreatedAt, y.CreatedAt) {
		return false
	}
	x.CreatedAt, y.CreatedAt = nil, nil
	if len(x.AltIDs) == 0 {
		x.AltIDs = nil
	}
	if len(y.AltIDs) == 0 {
		y.AltIDs = nil
	}
	if len(x.URLs) == 0 {
		x.URLs = nil
	}
	if len(y.URLs) == 0 {
		y.URLs = nil
	}
	return reflect.DeepEqual(x, y) && samePayload(a.Raw, b.Raw)
}

func samePayload(a, b model.Payload) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	x, errA := a.Marshal()
	y, errB := b.Marshal()
	return errA == nil && errB == nil && bytes.Equal(x, y)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func addAlias(aliases []string, canonical, id string) []string {
	if id == "" || id == canonical || slices.Contains(aliases, id) {
		return aliases
	}
	return append(aliases, id)
}

func optString(p model.Payload, path ...string) *string {
	s, ok := p.String(path...)
	if !ok {
		return nil
	}
	return &s
}

func optInt(p model.Payload, path ...string) *int64 {
	n, ok := p.Int(path...)
	if !ok {
		return nil
	}
	return &n
}

func optBool(p model.Payload, path ...string) *bool {
	b, ok := p.Bool(path...)
	if !ok {
		return nil
	}
	return &b
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(n *int64) int64 {
	if n == nil {
		return 0
	}
	return *n
}
