package snapshot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"birdseed/internal/model"
	"birdseed/internal/store"
)

// ApplyTweet creates or updates the tweet described by payload, owned by
// authorID. Links accumulate across applications; hashtags and mentions are
// recomputed from the payload each time.
func (w *Writer) ApplyTweet(ctx context.Context, st *store.Store, authorID int64, payload model.Payload) (*model.Tweet, bool, error) {
	rawID, ok := payload.ID("id")
	if !ok {
		return nil, false, &model.MalformedPayloadError{Key: "id_str"}
	}
	id, err := model.NormalizeID(rawID)
	if err != nil {
		return nil, false, &model.MalformedPayloadError{Key: "id_str"}
	}
	created, ok := payload.Time("created_at")
	if !ok {
		return nil, false, &model.MalformedPayloadError{Key: "created_at"}
	}

	var (
		out     *model.Tweet
		changed bool
	)
	err = st.InTx(ctx, func(tx *store.Store) error {
		prev, err := tx.GetTweet(ctx, id)
		if err != nil && !isNotFound(err) {
			return err
		}
		next := &model.Tweet{ExternalID: id}
		if prev != nil {
			next.ID = prev.ID
			next.Links = slices.Clone(prev.Links)
			next.UpdatedAt = prev.UpdatedAt
		}
		next.AuthorID = authorID
		next.CreatedAt = created
		next.Text = tweetText(payload)
		next.Language, _ = payload.String("lang")
		next.RetweetCount, _ = payload.Int("retweet_count")
		next.FavoriteCount, _ = payload.Int("favorite_count")
		next.Retweeted, _ = payload.Bool("retweeted")
		next.Favorited, _ = payload.Bool("favorited")
		for _, u := range entityStrings(payload, "expanded_url", "entities", "urls") {
			next.Links = addUnique(next.Links, u)
		}
		next.MediaURLs = mediaURLs(payload)
		next.Hashtags = hashtags(payload)
		next.Raw = payload

		mentionIDs, mentions, err := w.mentions(ctx, tx, payload)
		if err != nil {
			return err
		}
		next.Mentions = mentions

		if prev != nil && sameTweet(prev, next) {
			out = prev
			return nil
		}
		next.UpdatedAt = w.now().UTC()
		if err := tx.SaveTweet(ctx, next); err != nil {
			return err
		}
		if err := tx.SetTweetHashtags(ctx, next.ID, next.Hashtags); err != nil {
			return err
		}
		if err := tx.SetTweetMentions(ctx, next.ID, mentionIDs); err != nil {
			return err
		}
		out, changed = next, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, changed, nil
}

// mentions resolves every mentioned account, creating unknown ones. It
// returns row IDs for storage and canonical IDs sorted for comparison.
func (w *Writer) mentions(ctx context.Context, tx *store.Store, payload model.Payload) ([]int64, []string, error) {
	entries, _ := payload.Slice("entities", "user_mentions")
	var (
		rowIDs []int64
		ids    []string
	)
	for _, e := range entries {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		raw, ok := model.Payload(m).ID("id")
		if !ok {
			raw, ok = model.Payload(m).String("screen_name")
		}
		if !ok {
			continue
		}
		p, err := w.resolver.Profile(ctx, tx, raw, true)
		if errors.Is(err, model.ErrInvalidID) {
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("mention %q: %w", raw, err)
		}
		if slices.Contains(rowIDs, p.ID) {
			continue
		}
		rowIDs = append(rowIDs, p.ID)
		ids = append(ids, p.ExternalID)
	}
	slices.Sort(ids)
	return rowIDs, ids, nil
}

func tweetText(p model.Payload) string {
	for _, path := range [][]string{{"extended_tweet", "full_text"}, {"full_text"}, {"text"}} {
		if s, ok := p.String(path...); ok {
			return s
		}
	}
	return ""
}

func hashtags(p model.Payload) []string {
	var out []string
	for _, h := range entityStrings(p, "text", "entities", "hashtags") {
		out = addUnique(out, strings.ToLower(h))
	}
	slices.Sort(out)
	return out
}

func mediaURLs(p model.Payload) []string {
	path := []string{"extended_entities", "media"}
	if !p.Has(path...) {
		path = []string{"entities", "media"}
	}
	var out []string
	for _, u := range entityStrings(p, "media_url_https", path...) {
		out = addUnique(out, u)
	}
	return out
}

// entityStrings collects field from every object in the array at path,
// skipping empty values.
func entityStrings(p model.Payload, field string, path ...string) []string {
	entries, _ := p.Slice(path...)
	var out []string
	for _, e := range entries {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		if s, _ := model.Payload(m).String(field); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func sameTweet(a, b *model.Tweet) bool {
	return a.AuthorID == b.AuthorID &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		a.Text == b.Text &&
		a.Language == b.Language &&
		a.RetweetCount == b.RetweetCount &&
		a.FavoriteCount == b.FavoriteCount &&
		a.Retweeted == b.Retweeted &&
		a.Favorited == b.Favorited &&
		slices.Equal(a.Links, b.Links) &&
		slices.Equal(a.MediaURLs, b.MediaURLs) &&
		slices.Equal(a.Hashtags, b.Hashtags) &&
		slices.Equal(a.Mentions, b.Mentions) &&
		samePayload(a.Raw, b.Raw)
}

func addUnique(list []string, v string) []string {
	if v == "" || slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}

func isNotFound(err error) bool { return errors.Is(err, model.ErrNotFound) }
