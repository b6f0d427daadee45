package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"birdseed/internal/model"
)

const tweetColumns = `id, external_id, author_id, text, language, created_at, retweet_count, favorite_count,
	retweeted, favorited, links, media_urls, updated_at, raw`

func scanTweet(r rowScanner) (*model.Tweet, error) {
	var (
		t                    model.Tweet
		text, lang           sql.NullString
		links, media, raw    sql.NullString
		createdAt            sql.NullInt64
		retweets, favorites  sql.NullInt64
		retweeted, favorited sql.NullInt64
		updatedAt            int64
	)
	if err := r.Scan(&t.ID, &t.ExternalID, &t.AuthorID, &text, &lang, &createdAt, &retweets, &favorites,
		&retweeted, &favorited, &links, &media, &updatedAt, &raw); err != nil {
		return nil, err
	}
	t.Text = text.String
	t.Language = lang.String
	if createdAt.Valid {
		t.CreatedAt = time.Unix(createdAt.Int64, 0).UTC()
	}
	t.RetweetCount = retweets.Int64
	t.FavoriteCount = favorites.Int64
	t.Retweeted = retweeted.Int64 != 0
	t.Favorited = favorited.Int64 != 0
	t.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	var err error
	if t.Links, err = decodeStrings(links); err != nil {
		return nil, fmt.Errorf("tweet %d links: %w", t.ID, err)
	}
	if t.MediaURLs, err = decodeStrings(media); err != nil {
		return nil, fmt.Errorf("tweet %d media: %w", t.ID, err)
	}
	if t.Raw, err = decodeRaw(raw); err != nil {
		return nil, fmt.Errorf("tweet %d raw: %w", t.ID, err)
	}
	return &t, nil
}

// GetTweet loads a tweet with its hashtags and mentions by external ID.
func (s *Store) GetTweet(ctx context.Context, externalID string) (*model.Tweet, error) {
	t, err := scanTweet(s.queryRow(ctx, `SELECT `+tweetColumns+` FROM {tweets} WHERE external_id = ?`, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tweet %q: %w", externalID, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if t.Hashtags, err = s.TweetHashtags(ctx, t.ID); err != nil {
		return nil, err
	}
	if t.Mentions, err = s.TweetMentions(ctx, t.ID); err != nil {
		return nil, err
	}
	return t, nil
}

// SaveTweet inserts t when t.ID is zero and updates it otherwise. Hashtags and
// mentions are written separately.
func (s *Store) SaveTweet(ctx context.Context, t *model.Tweet) error {
	links, err := encodeStrings(t.Links)
	if err != nil {
		return err
	}
	media, err := encodeStrings(t.MediaURLs)
	if err != nil {
		return err
	}
	raw, err := encodeRaw(t.Raw)
	if err != nil {
		return err
	}
	var createdAt any
	if !t.CreatedAt.IsZero() {
		createdAt = t.CreatedAt.Unix()
	}
	if t.ID == 0 {
		err := s.queryRow(ctx, `INSERT INTO {tweets}(external_id, author_id, text, language, created_at, retweet_count,
			favorite_count, retweeted, favorited, links, media_urls, updated_at, raw)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
			t.ExternalID, t.AuthorID, t.Text, t.Language, createdAt, t.RetweetCount, t.FavoriteCount,
			flag(t.Retweeted), flag(t.Favorited), links, media, t.UpdatedAt.Unix(), raw).Scan(&t.ID)
		if err != nil {
			return fmt.Errorf("insert tweet %s: %w", t.ExternalID, err)
		}
		return nil
	}
	_, err = s.exec(ctx, `UPDATE {tweets} SET author_id=?, text=?, language=?, created_at=?, retweet_count=?,
		favorite_count=?, retweeted=?, favorited=?, links=?, media_urls=?, updated_at=?, raw=? WHERE id=?`,
		t.AuthorID, t.Text, t.Language, createdAt, t.RetweetCount, t.FavoriteCount,
		flag(t.Retweeted), flag(t.Favorited), links, media, t.UpdatedAt.Unix(), raw, t.ID)
	if err != nil {
		return fmt.Errorf("update tweet %s: %w", t.ExternalID, err)
	}
	return nil
}

// EnsureHashtag returns the row ID for name, creating it if needed.
func (s *Store) EnsureHashtag(ctx context.Context, name string) (int64, error) {
	if _, err := s.exec(ctx, `INSERT INTO {hashtags}(name) VALUES(?) ON CONFLICT(name) DO NOTHING`, name); err != nil {
		return 0, err
	}
	var id int64
	err := s.queryRow(ctx, `SELECT id FROM {hashtags} WHERE name = ?`, name).Scan(&id)
	return id, err
}

// SetTweetHashtags replaces the hashtags attached to a tweet.
func (s *Store) SetTweetHashtags(ctx context.Context, tweetID int64, names []string) error {
	if _, err := s.exec(ctx, `DELETE FROM {tweet_hashtags} WHERE tweet_id = ?`, tweetID); err != nil {
		return err
	}
	for _, n := range names {
		hid, err := s.EnsureHashtag(ctx, n)
		if err != nil {
			return fmt.Errorf("hashtag %q: %w", n, err)
		}
		if _, err := s.exec(ctx, `INSERT INTO {tweet_hashtags}(tweet_id, hashtag_id) VALUES(?, ?) ON CONFLICT DO NOTHING`, tweetID, hid); err != nil {
			return err
		}
	}
	return nil
}

// TweetHashtags returns the hashtag names attached to a tweet, sorted.
func (s *Store) TweetHashtags(ctx context.Context, tweetID int64) ([]string, error) {
	rows, err := s.query(ctx, `SELECT h.name FROM {tweet_hashtags} th JOIN {hashtags} h ON h.id = th.hashtag_id
		WHERE th.tweet_id = ? ORDER BY h.name`, tweetID)
	if err != nil {
		return nil, err
	}
	return collectStrings(rows)
}

// SetTweetMentions replaces the profiles a tweet mentions.
func (s *Store) SetTweetMentions(ctx context.Context, tweetID int64, profileIDs []int64) error {
	if _, err := s.exec(ctx, `DELETE FROM {mentions} WHERE tweet_id = ?`, tweetID); err != nil {
		return err
	}
	for _, pid := range profileIDs {
		if _, err := s.exec(ctx, `INSERT INTO {mentions}(tweet_id, profile_id) VALUES(?, ?) ON CONFLICT DO NOTHING`, tweetID, pid); err != nil {
			return err
		}
	}
	return nil
}

// TweetMentions returns the canonical IDs of the profiles a tweet mentions, sorted.
func (s *Store) TweetMentions(ctx context.Context, tweetID int64) ([]string, error) {
	rows, err := s.query(ctx, `SELECT p.external_id FROM {mentions} m JOIN {profiles} p ON p.id = m.profile_id
		WHERE m.tweet_id = ? ORDER BY p.external_id`, tweetID)
	if err != nil {
		return nil, err
	}
	return collectStrings(rows)
}

// KnownTweetIDs returns the external IDs of tweets authored by any profile
// known under one of ids, canonical or alias.
func (s *Store) KnownTweetIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	if len(ids) == 0 {
		return out, nil
	}
	ph := placeholders(len(ids))
	args := append(stringArgs(ids), stringArgs(ids)...)
	rows, err := s.query(ctx, `SELECT t.external_id FROM {tweets} t JOIN {profiles} p ON p.id = t.author_id
		WHERE p.external_id IN (`+ph+`) OR p.id IN (SELECT profile_id FROM {aliases} WHERE alias IN (`+ph+`))`, args...)
	if err != nil {
		return nil, err
	}
	known, err := collectStrings(rows)
	if err != nil {
		return nil, err
	}
	for _, id := range known {
		out[id] = struct{}{}
	}
	return out, nil
}

// CountTweets returns how many tweets a profile authored.
func (s *Store) CountTweets(ctx context.Context, profileID int64) (int, error) {
	var n int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM {tweets} WHERE author_id = ?`, profileID).Scan(&n)
	return n, err
}

// DeleteTweetsBefore removes a profile's tweets created before t and returns
// how many were removed.
func (s *Store) DeleteTweetsBefore(ctx context.Context, profileID int64, t time.Time) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM {tweets} WHERE author_id = ? AND created_at < ?`, profileID, t.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// OldestTweetTime returns the creation time of a profile's oldest stored
// tweet, or the zero time when it has none.
func (s *Store) OldestTweetTime(ctx context.Context, profileID int64) (time.Time, error) {
	var v sql.NullInt64
	if err := s.queryRow(ctx, `SELECT MIN(created_at) FROM {tweets} WHERE author_id = ?`, profileID).Scan(&v); err != nil {
		return time.Time{}, err
	}
	if !v.Valid {
		return time.Time{}, nil
	}
	return time.Unix(v.Int64, 0).UTC(), nil
}
