package snapshot

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"birdseed/internal/model"
	"birdseed/internal/resolve"
	"birdseed/internal/store"
)

func setup(t *testing.T) (*store.Store, *resolve.Resolver, *Writer) {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "snapshot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	r := resolve.New(nil, zerolog.Nop())
	return st, r, New(r, zerolog.Nop())
}

func decode(t *testing.T, s string) model.Payload {
	t.Helper()
	p, err := model.DecodePayload([]byte(s))
	require.NoError(t, err)
	return p
}

const userJSON = `{
	"id": 12345, "id_str": "12345", "screen_name": "Alice", "name": "Alice A.",
	"description": "bio", "lang": "en", "location": "Earth",
	"followers_count": 10, "friends_count": 20, "statuses_count": 30,
	"favorites_count": 40, "listed_count": 2, "verified": false, "contributors_enabled": true,
	"created_at": "Wed Mar 03 10:00:00 +0000 2010",
	"status": {"text": "latest tweet"},
	"entities": {"url": {"urls": [{"expanded_url": "https://alice.dev"}, {"expanded_url": ""}, {"expanded_url": "https://alice.dev"}]}}
}`

func TestApplyProfileFieldTable(t *testing.T) {
	st, r, w := setup(t)
	ctx := context.Background()
	p, err := r.Profile(ctx, st, "alice", true)
	require.NoError(t, err)

	changed, err := w.ApplyProfile(ctx, st, p, decode(t, userJSON))
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := st.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", *got.ScreenName)
	assert.Equal(t, "Alice A.", *got.Name)
	assert.Equal(t, "bio", *got.Description)
	assert.Equal(t, "en", *got.Language)
	assert.Equal(t, "latest tweet", *got.StatusText)
	assert.Equal(t, int64(10), *got.FollowersCount)
	assert.Equal(t, int64(40), *got.FavouritesCount)
	assert.False(t, *got.Verified)
	assert.True(t, *got.ContributorsEnabled)
	assert.Equal(t, []string{"https://alice.dev"}, got.URLs)
	assert.Equal(t, []string{"12345"}, got.AltIDs)
	assert.Equal(t, time.Date(2010, 3, 3, 10, 0, 0, 0, time.UTC), *got.CreatedAt)
	require.NotNil(t, got.LatestSnapshotID)

	snap, err := st.LatestSnapshot(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, *got.LatestSnapshotID, snap.ID)
	assert.Equal(t, int64(30), snap.StatusesCount)
}

func TestApplyProfilePrefersFavouritesAndNullStatus(t *testing.T) {
	st, r, w := setup(t)
	ctx := context.Background()
	p, err := r.Profile(ctx, st, "bob", true)
	require.NoError(t, err)

	_, err = w.ApplyProfile(ctx, st, p, decode(t, `{"id_str":"7","screen_name":"bob","favourites_count":5,"favorites_count":9}`))
	require.NoError(t, err)
	assert.Equal(t, int64(5), *p.FavouritesCount)
	assert.Nil(t, p.StatusText)
	assert.Nil(t, p.URLs)
}

func TestApplyProfileIsIdempotent(t *testing.T) {
	st, r, w := setup(t)
	ctx := context.Background()
	p, err := r.Profile(ctx, st, "alice", true)
	require.NoError(t, err)

	_, err = w.ApplyProfile(ctx, st, p, decode(t, userJSON))
	require.NoError(t, err)
	first, err := st.GetProfile(ctx, p.ID)
	require.NoError(t, err)

	changed, err := w.ApplyProfile(ctx, st, first, decode(t, userJSON))
	require.NoError(t, err)
	assert.False(t, changed)
	second, err := st.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	n, err := st.CountSnapshots(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestApplyProfileAppendsSnapshotOnChange(t *testing.T) {
	st, r, w := setup(t)
	ctx := context.Background()
	p, err := r.Profile(ctx, st, "bob", true)
	require.NoError(t, err)

	_, err = w.ApplyProfile(ctx, st, p, decode(t, `{"id_str":"7","screen_name":"bob","followers_count":1}`))
	require.NoError(t, err)
	_, err = w.ApplyProfile(ctx, st, p, decode(t, `{"id_str":"7","screen_name":"bob","followers_count":2}`))
	require.NoError(t, err)

	n, err := st.CountSnapshots(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	snap, err := st.LatestSnapshot(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.FollowersCount)
}

func TestApplyProfileMalformed(t *testing.T) {
	st, r, w := setup(t)
	ctx := context.Background()
	p, err := r.Profile(ctx, st, "bob", true)
	require.NoError(t, err)

	_, err = w.ApplyProfile(ctx, st, p, decode(t, `{"screen_name":"bob"}`))
	var mp *model.MalformedPayloadError
	require.ErrorAs(t, err, &mp)
	assert.Equal(t, "id_str", mp.Key)
	assert.ErrorIs(t, err, model.ErrMalformedPayload)
}

func TestApplyProfileCreationConflictIsAmbiguous(t *testing.T) {
	st, r, w := setup(t)
	ctx := context.Background()
	p, err := r.Profile(ctx, st, "alice", true)
	require.NoError(t, err)
	_, err = w.ApplyProfile(ctx, st, p, decode(t, userJSON))
	require.NoError(t, err)

	_, err = w.ApplyProfile(ctx, st, p, decode(t, `{"id_str":"999","screen_name":"alice","created_at":"Thu Jan 01 00:00:00 +0000 2015"}`))
	assert.ErrorIs(t, err, model.ErrAmbiguousEntity)
}

const tweetJSON = `{
	"id": 1001, "id_str": "1001", "created_at": "Sat Jun 01 12:00:00 +0000 2024",
	"full_text": "hello #Go #go #SQL @bob @carol", "lang": "en",
	"retweet_count": 3, "favorite_count": 4, "retweeted": false, "favorited": true,
	"entities": {
		"hashtags": [{"text": "Go"}, {"text": "go"}, {"text": "SQL"}],
		"urls": [{"expanded_url": "https://a.example"}],
		"user_mentions": [{"id_str": "2", "screen_name": "bob"}, {"id_str": "3", "screen_name": "carol"}, {"id_str": "2", "screen_name": "bob"}]
	},
	"extended_entities": {"media": [{"media_url_https": "https://img/1.jpg"}]}
}`

func TestApplyTweetFieldTable(t *testing.T) {
	st, r, w := setup(t)
	ctx := context.Background()
	author, err := r.Profile(ctx, st, "alice", true)
	require.NoError(t, err)

	tw, changed, err := w.ApplyTweet(ctx, st, author.ID, decode(t, tweetJSON))
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := st.GetTweet(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, tw.ID, got.ID)
	assert.Equal(t, author.ID, got.AuthorID)
	assert.Equal(t, "hello #Go #go #SQL @bob @carol", got.Text)
	assert.Equal(t, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), got.CreatedAt)
	assert.Equal(t, int64(3), got.RetweetCount)
	assert.True(t, got.Favorited)
	assert.Equal(t, []string{"go", "sql"}, got.Hashtags)
	assert.Equal(t, []string{"2", "3"}, got.Mentions)
	assert.Equal(t, []string{"https://a.example"}, got.Links)
	assert.Equal(t, []string{"https://img/1.jpg"}, got.MediaURLs)

	bob, err := r.Profile(ctx, st, "2", false)
	require.NoError(t, err, "mentioned accounts are created")
	assert.Equal(t, "2", bob.ExternalID)
}

func TestApplyTweetIsIdempotent(t *testing.T) {
	st, r, w := setup(t)
	ctx := context.Background()
	author, err := r.Profile(ctx, st, "alice", true)
	require.NoError(t, err)

	_, _, err = w.ApplyTweet(ctx, st, author.ID, decode(t, tweetJSON))
	require.NoError(t, err)
	first, err := st.GetTweet(ctx, "1001")
	require.NoError(t, err)

	_, changed, err := w.ApplyTweet(ctx, st, author.ID, decode(t, tweetJSON))
	require.NoError(t, err)
	assert.False(t, changed)
	second, err := st.GetTweet(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	n, err := st.CountProfiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestApplyTweetUnionsLinks(t *testing.T) {
	st, r, w := setup(t)
	ctx := context.Background()
	author, err := r.Profile(ctx, st, "alice", true)
	require.NoError(t, err)

	_, _, err = w.ApplyTweet(ctx, st, author.ID, decode(t,
		`{"id_str":"5","created_at":"Sat Jun 01 12:00:00 +0000 2024","text":"a","entities":{"urls":[{"expanded_url":"https://one"}]}}`))
	require.NoError(t, err)
	_, _, err = w.ApplyTweet(ctx, st, author.ID, decode(t,
		`{"id_str":"5","created_at":"Sat Jun 01 12:00:00 +0000 2024","text":"a","entities":{"urls":[{"expanded_url":"https://two"}]}}`))
	require.NoError(t, err)

	got, err := st.GetTweet(ctx, "5")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://one", "https://two"}, got.Links)
}

func TestApplyTweetMalformed(t *testing.T) {
	st, r, w := setup(t)
	ctx := context.Background()
	author, err := r.Profile(ctx, st, "alice", true)
	require.NoError(t, err)

	_, _, err = w.ApplyTweet(ctx, st, author.ID, decode(t, `{"text":"no id"}`))
	var mp *model.MalformedPayloadError
	require.ErrorAs(t, err, &mp)
	assert.Equal(t, "id_str", mp.Key)

	_, _, err = w.ApplyTweet(ctx, st, author.ID, decode(t, `{"id_str":"9","text":"no time"}`))
	require.ErrorAs(t, err, &mp)
	assert.Equal(t, "created_at", mp.Key)
}
