package collect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"birdseed/internal/model"
	"birdseed/internal/sets"
)

func TestStreamStopsAtCount(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		author := "1"
		if i%2 == 0 {
			author = "2"
		}
		h.src.Streamed = append(h.src.Streamed, tweetPayload(t, i, author, base, "GoLang"))
	}

	sum, err := h.c.Stream(ctx, StreamOptions{Keywords: []string{"go"}, QueueSize: 2, Count: 3, TweetSets: []string{"live"}})
	require.NoError(t, err)
	assert.Equal(t, model.Summary{Scanned: 3, Updated: 3}, sum)

	tagged, err := sets.Members(ctx, h.st, model.TweetSet, "live")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, tagged)

	tw, err := h.st.GetTweet(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, []string{"golang"}, tw.Hashtags)
	author := mustProfile(t, h, "2")
	assert.Equal(t, author.ID, tw.AuthorID)
	require.NotNil(t, author.ScreenName)
	assert.Equal(t, "u2", *author.ScreenName)
}

func TestStreamFlushesOnDeadline(t *testing.T) {
	h := newHarness(t, 1)
	h.src.HoldStream = true
	h.src.Streamed = []model.Payload{
		tweetPayload(t, 1, "1", base),
		{"id_str": "2"},
		tweetPayload(t, 3, "1", base),
	}

	sum, err := h.c.Stream(context.Background(), StreamOptions{Keywords: []string{"go"}, QueueSize: 10, Duration: 50 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, model.Summary{Scanned: 2, Updated: 2, Errors: 1}, sum)

	for _, id := range []string{"1", "3"} {
		_, err := h.st.GetTweet(context.Background(), id)
		assert.NoError(t, err, id)
	}
}

func TestStreamFlushesOnCancel(t *testing.T) {
	h := newHarness(t, 1)
	h.src.HoldStream = true
	h.src.Streamed = []model.Payload{tweetPayload(t, 1, "1", base)}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)
	sum, err := h.c.Stream(ctx, StreamOptions{Keywords: []string{"go"}, QueueSize: 5})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Updated)
	_, err = h.st.GetTweet(context.Background(), "1")
	assert.NoError(t, err)
}

func TestStreamNeedsKeywords(t *testing.T) {
	h := newHarness(t, 1)
	_, err := h.c.Stream(context.Background(), StreamOptions{})
	assert.Error(t, err)
}

func TestStreamSkipsBadItemsAndKeepsTheBuffer(t *testing.T) {
	h := newHarness(t, 1)
	noAuthorID := tweetPayload(t, 2, "1", base)
	noAuthorID["user"] = map[string]any{}
	h.src.Streamed = []model.Payload{
		tweetPayload(t, 1, "1", base),
		noAuthorID,
		tweetPayload(t, 3, "home", base),
		tweetPayload(t, 4, "2", base),
	}

	sum, err := h.c.Stream(context.Background(), StreamOptions{Keywords: []string{"go"}, QueueSize: 10, TweetSets: []string{"live"}})
	require.NoError(t, err)
	assert.Equal(t, model.Summary{Scanned: 3, Updated: 2, Errors: 2}, sum)

	ctx := context.Background()
	for _, id := range []string{"1", "4"} {
		_, err := h.st.GetTweet(ctx, id)
		assert.NoError(t, err, id)
	}
	for _, id := range []string{"2", "3"} {
		_, err := h.st.GetTweet(ctx, id)
		assert.ErrorIs(t, err, model.ErrNotFound, id)
	}
	tagged, err := sets.Members(ctx, h.st, model.TweetSet, "live")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "4"}, tagged)

	author := mustProfile(t, h, "1")
	require.NotNil(t, author.ScreenName)
	assert.Equal(t, "u1", *author.ScreenName)
}
