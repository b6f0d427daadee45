package collect

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"birdseed/internal/backfill"
	"birdseed/internal/model"
	"birdseed/internal/sets"
)

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestTimelineStopsAtKnownItemOnceBackfilled(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	existing := tweetPayload(t, 10, "1", base.AddDate(0, 0, -5))
	h.src.Timelines["alice"] = []model.Payload{existing}

	sum, err := h.c.Timeline(ctx, "alice", TimelineOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.Summary{Scanned: 1, Updated: 1}, sum)
	assert.True(t, mustProfile(t, h, "alice").TweetBackfilled)

	h.src.Timelines["alice"] = []model.Payload{
		tweetPayload(t, 30, "1", base),
		tweetPayload(t, 20, "1", base.AddDate(0, 0, -1)),
		existing,
		tweetPayload(t, 5, "1", base.AddDate(0, 0, -9)),
	}
	sum, err = h.c.Timeline(ctx, "alice", TimelineOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Updated)
	assert.Equal(t, 1+3, h.src.Pulled("alice"))

	_, err = h.st.GetTweet(ctx, "5")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestTimelineLimitDoesNotMarkBackfilled(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	h.src.Timelines["alice"] = timeline(t, base, 1000, 100, "1")

	sum, err := h.c.Timeline(ctx, "alice", TimelineOptions{Options: backfill.Options{Limit: 1}})
	require.NoError(t, err)
	assert.Equal(t, model.Summary{Scanned: 1, Updated: 1}, sum)
	assert.Equal(t, 1, h.src.Pulled("alice"))
	assert.False(t, mustProfile(t, h, "alice").TweetBackfilled)
}

func TestTimelineSourceUnavailable(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	h.src.Errors["carol"] = &model.SourceError{Code: model.CodeSuspended, Reason: "suspended"}

	sum, err := h.c.Timeline(ctx, "carol", TimelineOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.Summary{Errors: 1}, sum)
	p := mustProfile(t, h, "carol")
	assert.False(t, p.TweetBackfilled)
	require.NotNil(t, p.ErrorCode)
	assert.Equal(t, model.CodeSuspended, *p.ErrorCode)
}

func TestTimelineMalformedItemFails(t *testing.T) {
	h := newHarness(t, 1)
	h.src.Timelines["alice"] = []model.Payload{{"id_str": "1"}}

	_, err := h.c.Timeline(context.Background(), "alice", TimelineOptions{})
	var mp *model.MalformedPayloadError
	require.ErrorAs(t, err, &mp)
	assert.Equal(t, "created_at", mp.Key)
	assert.False(t, mustProfile(t, h, "alice").TweetBackfilled)
}

func TestScenarioSetTagging(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()
	handles := []string{"alice", "bob", "carol"}
	for i, name := range handles {
		id := fmt.Sprint(i + 1)
		h.src.Profiles[name] = userPayload(t, id, name)
		h.src.Timelines[name] = timeline(t, base, (i+1)*1000, 40, id)
	}

	_, err := h.c.Profiles(ctx, handles, []string{"test"}, false)
	require.NoError(t, err)
	members, err := sets.Members(ctx, h.st, model.ProfileSet, "test")
	require.NoError(t, err)
	require.ElementsMatch(t, handles, members)

	sum, err := h.c.Timelines(ctx, members, TimelineOptions{
		Options:   backfill.Options{Limit: 25},
		TweetSets: []string{"test-tweets"},
	}, false)
	require.NoError(t, err)
	assert.Equal(t, 75, sum.Scanned)

	total := 0
	for _, name := range handles {
		p := mustProfile(t, h, name)
		n, err := h.st.CountTweets(ctx, p.ID)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 25, name)
		assert.False(t, p.TweetBackfilled, name)
		total += n
	}
	tagged, err := sets.Members(ctx, h.st, model.TweetSet, "test-tweets")
	require.NoError(t, err)
	assert.Len(t, tagged, total)
}

func TestScenarioDateBoundedResume(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	h.src.Timelines["alice"] = timeline(t, base, 0, 30, "1")
	d1, d2 := base.AddDate(0, 0, -20), base.AddDate(0, 0, -10)

	_, err := h.c.Timeline(ctx, "alice", TimelineOptions{})
	require.NoError(t, err)
	p := mustProfile(t, h, "alice")
	original, err := h.st.CountTweets(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, 30, original)

	_, err = h.st.DeleteTweetsBefore(ctx, p.ID, d2)
	require.NoError(t, err)
	trimmed, err := h.st.CountTweets(ctx, p.ID)
	require.NoError(t, err)

	_, err = h.c.Timeline(ctx, "alice", TimelineOptions{Options: backfill.Options{IgnoreBackfill: true, MaxDate: d1}})
	require.NoError(t, err)
	bounded, err := h.st.CountTweets(ctx, p.ID)
	require.NoError(t, err)
	assert.Greater(t, bounded, trimmed)
	assert.Less(t, bounded, original)
	oldest, err := h.st.OldestTweetTime(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, oldest.Before(d1.AddDate(0, 0, -1)))

	_, err = h.c.Timeline(ctx, "alice", TimelineOptions{Options: backfill.Options{IgnoreBackfill: true}})
	require.NoError(t, err)
	restored, err := h.st.CountTweets(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, original, restored)
}

func TestTimelinesCollectAllOnce(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()
	h.src.Timelines["alice"] = timeline(t, base, 0, 3, "1")
	h.src.Timelines["bob"] = timeline(t, base, 100, 3, "2")

	_, err := h.c.Timeline(ctx, "alice", TimelineOptions{})
	require.NoError(t, err)
	pulled := h.src.Pulled("alice")

	sum, err := h.c.Timelines(ctx, []string{"alice", "bob"}, TimelineOptions{}, true)
	require.NoError(t, err)
	assert.Equal(t, model.Summary{Scanned: 3, Updated: 3}, sum)
	assert.Equal(t, pulled, h.src.Pulled("alice"))
}
