package xclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"birdseed/internal/model"
)

// helper to create client with injected http client
func newTestClient(ts *httptest.Server) *HTTPClient {
	c := NewHTTPClient("test")
	c.maxAttempts = 3
	c.baseBackoff = 10 * time.Millisecond
	c.httpClient = ts.Client()
	c.streamClient = ts.Client()
	c.baseURL = ts.URL
	c.streamURL = ts.URL
	c.WithRateLimit(1000, 100)
	return c
}

func TestDoWithRetryHandles429(t *testing.T) {
	attempts := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/test", nil)
	resp, err := c.doWithRetry(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.GreaterOrEqual(t, attempts, 2)
}

func TestFetchProfileChoosesParameter(t *testing.T) {
	var got []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/show.json", r.URL.Path)
		assert.Equal(t, "Bearer test", r.Header.Get("Authorization"))
		q := r.URL.Query()
		got = append(got, q.Get("user_id")+"|"+q.Get("screen_name"))
		_, _ = w.Write([]byte(`{"id":12345678901234567890,"id_str":"12345678901234567890","screen_name":"Alice"}`))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	p, err := c.FetchProfile(context.Background(), "12345678901234567890")
	require.NoError(t, err)
	id, _ := p.ID("id")
	assert.Equal(t, "12345678901234567890", id)

	_, err = c.FetchProfile(context.Background(), "@alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"12345678901234567890|", "|alice"}, got)
}

func TestSourceErrorsAreMapped(t *testing.T) {
	cases := []struct {
		status int
		body   string
		code   int
	}{
		{http.StatusForbidden, `{"errors":[{"code":63,"message":"User has been suspended."}]}`, model.CodeSuspended},
		{http.StatusNotFound, `{"errors":[{"code":50,"message":"User not found."}]}`, model.CodeUserNotFound},
		{http.StatusUnauthorized, `{"request":"/1.1/statuses/user_timeline.json","error":"Not authorized."}`, model.CodeProtected},
		{http.StatusForbidden, `{}`, model.CodeForbidden},
		{http.StatusNotFound, ``, model.CodeNotFound},
	}
	for _, tc := range cases {
		t.Run(strconv.Itoa(tc.code), func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer ts.Close()

			_, err := newTestClient(ts).FetchProfile(context.Background(), "alice")
			var se *model.SourceError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tc.code, se.Code)
			assert.ErrorIs(t, err, model.ErrSourceUnavailable)
		})
	}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()
	_, err := newTestClient(ts).FetchProfile(context.Background(), "alice")
	require.Error(t, err)
	assert.NotErrorIs(t, err, model.ErrSourceUnavailable)
}

func tweetJSON(id int) string {
	return fmt.Sprintf(`{"id":%d,"id_str":"%d","created_at":"Mon Jan 02 15:04:05 +0000 2023","full_text":"t%d","user":{"id_str":"1"}}`, id, id, id)
}

func TestTimelinePagesWithMaxID(t *testing.T) {
	var maxIDs []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "extended", q.Get("tweet_mode"))
		maxIDs = append(maxIDs, q.Get("max_id"))
		switch q.Get("max_id") {
		case "":
			_, _ = w.Write([]byte("[" + tweetJSON(30) + "," + tweetJSON(20) + "]"))
		case "19":
			_, _ = w.Write([]byte("[" + tweetJSON(10) + "]"))
		default:
			_, _ = w.Write([]byte("[]"))
		}
	}))
	defer ts.Close()

	var ids []string
	for p, err := range newTestClient(ts).Timeline(context.Background(), "alice", TimelineQuery{}) {
		require.NoError(t, err)
		id, _ := p.ID("id")
		ids = append(ids, id)
	}
	assert.Equal(t, []string{"30", "20", "10"}, ids)
	assert.Equal(t, []string{"", "19", "9"}, maxIDs)
}

func TestTimelineStopsWhenConsumerBreaks(t *testing.T) {
	var requests atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		_, _ = w.Write([]byte("[" + tweetJSON(30) + "," + tweetJSON(20) + "]"))
	}))
	defer ts.Close()

	n := 0
	for _, err := range newTestClient(ts).Timeline(context.Background(), "alice", TimelineQuery{}) {
		require.NoError(t, err)
		n++
		break
	}
	assert.Equal(t, 1, n)
	assert.Equal(t, int32(1), requests.Load())
}

func TestTimelineStopsPagingPastSince(t *testing.T) {
	var requests atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		_, _ = w.Write([]byte("[" + tweetJSON(30) + "]"))
	}))
	defer ts.Close()

	q := TimelineQuery{Since: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	n := 0
	for _, err := range newTestClient(ts).Timeline(context.Background(), "alice", q) {
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 1, n)
	assert.Equal(t, int32(1), requests.Load())
}

func TestFollowersHydrateInChunks(t *testing.T) {
	ids := make([]string, 150)
	for i := range ids {
		ids[i] = strconv.Itoa(1000 + i)
	}
	var lookups [][]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch r.URL.Path {
		case "/followers/ids.json":
			if q.Get("cursor") == "-1" {
				fmt.Fprintf(w, `{"ids":[%s],"next_cursor_str":"7"}`, strings.Join(ids[:120], ","))
				return
			}
			assert.Equal(t, "7", q.Get("cursor"))
			fmt.Fprintf(w, `{"ids":[%s],"next_cursor_str":"0"}`, strings.Join(ids[120:], ","))
		case "/users/lookup.json":
			chunk := strings.Split(q.Get("user_id"), ",")
			lookups = append(lookups, chunk)
			var users []string
			for _, id := range chunk {
				if id == "1005" {
					continue
				}
				users = append(users, fmt.Sprintf(`{"id_str":"%s","screen_name":"u%s"}`, id, id))
			}
			_, _ = w.Write([]byte("[" + strings.Join(users, ",") + "]"))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer ts.Close()

	var edges []Edge
	for e, err := range newTestClient(ts).Followers(context.Background(), "alice", true) {
		require.NoError(t, err)
		edges = append(edges, e)
	}
	require.Len(t, edges, 150)
	for _, l := range lookups {
		assert.LessOrEqual(t, len(l), 100)
	}
	assert.Len(t, lookups, 3)
	assert.Equal(t, "1000", edges[0].ID)
	assert.NotNil(t, edges[0].Profile)
	assert.Nil(t, edges[5].Profile)
}

func TestFollowingsWithoutHydration(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/friends/ids.json", r.URL.Path)
		_, _ = w.Write([]byte(`{"ids":["1","2"],"next_cursor_str":"0"}`))
	}))
	defer ts.Close()

	var got []string
	for e, err := range newTestClient(ts).Followings(context.Background(), "alice", false) {
		require.NoError(t, err)
		assert.Nil(t, e.Profile)
		got = append(got, e.ID)
	}
	assert.Equal(t, []string{"1", "2"}, got)
}

func TestStreamSignsAndSkipsControlMessages(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "OAuth "))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "go,sqlite", r.PostForm.Get("track"))
		_, _ = w.Write([]byte(tweetJSON(1) + "\r\n\r\n{\"limit\":{\"track\":3}}\r\n" + tweetJSON(2) + "\r\n"))
	}))
	defer ts.Close()

	c := newTestClient(ts).WithOAuth1(NewOAuth1("ck", "cs", "at", "as"))
	var ids []string
	for p, err := range c.Stream(context.Background(), []string{"go", "sqlite"}) {
		require.NoError(t, err)
		id, _ := p.ID("id")
		ids = append(ids, id)
	}
	assert.Equal(t, []string{"1", "2"}, ids)
}

func TestStreamRequiresOAuth(t *testing.T) {
	c := NewHTTPClient("test")
	for _, err := range c.Stream(context.Background(), []string{"go"}) {
		assert.ErrorContains(t, err, "oauth1")
	}
}
