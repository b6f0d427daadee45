package xclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"birdseed/internal/metrics"
	"birdseed/internal/model"
)

// Source is the social API as the collectors see it. Sequences are lazy:
// pages are fetched only as the consumer pulls, and breaking out of a range
// loop stops paging.
type Source interface {
	FetchProfile(ctx context.Context, id string) (model.Payload, error)
	Timeline(ctx context.Context, id string, q TimelineQuery) iter.Seq2[model.Payload, error]
	Followers(ctx context.Context, id string, hydrate bool) iter.Seq2[Edge, error]
	Followings(ctx context.Context, id string, hydrate bool) iter.Seq2[Edge, error]
	Stream(ctx context.Context, keywords []string) iter.Seq2[model.Payload, error]
}

// TimelineQuery bounds a timeline walk. A non-zero Since lets the client
// stop paging once a page reaches older items.
type TimelineQuery struct {
	Since    time.Time
	PageSize int
}

// Edge is one follower or following. Profile is set only when hydrated and
// the account could be looked up.
type Edge struct {
	ID      string
	Profile model.Payload
}

// HTTPClient talks to the v1.1 REST API with a bearer token and to the
// filter stream with OAuth 1.0a user context.
type HTTPClient struct {
	baseURL      string
	streamURL    string
	bearerToken  string
	httpClient   *http.Client
	streamClient *http.Client
	limiter      *rate.Limiter
	maxAttempts  int
	baseBackoff  time.Duration
	oauth        *OAuth1
}

func NewHTTPClient(bearerToken string) *HTTPClient {
	return &HTTPClient{
		baseURL:      "https://api.twitter.com/1.1",
		streamURL:    "https://stream.twitter.com/1.1",
		bearerToken:  bearerToken,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		streamClient: &http.Client{},
		limiter:      newDefaultLimiter(),
		maxAttempts:  getEnvInt("X_API_MAX_ATTEMPTS", 5),
		baseBackoff:  time.Duration(getEnvInt("X_API_BASE_BACKOFF_MS", 500)) * time.Millisecond,
	}
}

// WithOAuth1 enables user-context signing, required for the stream and used
// for REST calls when no bearer token is set.
func (c *HTTPClient) WithOAuth1(o *OAuth1) *HTTPClient {
	c.oauth = o
	return c
}

// WithRateLimit replaces the request limiter.
func (c *HTTPClient) WithRateLimit(rps float64, burst int) *HTTPClient {
	c.limiter = newLimiter(rps, burst)
	return c
}

func (c *HTTPClient) authorize(req *http.Request, params map[string]string) error {
	req.Header.Set("Accept", "application/json")
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
		return nil
	}
	if c.oauth != nil {
		c.oauth.Sign(req, params)
		return nil
	}
	return errors.New("x api: no credentials configured")
}

// userParam selects user_id for numeric IDs and screen_name otherwise.
func userParam(id string) (string, string) {
	if _, err := strconv.ParseUint(id, 10, 64); err == nil {
		return "user_id", id
	}
	return "screen_name", strings.TrimPrefix(id, "@")
}

// get performs a rate-limited GET and returns the body of a 2xx response.
func (c *HTTPClient) get(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + encodeQuery(params)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	if err := c.authorize(req, params); err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.doWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, apiError(resp.StatusCode, body)
	}
	return body, nil
}

// apiError maps an error response onto SourceError when the target itself
// is unavailable.
func apiError(status int, body []byte) error {
	var envelope struct {
		Errors []struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"errors"`
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &envelope)
	for _, e := range envelope.Errors {
		switch e.Code {
		case model.CodeNotFound, model.CodeUserNotFound, model.CodeSuspended, model.CodeProtected:
			return &model.SourceError{Code: e.Code, Reason: e.Message}
		}
	}
	switch status {
	case http.StatusUnauthorized:
		if envelope.Error != "" {
			return &model.SourceError{Code: model.CodeProtected, Reason: envelope.Error}
		}
		return &model.SourceError{Code: model.CodeUnauthorized, Reason: "unauthorized"}
	case http.StatusForbidden:
		return &model.SourceError{Code: model.CodeForbidden, Reason: "forbidden"}
	case http.StatusNotFound:
		return &model.SourceError{Code: model.CodeNotFound, Reason: "not found"}
	}
	return fmt.Errorf("x api status %d", status)
}

// FetchProfile returns the user object for a screen name or numeric ID.
func (c *HTTPClient) FetchProfile(ctx context.Context, id string) (model.Payload, error) {
	k, v := userParam(id)
	body, err := c.get(ctx, "/users/show.json", map[string]string{k: v, "include_entities": "true"})
	if err != nil {
		return nil, err
	}
	return model.DecodePayload(body)
}

// Timeline walks a user's tweets newest first, paging with max_id.
func (c *HTTPClient) Timeline(ctx context.Context, id string, q TimelineQuery) iter.Seq2[model.Payload, error] {
	return func(yield func(model.Payload, error) bool) {
		k, v := userParam(id)
		params := map[string]string{
			k:             v,
			"count":       strconv.Itoa(clamp(q.PageSize, 1, 200, 200)),
			"tweet_mode":  "extended",
			"include_rts": "true",
		}
		for {
			body, err := c.get(ctx, "/statuses/user_timeline.json", params)
			if err != nil {
				yield(nil, err)
				return
			}
			page, err := decodeArray(body)
			if err != nil {
				yield(nil, err)
				return
			}
			if len(page) == 0 {
				return
			}
			var oldest uint64
			var oldestAt time.Time
			for _, p := range page {
				if !yield(p, nil) {
					return
				}
				if s, ok := p.ID("id"); ok {
					if n, err := strconv.ParseUint(s, 10, 64); err == nil && (oldest == 0 || n < oldest) {
						oldest = n
					}
				}
				if at, ok := p.Time("created_at"); ok {
					oldestAt = at
				}
			}
			if oldest <= 1 {
				return
			}
			if !q.Since.IsZero() && !oldestAt.IsZero() && oldestAt.Before(q.Since) {
				return
			}
			params["max_id"] = strconv.FormatUint(oldest-1, 10)
		}
	}
}

func (c *HTTPClient) Followers(ctx context.Context, id string, hydrate bool) iter.Seq2[Edge, error] {
	return c.edges(ctx, "/followers/ids.json", id, hydrate)
}

func (c *HTTPClient) Followings(ctx context.Context, id string, hydrate bool) iter.Seq2[Edge, error] {
	return c.edges(ctx, "/friends/ids.json", id, hydrate)
}

func (c *HTTPClient) edges(ctx context.Context, path, id string, hydrate bool) iter.Seq2[Edge, error] {
	return func(yield func(Edge, error) bool) {
		k, v := userParam(id)
		cursor := "-1"
		for cursor != "0" && cursor != "" {
			body, err := c.get(ctx, path, map[string]string{k: v, "cursor": cursor, "count": "5000", "stringify_ids": "true"})
			if err != nil {
				yield(Edge{}, err)
				return
			}
			var page struct {
				IDs        []json.Number `json:"ids"`
				NextCursor string        `json:"next_cursor_str"`
			}
			dec := json.NewDecoder(bytes.NewReader(body))
			dec.UseNumber()
			if err := dec.Decode(&page); err != nil {
				yield(Edge{}, fmt.Errorf("decode %s: %w", path, err))
				return
			}
			ids := make([]string, len(page.IDs))
			for i, n := range page.IDs {
				ids[i] = n.String()
			}
			if !c.yieldEdges(ctx, ids, hydrate, yield) {
				return
			}
			cursor = page.NextCursor
		}
	}
}

func (c *HTTPClient) yieldEdges(ctx context.Context, ids []string, hydrate bool, yield func(Edge, error) bool) bool {
	if !hydrate {
		for _, id := range ids {
			if !yield(Edge{ID: id}, nil) {
				return false
			}
		}
		return true
	}
	for _, chunk := range chunks(ids, 100) {
		users, err := c.LookupUsers(ctx, chunk)
		if err != nil {
			yield(Edge{}, err)
			return false
		}
		for _, id := range chunk {
			if !yield(Edge{ID: id, Profile: users[id]}, nil) {
				return false
			}
		}
	}
	return true
}

// LookupUsers hydrates up to 100 numeric IDs per request. Accounts the API
// does not return are absent from the map.
func (c *HTTPClient) LookupUsers(ctx context.Context, ids []string) (map[string]model.Payload, error) {
	out := make(map[string]model.Payload, len(ids))
	for _, chunk := range chunks(ids, 100) {
		body, err := c.get(ctx, "/users/lookup.json", map[string]string{"user_id": strings.Join(chunk, ","), "include_entities": "true"})
		var se *model.SourceError
		if errors.As(err, &se) && se.Code == model.CodeNotFound {
			continue
		}
		if err != nil {
			return out, err
		}
		users, err := decodeArray(body)
		if err != nil {
			return out, err
		}
		for _, u := range users {
			if id, ok := u.ID("id"); ok {
				out[id] = u
			}
		}
	}
	return out, nil
}

func chunks(ids []string, size int) [][]string {
	var out [][]string
	for i := 0; i < len(ids); i += size {
		end := min(i+size, len(ids))
		out = append(out, ids[i:end])
	}
	return out
}

func decodeArray(body []byte) ([]model.Payload, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode array: %w", err)
	}
	out := make([]model.Payload, 0, len(raw))
	for _, r := range raw {
		p, err := model.DecodePayload(r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func clamp(v, lo, hi, def int) int {
	if v <= 0 {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (c *HTTPClient) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	backoff := c.baseBackoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		resp, err := c.httpClient.Do(req.Clone(ctx))
		if err == nil {
			retryable := resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)
			if !retryable || attempt == c.maxAttempts {
				return resp, nil
			}
			ra := resp.Header.Get("Retry-After")
			_ = resp.Body.Close()
			wait := backoff
			if ra != "" {
				if secs, err := strconv.Atoi(ra); err == nil {
					wait = time.Duration(secs) * time.Second
				} else if t, err := http.ParseTime(ra); err == nil {
					if d := time.Until(t); d > 0 {
						wait = d
					}
				}
			}
			// jitter +/-20%
			jitter := time.Duration(float64(wait) * 0.2)
			if jitter > 0 {
				wait = wait - jitter + time.Duration(time.Now().UnixNano()%int64(2*jitter))
			}
			metrics.IncAPIRetry(req.URL.Path)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
			continue
		}
		lastErr = err
		metrics.IncAPIRetry(req.URL.Path)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", c.maxAttempts, lastErr)
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil && i > 0 {
		return i
	}
	return def
}

var _ Source = (*HTTPClient)(nil)
