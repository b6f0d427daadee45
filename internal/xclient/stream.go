package xclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"

	"birdseed/internal/model"
)

// Stream follows statuses/filter for the given keywords. Keep-alive newlines
// and control messages are skipped; the sequence ends when ctx is done or the
// server closes the connection.
func (c *HTTPClient) Stream(ctx context.Context, keywords []string) iter.Seq2[model.Payload, error] {
	return func(yield func(model.Payload, error) bool) {
		if !c.oauth.Complete() {
			yield(nil, errors.New("x stream: oauth1 credentials required"))
			return
		}
		params := map[string]string{"track": strings.Join(keywords, ","), "tweet_mode": "extended"}
		endpoint := c.streamURL + "/statuses/filter.json"
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(encodeQuery(params)))
		if err != nil {
			yield(nil, err)
			return
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		c.oauth.Sign(req, params)
		if err := c.limiter.Wait(ctx); err != nil {
			yield(nil, err)
			return
		}
		resp, err := c.streamClient.Do(req)
		if err != nil {
			if ctx.Err() == nil {
				yield(nil, err)
			}
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			yield(nil, apiError(resp.StatusCode, body))
			return
		}

		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			p, err := model.DecodePayload([]byte(line))
			if err != nil {
				if !yield(nil, fmt.Errorf("decode stream message: %w", err)) {
					return
				}
				continue
			}
			if !p.Has("id_str") || !p.Has("user") {
				continue
			}
			if !yield(p, nil) {
				return
			}
		}
		if err := sc.Err(); err != nil && ctx.Err() == nil {
			yield(nil, err)
		}
	}
}
