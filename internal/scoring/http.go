package scoring

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"birdseed/internal/model"
)

// HTTPScorer calls a Botometer-compatible check_account endpoint.
type HTTPScorer struct {
	client *resty.Client
}

func NewHTTPScorer(endpoint, apiKey string) *HTTPScorer {
	c := resty.New().
		SetBaseURL(endpoint).
		SetHeader("Content-Type", "application/json").
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)
	if apiKey != "" {
		c.SetHeader("X-RapidAPI-Key", apiKey)
	}
	return &HTTPScorer{client: c}
}

type checkRequest struct {
	User struct {
		IDStr string `json:"id_str"`
	} `json:"user"`
}

// Score checks each account in turn. Accounts the endpoint reports as
// missing are skipped; any other failure aborts.
func (s *HTTPScorer) Score(ctx context.Context, ids []string) (map[string]model.Payload, error) {
	out := make(map[string]model.Payload, len(ids))
	for _, id := range ids {
		var body checkRequest
		body.User.IDStr = id
		resp, err := s.client.R().
			SetContext(ctx).
			SetBody(&body).
			Post("/check_account")
		if err != nil {
			return out, fmt.Errorf("score %s: %w", id, err)
		}
		switch resp.StatusCode() {
		case http.StatusOK:
		case http.StatusNotFound:
			continue
		default:
			return out, fmt.Errorf("score %s: status %d: %s", id, resp.StatusCode(), resp.String())
		}
		p, err := model.DecodePayload(resp.Body())
		if err != nil {
			return out, fmt.Errorf("decode score %s: %w", id, err)
		}
		out[id] = p
	}
	return out, nil
}
