package scoring

import (
	"context"
	"errors"
	"math"
	"strings"

	"birdseed/internal/model"
	"birdseed/internal/util"
)

var (
	selfDeclaredTokens = []string{"bot", "automated", "auto-posted"}
	financialTokens    = []string{"giveaway", "crypto", "forex", "promo", "ref code", "airdrop"}
)

// Heuristic scores stored profile payloads without a remote service.
type Heuristic struct {
	// Lookup returns the latest raw profile for an ID, or model.ErrNotFound.
	Lookup func(ctx context.Context, id string) (model.Payload, error)
}

func (h Heuristic) Score(ctx context.Context, ids []string) (map[string]model.Payload, error) {
	out := make(map[string]model.Payload, len(ids))
	for _, id := range ids {
		p, err := h.Lookup(ctx, id)
		if errors.Is(err, model.ErrNotFound) || (err == nil && p == nil) {
			continue
		}
		if err != nil {
			return out, err
		}
		out[id] = heuristicScore(id, p)
	}
	return out, nil
}

// heuristicScore estimates bot likelihood in [0,1]; lower is better.
func heuristicScore(id string, u model.Payload) model.Payload {
	verified, _ := u.Bool("verified")
	followers, _ := u.Int("followers_count")
	friends, _ := u.Int("friends_count")
	statuses, _ := u.Int("statuses_count")
	description, _ := u.String("description")
	defaultImage, _ := u.Bool("default_profile_image")
	defaultProfile, _ := u.Bool("default_profile")
	description = strings.ToLower(strings.TrimSpace(description))

	fake := 0.0
	if !verified && followers < 50 && friends > 500 {
		fake = 0.6
	}
	spam := 0.0
	if followers > 0 && statuses/max(followers, 1) > 100 {
		spam = 0.5
	}
	selfDeclared := 0.0
	if util.ContainsAnyCaseInsensitive(description, selfDeclaredTokens) {
		selfDeclared = 0.8
	}
	financial := 0.0
	if util.ContainsAnyCaseInsensitive(description, financialTokens) {
		financial = 0.6
	}

	overall := 0.2
	if defaultImage || defaultProfile {
		overall += 0.2
	}
	if fake > 0 {
		overall += 0.3
	}
	if description == "" {
		overall += 0.1
	}
	overall = round(math.Max(overall, math.Max(spam, math.Max(selfDeclared, financial))))

	scores := map[string]any{
		"astroturf":     0.0,
		"fake_follower": fake,
		"financial":     financial,
		"other":         round(overall / 2),
		"overall":       overall,
		"self_declared": selfDeclared,
		"spammer":       spam,
	}
	return model.Payload{
		"user":       map[string]any{"user_data": map[string]any{"id_str": id}},
		"cap":        map[string]any{"universal": overall, "english": overall},
		"raw_scores": map[string]any{"universal": scores, "english": scores},
		"source":     "heuristic",
	}
}

func round(v float64) float64 {
	if v > 1 {
		v = 1
	}
	return math.Round(v*100) / 100
}
