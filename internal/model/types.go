package model

import "time"

// Profile is the canonical local record of an account.
// Pointer fields are nil until a payload has supplied them.
type Profile struct {
	ID         int64
	ExternalID string
	AltIDs     []string

	ScreenName          *string
	Name                *string
	Description         *string
	Language            *string
	Location            *string
	StatusText          *string
	FollowersCount      *int64
	FriendsCount        *int64
	StatusesCount       *int64
	FavouritesCount     *int64
	ListedCount         *int64
	Verified            *bool
	ContributorsEnabled *bool
	URLs                []string
	CreatedAt           *time.Time

	TweetBackfilled  bool
	ErrorCode        *int
	LatestSnapshotID *int64
	UpdatedAt        time.Time
	Raw              Payload
}

// KnownIDs returns the canonical ID followed by every alias.
func (p *Profile) KnownIDs() []string {
	out := make([]string, 0, 1+len(p.AltIDs))
	out = append(out, p.ExternalID)
	out = append(out, p.AltIDs...)
	return out
}

// Snapshot is an immutable capture of a profile's mutable attributes.
type Snapshot struct {
	ID             int64
	ProfileID      int64
	ScreenName     string
	Description    string
	FollowersCount int64
	FriendsCount   int64
	StatusesCount  int64
	Verified       bool
	Digest         string
	Raw            Payload
	CapturedAt     time.Time
}

// Tweet is owned by exactly one author profile.
type Tweet struct {
	ID            int64
	ExternalID    string
	AuthorID      int64
	Text          string
	Language      string
	CreatedAt     time.Time
	RetweetCount  int64
	FavoriteCount int64
	Retweeted     bool
	Favorited     bool
	Links         []string
	MediaURLs     []string
	Hashtags      []string
	Mentions      []string
	UpdatedAt     time.Time
	Raw           Payload
}

// EdgeKind names the direction of a relationship list.
type EdgeKind string

const (
	Followers  EdgeKind = "followers"
	Followings EdgeKind = "followings"
)

// ListStatus is the lifecycle state of a relationship list.
type ListStatus string

const (
	ListInProgress ListStatus = "in_progress"
	ListComplete   ListStatus = "complete"
	ListAborted    ListStatus = "aborted"
)

// RelationshipList is one time-boxed collection of follower or following edges.
type RelationshipList struct {
	ID         int64
	RunID      string
	ProfileID  int64
	Kind       EdgeKind
	Status     ListStatus
	StartTime  time.Time
	FinishTime *time.Time
	Size       int
}

// SetKind selects the entity type a named set holds.
type SetKind string

const (
	ProfileSet SetKind = "profile"
	TweetSet   SetKind = "tweet"
)

// NamedSet is a unique name mapped to a set of entities.
type NamedSet struct {
	ID   int64
	Kind SetKind
	Name string
}

// BotometerScore is one scoring run for a profile.
type BotometerScore struct {
	ID         int64
	ProfileID  int64
	Categories map[string]float64
	Raw        Payload
	ScoredAt   time.Time
}

// Summary is the result every collection operation returns.
type Summary struct {
	Scanned int `json:"scanned"`
	Updated int `json:"updated"`
	Errors  int `json:"errors"`
}

// Add accumulates another summary into s.
func (s *Summary) Add(o Summary) {
	s.Scanned += o.Scanned
	s.Updated += o.Updated
	s.Errors += o.Errors
}
