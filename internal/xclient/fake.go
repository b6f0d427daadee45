package xclient

import (
	"context"
	"iter"
	"sync"

	"birdseed/internal/model"
)

// Fake is an in-memory Source. Errors keyed by ID are returned by every call
// for that ID.
type Fake struct {
	Profiles     map[string]model.Payload
	Timelines    map[string][]model.Payload
	FollowerIDs  map[string][]string
	FollowingIDs map[string][]string
	Streamed     []model.Payload
	// HoldStream keeps the stream open after Streamed is drained until ctx
	// ends.
	HoldStream bool
	Errors     map[string]error

	mu     sync.Mutex
	pulled map[string]int
}

func NewFake() *Fake {
	return &Fake{
		Profiles:     map[string]model.Payload{},
		Timelines:    map[string][]model.Payload{},
		FollowerIDs:  map[string][]string{},
		FollowingIDs: map[string][]string{},
		Errors:       map[string]error{},
		pulled:       map[string]int{},
	}
}

// Pulled returns how many timeline items were consumed for id.
func (f *Fake) Pulled(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pulled[id]
}

func (f *Fake) FetchProfile(_ context.Context, id string) (model.Payload, error) {
	if err := f.Errors[id]; err != nil {
		return nil, err
	}
	p, ok := f.Profiles[id]
	if !ok {
		return nil, &model.SourceError{Code: model.CodeUserNotFound, Reason: "user not found"}
	}
	return p, nil
}

func (f *Fake) Timeline(ctx context.Context, id string, _ TimelineQuery) iter.Seq2[model.Payload, error] {
	return func(yield func(model.Payload, error) bool) {
		if err := f.Errors[id]; err != nil {
			yield(nil, err)
			return
		}
		for _, p := range f.Timelines[id] {
			if ctx.Err() != nil {
				yield(nil, ctx.Err())
				return
			}
			f.mu.Lock()
			f.pulled[id]++
			f.mu.Unlock()
			if !yield(p, nil) {
				return
			}
		}
	}
}

func (f *Fake) Followers(ctx context.Context, id string, hydrate bool) iter.Seq2[Edge, error] {
	return f.edges(ctx, f.FollowerIDs[id], id, hydrate)
}

func (f *Fake) Followings(ctx context.Context, id string, hydrate bool) iter.Seq2[Edge, error] {
	return f.edges(ctx, f.FollowingIDs[id], id, hydrate)
}

func (f *Fake) edges(_ context.Context, ids []string, owner string, hydrate bool) iter.Seq2[Edge, error] {
	return func(yield func(Edge, error) bool) {
		if err := f.Errors[owner]; err != nil {
			yield(Edge{}, err)
			return
		}
		for _, id := range ids {
			e := Edge{ID: id}
			if hydrate {
				e.Profile = f.Profiles[id]
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (f *Fake) Stream(ctx context.Context, _ []string) iter.Seq2[model.Payload, error] {
	return func(yield func(model.Payload, error) bool) {
		for _, p := range f.Streamed {
			if ctx.Err() != nil {
				return
			}
			if !yield(p, nil) {
				return
			}
		}
		if f.HoldStream {
			<-ctx.Done()
		}
	}
}

var _ Source = (*Fake)(nil)
