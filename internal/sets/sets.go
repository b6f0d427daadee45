// Package sets tags profiles and tweets into named sets.
package sets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"birdseed/internal/model"
	"birdseed/internal/store"
)

var ErrEmptyName = errors.New("set name is empty")

// Ensure returns the set of kind called name, creating it if needed.
func Ensure(ctx context.Context, st *store.Store, kind model.SetKind, name string) (*model.NamedSet, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}
	return st.EnsureSet(ctx, kind, name)
}

// Add attaches an entity row to set. Adding a member twice is a no-op.
func Add(ctx context.Context, st *store.Store, set *model.NamedSet, entityID int64) error {
	return st.AddToSet(ctx, set, entityID)
}

// Members lists the external IDs in the named set, or ErrNotFound.
func Members(ctx context.Context, st *store.Store, kind model.SetKind, name string) ([]string, error) {
	set, err := st.GetSet(ctx, kind, strings.TrimSpace(name))
	if err != nil {
		return nil, err
	}
	return st.SetMembers(ctx, set)
}

// Tagger adds every entity a run produces to a fixed list of sets.
type Tagger struct {
	sets []*model.NamedSet
}

// NewTagger ensures every named set of kind exists. Duplicate and blank
// names are ignored.
func NewTagger(ctx context.Context, st *store.Store, kind model.SetKind, names []string) (*Tagger, error) {
	t := &Tagger{}
	seen := map[string]bool{}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		set, err := Ensure(ctx, st, kind, n)
		if err != nil {
			return nil, fmt.Errorf("tagger: %w", err)
		}
		t.sets = append(t.sets, set)
	}
	return t, nil
}

// Tag adds entityID to every set. A nil Tagger tags nothing.
func (t *Tagger) Tag(ctx context.Context, st *store.Store, entityID int64) error {
	if t == nil {
		return nil
	}
	for _, set := range t.sets {
		if err := Add(ctx, st, set, entityID); err != nil {
			return err
		}
	}
	return nil
}

// Len returns how many sets are tagged.
func (t *Tagger) Len() int {
	if t == nil {
		return 0
	}
	return len(t.sets)
}
