package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"birdseed/internal/model"
)

// EnsureSet returns the named set of kind, creating it if needed.
func (s *Store) EnsureSet(ctx context.Context, kind model.SetKind, name string) (*model.NamedSet, error) {
	if _, err := s.exec(ctx, `INSERT INTO {sets}(kind, name) VALUES(?, ?) ON CONFLICT(kind, name) DO NOTHING`, string(kind), name); err != nil {
		return nil, fmt.Errorf("ensure %s set %q: %w", kind, name, err)
	}
	return s.GetSet(ctx, kind, name)
}

// GetSet looks up a named set without creating it.
func (s *Store) GetSet(ctx context.Context, kind model.SetKind, name string) (*model.NamedSet, error) {
	ns := &model.NamedSet{Kind: kind, Name: name}
	err := s.queryRow(ctx, `SELECT id FROM {sets} WHERE kind = ? AND name = ?`, string(kind), name).Scan(&ns.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s set %q: %w", kind, name, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return ns, nil
}

// AddToSet attaches an entity row to a set. Repeated adds are ignored.
func (s *Store) AddToSet(ctx context.Context, set *model.NamedSet, entityID int64) error {
	q := `INSERT INTO {set_profiles}(set_id, profile_id) VALUES(?, ?) ON CONFLICT DO NOTHING`
	if set.Kind == model.TweetSet {
		q = `INSERT INTO {set_tweets}(set_id, tweet_id) VALUES(?, ?) ON CONFLICT DO NOTHING`
	}
	if _, err := s.exec(ctx, q, set.ID, entityID); err != nil {
		return fmt.Errorf("add to %s set %q: %w", set.Kind, set.Name, err)
	}
	return nil
}

// SetMembers returns the canonical external IDs of a set's members in
// insertion order.
func (s *Store) SetMembers(ctx context.Context, set *model.NamedSet) ([]string, error) {
	q := `SELECT p.external_id FROM {set_profiles} m JOIN {profiles} p ON p.id = m.profile_id WHERE m.set_id = ? ORDER BY p.id`
	if set.Kind == model.TweetSet {
		q = `SELECT t.external_id FROM {set_tweets} m JOIN {tweets} t ON t.id = m.tweet_id WHERE m.set_id = ? ORDER BY t.id`
	}
	rows, err := s.query(ctx, q, set.ID)
	if err != nil {
		return nil, err
	}
	return collectStrings(rows)
}

// CountSetMembers returns the number of entities in a set.
func (s *Store) CountSetMembers(ctx context.Context, set *model.NamedSet) (int, error) {
	q := `SELECT COUNT(*) FROM {set_profiles} WHERE set_id = ?`
	if set.Kind == model.TweetSet {
		q = `SELECT COUNT(*) FROM {set_tweets} WHERE set_id = ?`
	}
	var n int
	err := s.queryRow(ctx, q, set.ID).Scan(&n)
	return n, err
}
