package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"birdseed/internal/model"
)

// CreateList opens an in-progress relationship list for a profile.
func (s *Store) CreateList(ctx context.Context, profileID int64, kind model.EdgeKind, runID string, start time.Time) (*model.RelationshipList, error) {
	l := &model.RelationshipList{RunID: runID, ProfileID: profileID, Kind: kind, Status: model.ListInProgress, StartTime: start.UTC()}
	err := s.queryRow(ctx, `INSERT INTO {lists}(run_id, profile_id, kind, status, start_time) VALUES(?, ?, ?, ?, ?) RETURNING id`,
		runID, profileID, string(kind), string(model.ListInProgress), start.Unix()).Scan(&l.ID)
	if err != nil {
		return nil, fmt.Errorf("create %s list: %w", kind, err)
	}
	return l, nil
}

// AddListMember records an edge target. Repeated adds are ignored.
func (s *Store) AddListMember(ctx context.Context, listID, profileID int64) error {
	_, err := s.exec(ctx, `INSERT INTO {list_members}(list_id, profile_id) VALUES(?, ?) ON CONFLICT DO NOTHING`, listID, profileID)
	return err
}

// FinishList moves a list to a terminal status.
func (s *Store) FinishList(ctx context.Context, listID int64, status model.ListStatus, finish time.Time) error {
	_, err := s.exec(ctx, `UPDATE {lists} SET status = ?, finish_time = ? WHERE id = ?`, string(status), finish.Unix(), listID)
	return err
}

// DeleteList removes a list and its members.
func (s *Store) DeleteList(ctx context.Context, listID int64) error {
	_, err := s.exec(ctx, `DELETE FROM {lists} WHERE id = ?`, listID)
	return err
}

// GetList loads a list by ID with its member count.
func (s *Store) GetList(ctx context.Context, listID int64) (*model.RelationshipList, error) {
	l, err := s.scanList(s.queryRow(ctx, `SELECT l.id, l.run_id, l.profile_id, l.kind, l.status, l.start_time, l.finish_time,
		(SELECT COUNT(*) FROM {list_members} m WHERE m.list_id = l.id)
		FROM {lists} l WHERE l.id = ?`, listID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("list %d: %w", listID, model.ErrNotFound)
	}
	return l, err
}

// CurrentList returns the most recently started complete list of kind.
func (s *Store) CurrentList(ctx context.Context, profileID int64, kind model.EdgeKind) (*model.RelationshipList, error) {
	l, err := s.scanList(s.queryRow(ctx, `SELECT l.id, l.run_id, l.profile_id, l.kind, l.status, l.start_time, l.finish_time,
		(SELECT COUNT(*) FROM {list_members} m WHERE m.list_id = l.id)
		FROM {lists} l WHERE l.profile_id = ? AND l.kind = ? AND l.status = ?
		ORDER BY l.start_time DESC, l.id DESC LIMIT 1`, profileID, string(kind), string(model.ListComplete)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("current %s of profile %d: %w", kind, profileID, model.ErrNotFound)
	}
	return l, err
}

// ListMembers returns the canonical IDs of a list's members, sorted.
func (s *Store) ListMembers(ctx context.Context, listID int64) ([]string, error) {
	rows, err := s.query(ctx, `SELECT p.external_id FROM {list_members} m JOIN {profiles} p ON p.id = m.profile_id
		WHERE m.list_id = ? ORDER BY p.external_id`, listID)
	if err != nil {
		return nil, err
	}
	return collectStrings(rows)
}

// CurrentMembers returns the members of the current list of kind, or nothing
// when no list has completed.
func (s *Store) CurrentMembers(ctx context.Context, profileID int64, kind model.EdgeKind) ([]string, error) {
	l, err := s.CurrentList(ctx, profileID, kind)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.ListMembers(ctx, l.ID)
}

func (s *Store) scanList(r rowScanner) (*model.RelationshipList, error) {
	var (
		l            model.RelationshipList
		kind, status string
		start        int64
		finish       sql.NullInt64
	)
	if err := r.Scan(&l.ID, &l.RunID, &l.ProfileID, &kind, &status, &start, &finish, &l.Size); err != nil {
		return nil, err
	}
	l.Kind = model.EdgeKind(kind)
	l.Status = model.ListStatus(status)
	l.StartTime = time.Unix(start, 0).UTC()
	if finish.Valid {
		t := time.Unix(finish.Int64, 0).UTC()
		l.FinishTime = &t
	}
	return &l, nil
}
