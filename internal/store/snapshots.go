package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"birdseed/internal/model"
)

// LatestSnapshot returns the most recent snapshot of a profile.
func (s *Store) LatestSnapshot(ctx context.Context, profileID int64) (*model.Snapshot, error) {
	var (
		snap       model.Snapshot
		name, desc sql.NullString
		raw        sql.NullString
		verified   int64
		captured   int64
	)
	err := s.queryRow(ctx, `SELECT id, profile_id, screen_name, description, followers_count, friends_count,
		statuses_count, verified, digest, raw, captured_at FROM {snapshots}
		WHERE profile_id = ? ORDER BY id DESC LIMIT 1`, profileID).Scan(
		&snap.ID, &snap.ProfileID, &name, &desc, &snap.FollowersCount, &snap.FriendsCount,
		&snap.StatusesCount, &verified, &snap.Digest, &raw, &captured)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot of profile %d: %w", profileID, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	snap.ScreenName = name.String
	snap.Description = desc.String
	snap.Verified = verified != 0
	snap.CapturedAt = time.Unix(captured, 0).UTC()
	if snap.Raw, err = decodeRaw(raw); err != nil {
		return nil, err
	}
	return &snap, nil
}

// InsertSnapshot appends a snapshot and sets its ID.
func (s *Store) InsertSnapshot(ctx context.Context, snap *model.Snapshot) error {
	raw, err := encodeRaw(snap.Raw)
	if err != nil {
		return err
	}
	return s.queryRow(ctx, `INSERT INTO {snapshots}(profile_id, screen_name, description, followers_count,
		friends_count, statuses_count, verified, digest, raw, captured_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		snap.ProfileID, snap.ScreenName, snap.Description, snap.FollowersCount, snap.FriendsCount,
		snap.StatusesCount, flag(snap.Verified), snap.Digest, raw, snap.CapturedAt.Unix()).Scan(&snap.ID)
}

// CountSnapshots returns how many snapshots a profile has.
func (s *Store) CountSnapshots(ctx context.Context, profileID int64) (int, error) {
	var n int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM {snapshots} WHERE profile_id = ?`, profileID).Scan(&n)
	return n, err
}

// InsertScore appends a scoring run and sets its ID.
func (s *Store) InsertScore(ctx context.Context, sc *model.BotometerScore) error {
	cats, err := json.Marshal(sc.Categories)
	if err != nil {
		return err
	}
	raw, err := encodeRaw(sc.Raw)
	if err != nil {
		return err
	}
	return s.queryRow(ctx, `INSERT INTO {scores}(profile_id, categories, raw, scored_at) VALUES(?, ?, ?, ?) RETURNING id`,
		sc.ProfileID, string(cats), raw, sc.ScoredAt.Unix()).Scan(&sc.ID)
}

// LatestScore returns the most recent score of a profile.
func (s *Store) LatestScore(ctx context.Context, profileID int64) (*model.BotometerScore, error) {
	var (
		sc     model.BotometerScore
		cats   string
		raw    sql.NullString
		scored int64
	)
	err := s.queryRow(ctx, `SELECT id, profile_id, categories, raw, scored_at FROM {scores}
		WHERE profile_id = ? ORDER BY scored_at DESC, id DESC LIMIT 1`, profileID).Scan(&sc.ID, &sc.ProfileID, &cats, &raw, &scored)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("score of profile %d: %w", profileID, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(cats), &sc.Categories); err != nil {
		return nil, fmt.Errorf("score %d categories: %w", sc.ID, err)
	}
	if sc.Raw, err = decodeRaw(raw); err != nil {
		return nil, err
	}
	sc.ScoredAt = time.Unix(scored, 0).UTC()
	return &sc, nil
}
