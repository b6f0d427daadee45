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

const profileColumns = `id, external_id, screen_name, name, description, language, location, status_text,
	followers_count, friends_count, statuses_count, favourites_count, listed_count, verified,
	contributors_enabled, urls, account_created_at, tweet_backfilled, error_code, latest_snapshot_id,
	updated_at, raw`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(r rowScanner) (*model.Profile, error) {
	var (
		p                                  model.Profile
		screenName, name, desc, lang, loc  sql.NullString
		status, urls, raw                  sql.NullString
		followers, friends, statuses, favs sql.NullInt64
		listed, createdAt, errCode, latest sql.NullInt64
		verified, contributors, backfilled sql.NullInt64
		updatedAt                          int64
	)
	if err := r.Scan(&p.ID, &p.ExternalID, &screenName, &name, &desc, &lang, &loc, &status,
		&followers, &friends, &statuses, &favs, &listed, &verified,
		&contributors, &urls, &createdAt, &backfilled, &errCode, &latest,
		&updatedAt, &raw); err != nil {
		return nil, err
	}
	p.ScreenName = nullString(screenName)
	p.Name = nullString(name)
	p.Description = nullString(desc)
	p.Language = nullString(lang)
	p.Location = nullString(loc)
	p.StatusText = nullString(status)
	p.FollowersCount = nullInt(followers)
	p.FriendsCount = nullInt(friends)
	p.StatusesCount = nullInt(statuses)
	p.FavouritesCount = nullInt(favs)
	p.ListedCount = nullInt(listed)
	p.Verified = nullBool(verified)
	p.ContributorsEnabled = nullBool(contributors)
	p.TweetBackfilled = backfilled.Valid && backfilled.Int64 != 0
	p.LatestSnapshotID = nullInt(latest)
	if errCode.Valid {
		c := int(errCode.Int64)
		p.ErrorCode = &c
	}
	if createdAt.Valid {
		t := time.Unix(createdAt.Int64, 0).UTC()
		p.CreatedAt = &t
	}
	p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	var err error
	if p.URLs, err = decodeStrings(urls); err != nil {
		return nil, fmt.Errorf("profile %d urls: %w", p.ID, err)
	}
	if p.Raw, err = decodeRaw(raw); err != nil {
		return nil, fmt.Errorf("profile %d raw: %w", p.ID, err)
	}
	return &p, nil
}

// InsertProfileIfAbsent creates a bare profile for externalID unless one
// already holds that canonical ID. It reports whether a row was created.
func (s *Store) InsertProfileIfAbsent(ctx context.Context, externalID string, now time.Time) (bool, error) {
	res, err := s.exec(ctx, `INSERT INTO {profiles}(external_id, updated_at) VALUES(?, ?) ON CONFLICT(external_id) DO NOTHING`,
		externalID, now.Unix())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// FindProfiles returns every profile whose canonical ID or alias equals id,
// oldest first.
func (s *Store) FindProfiles(ctx context.Context, id string) ([]*model.Profile, error) {
	rows, err := s.query(ctx, `SELECT `+profileColumns+` FROM {profiles}
		WHERE external_id = ? OR id IN (SELECT profile_id FROM {aliases} WHERE alias = ?)
		ORDER BY id`, id, id)
	if err != nil {
		return nil, err
	}
	var out []*model.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, p := range out {
		if p.AltIDs, err = s.aliases(ctx, p.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// GetProfile loads a profile by row ID.
func (s *Store) GetProfile(ctx context.Context, id int64) (*model.Profile, error) {
	p, err := scanProfile(s.queryRow(ctx, `SELECT `+profileColumns+` FROM {profiles} WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %d: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if p.AltIDs, err = s.aliases(ctx, p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

// GetProfileByExternalID loads a profile by canonical ID only.
func (s *Store) GetProfileByExternalID(ctx context.Context, externalID string) (*model.Profile, error) {
	p, err := scanProfile(s.queryRow(ctx, `SELECT `+profileColumns+` FROM {profiles} WHERE external_id = ?`, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %q: %w", externalID, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if p.AltIDs, err = s.aliases(ctx, p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) aliases(ctx context.Context, profileID int64) ([]string, error) {
	rows, err := s.query(ctx, `SELECT alias FROM {aliases} WHERE profile_id = ? ORDER BY alias`, profileID)
	if err != nil {
		return nil, err
	}
	return collectStrings(rows)
}

// SaveProfile writes every column of p and replaces its alias set.
func (s *Store) SaveProfile(ctx context.Context, p *model.Profile) error {
	urls, err := encodeStrings(p.URLs)
	if err != nil {
		return err
	}
	raw, err := encodeRaw(p.Raw)
	if err != nil {
		return err
	}
	var createdAt any
	if p.CreatedAt != nil {
		createdAt = p.CreatedAt.Unix()
	}
	var errCode any
	if p.ErrorCode != nil {
		errCode = int64(*p.ErrorCode)
	}
	_, err = s.exec(ctx, `UPDATE {profiles} SET external_id=?, screen_name=?, name=?, description=?, language=?,
		location=?, status_text=?, followers_count=?, friends_count=?, statuses_count=?, favourites_count=?,
		listed_count=?, verified=?, contributors_enabled=?, urls=?, account_created_at=?, tweet_backfilled=?,
		error_code=?, latest_snapshot_id=?, updated_at=?, raw=? WHERE id=?`,
		p.ExternalID, strArg(p.ScreenName), strArg(p.Name), strArg(p.Description), strArg(p.Language),
		strArg(p.Location), strArg(p.StatusText), intArg(p.FollowersCount), intArg(p.FriendsCount),
		intArg(p.StatusesCount), intArg(p.FavouritesCount), intArg(p.ListedCount), boolArg(p.Verified),
		boolArg(p.ContributorsEnabled), urls, createdAt, flag(p.TweetBackfilled), errCode,
		intArg(p.LatestSnapshotID), p.UpdatedAt.Unix(), raw, p.ID)
	if err != nil {
		return fmt.Errorf("update profile %d: %w", p.ID, err)
	}
	return s.setAliases(ctx, p.ID, p.AltIDs)
}

func (s *Store) setAliases(ctx context.Context, profileID int64, aliases []string) error {
	if _, err := s.exec(ctx, `DELETE FROM {aliases} WHERE profile_id = ?`, profileID); err != nil {
		return err
	}
	for _, a := range aliases {
		if _, err := s.exec(ctx, `INSERT INTO {aliases}(profile_id, alias) VALUES(?, ?) ON CONFLICT DO NOTHING`, profileID, a); err != nil {
			return fmt.Errorf("alias %q: %w", a, err)
		}
	}
	return nil
}

// SetTweetBackfilled records whether the profile's history has been
// collected to exhaustion.
func (s *Store) SetTweetBackfilled(ctx context.Context, profileID int64, done bool) error {
	_, err := s.exec(ctx, `UPDATE {profiles} SET tweet_backfilled = ? WHERE id = ?`, flag(done), profileID)
	return err
}

// SetProfileError records the last source error code, or clears it when code is nil.
func (s *Store) SetProfileError(ctx context.Context, profileID int64, code *int) error {
	var v any
	if code != nil {
		v = int64(*code)
	}
	_, err := s.exec(ctx, `UPDATE {profiles} SET error_code = ? WHERE id = ?`, v, profileID)
	return err
}

// ReassignProfile moves every record owned by or referencing from onto to.
// Membership rows that already exist for to are dropped.
func (s *Store) ReassignProfile(ctx context.Context, from, to int64) error {
	moves := []string{
		`UPDATE {tweets} SET author_id = ? WHERE author_id = ?`,
		`UPDATE {snapshots} SET profile_id = ? WHERE profile_id = ?`,
		`UPDATE {scores} SET profile_id = ? WHERE profile_id = ?`,
		`UPDATE {lists} SET profile_id = ? WHERE profile_id = ?`,
	}
	for _, q := range moves {
		if _, err := s.exec(ctx, q, to, from); err != nil {
			return fmt.Errorf("reassign %d to %d: %w", from, to, err)
		}
	}
	memberships := []struct{ table, key string }{
		{"{list_members}", "list_id"},
		{"{mentions}", "tweet_id"},
		{"{set_profiles}", "set_id"},
	}
	for _, m := range memberships {
		ins := `INSERT INTO ` + m.table + `(` + m.key + `, profile_id) SELECT ` + m.key + `, ? FROM ` + m.table +
			` WHERE profile_id = ? ON CONFLICT DO NOTHING`
		if _, err := s.exec(ctx, ins, to, from); err != nil {
			return fmt.Errorf("reassign %s: %w", m.table, err)
		}
		if _, err := s.exec(ctx, `DELETE FROM `+m.table+` WHERE profile_id = ?`, from); err != nil {
			return fmt.Errorf("reassign %s: %w", m.table, err)
		}
	}
	return nil
}

// DeleteProfile removes a profile row; dependent rows cascade.
func (s *Store) DeleteProfile(ctx context.Context, id int64) error {
	_, err := s.exec(ctx, `DELETE FROM {profiles} WHERE id = ?`, id)
	return err
}

// CountProfiles returns the number of profile rows.
func (s *Store) CountProfiles(ctx context.Context) (int, error) {
	var n int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM {profiles}`).Scan(&n)
	return n, err
}

// Progress summarizes what has already been collected for a profile.
type Progress struct {
	Snapshots     int
	Tweets        int
	CompleteLists map[model.EdgeKind]bool
}

// ProfileProgress reports collection progress for a profile row.
func (s *Store) ProfileProgress(ctx context.Context, profileID int64) (Progress, error) {
	pr := Progress{CompleteLists: map[model.EdgeKind]bool{}}
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM {snapshots} WHERE profile_id = ?`, profileID).Scan(&pr.Snapshots); err != nil {
		return pr, err
	}
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM {tweets} WHERE author_id = ?`, profileID).Scan(&pr.Tweets); err != nil {
		return pr, err
	}
	rows, err := s.query(ctx, `SELECT DISTINCT kind FROM {lists} WHERE profile_id = ? AND status = ?`, profileID, string(model.ListComplete))
	if err != nil {
		return pr, err
	}
	kinds, err := collectStrings(rows)
	if err != nil {
		return pr, err
	}
	for _, k := range kinds {
		pr.CompleteLists[model.EdgeKind(k)] = true
	}
	return pr, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	i := v.Int64
	return &i
}

func nullBool(v sql.NullInt64) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Int64 != 0
	return &b
}

func strArg(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func intArg(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolArg(v *bool) any {
	if v == nil {
		return nil
	}
	return flag(*v)
}

func flag(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func encodeStrings(v []string) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeStrings(v sql.NullString) ([]string, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(v.String), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func encodeRaw(p model.Payload) (any, error) {
	if p == nil {
		return nil, nil
	}
	b, err := p.Marshal()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeRaw(v sql.NullString) (model.Payload, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	return model.DecodePayload([]byte(v.String))
}
