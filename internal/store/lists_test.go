package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"birdseed/internal/model"
)

func TestCurrentListIgnoresAbortedAndInProgress(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	owner := newProfile(t, s, "owner")
	f1 := newProfile(t, s, "f1")
	f2 := newProfile(t, s, "f2")
	start := time.Date(2022, 5, 1, 0, 0, 0, 0, time.UTC)

	members, err := s.CurrentMembers(ctx, owner.ID, model.Followers)
	require.NoError(t, err)
	assert.Empty(t, members)

	done, err := s.CreateList(ctx, owner.ID, model.Followers, "r1", start)
	require.NoError(t, err)
	require.NoError(t, s.AddListMember(ctx, done.ID, f1.ID))
	require.NoError(t, s.AddListMember(ctx, done.ID, f1.ID))
	require.NoError(t, s.FinishList(ctx, done.ID, model.ListComplete, start.Add(time.Minute)))

	aborted, err := s.CreateList(ctx, owner.ID, model.Followers, "r2", start.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, s.AddListMember(ctx, aborted.ID, f2.ID))
	require.NoError(t, s.FinishList(ctx, aborted.ID, model.ListAborted, start.Add(2*time.Hour)))

	_, err = s.CreateList(ctx, owner.ID, model.Followers, "r3", start.Add(3*time.Hour))
	require.NoError(t, err)

	cur, err := s.CurrentList(ctx, owner.ID, model.Followers)
	require.NoError(t, err)
	assert.Equal(t, done.ID, cur.ID)
	assert.Equal(t, 1, cur.Size)
	require.NotNil(t, cur.FinishTime)

	members, err = s.CurrentMembers(ctx, owner.ID, model.Followers)
	require.NoError(t, err)
	assert.Equal(t, []string{"f1"}, members)

	_, err = s.CurrentList(ctx, owner.ID, model.Followings)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestDeleteListCascadesMembers(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	owner := newProfile(t, s, "owner")
	f1 := newProfile(t, s, "f1")

	l, err := s.CreateList(ctx, owner.ID, model.Followings, "r", time.Now())
	require.NoError(t, err)
	require.NoError(t, s.AddListMember(ctx, l.ID, f1.ID))
	require.NoError(t, s.DeleteList(ctx, l.ID))

	_, err = s.GetList(ctx, l.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	members, err := s.ListMembers(ctx, l.ID)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestSetsAreIdempotent(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	p := newProfile(t, s, "alice")

	a, err := s.EnsureSet(ctx, model.ProfileSet, "test")
	require.NoError(t, err)
	b, err := s.EnsureSet(ctx, model.ProfileSet, "test")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)

	tweets, err := s.EnsureSet(ctx, model.TweetSet, "test")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, tweets.ID)

	require.NoError(t, s.AddToSet(ctx, a, p.ID))
	require.NoError(t, s.AddToSet(ctx, a, p.ID))
	n, err := s.CountSetMembers(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetSet(ctx, model.ProfileSet, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestScoresLatestWins(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	p := newProfile(t, s, "alice")
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.InsertScore(ctx, &model.BotometerScore{ProfileID: p.ID, Categories: map[string]float64{"overall": 0.2}, ScoredAt: base}))
	require.NoError(t, s.InsertScore(ctx, &model.BotometerScore{ProfileID: p.ID, Categories: map[string]float64{"overall": 0.9}, ScoredAt: base.Add(time.Hour)}))

	sc, err := s.LatestScore(ctx, p.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, sc.Categories["overall"], 1e-9)
	assert.Equal(t, base.Add(time.Hour), sc.ScoredAt)
}
