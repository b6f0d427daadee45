package backfill

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"birdseed/internal/model"
)

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func tweet(id string, at time.Time) model.Payload {
	return model.Payload{"id_str": id, "created_at": at.Format(time.RubyDate)}
}

// source yields payloads newest first and records how many were pulled.
func source(pulled *int, items ...model.Payload) iter.Seq2[model.Payload, error] {
	return func(yield func(model.Payload, error) bool) {
		for _, it := range items {
			*pulled++
			if !yield(it, nil) {
				return
			}
		}
	}
}

func failing(after []model.Payload, err error) iter.Seq2[model.Payload, error] {
	return func(yield func(model.Payload, error) bool) {
		for _, it := range after {
			if !yield(it, nil) {
				return
			}
		}
		yield(nil, err)
	}
}

type recorder struct{ ids []string }

func (r *recorder) persist(_ context.Context, p model.Payload) error {
	id, _ := p.ID("id")
	r.ids = append(r.ids, id)
	return nil
}

func known(ids ...string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func TestBackfillHitStopsBeforeLaterItems(t *testing.T) {
	var pulled int
	rec := &recorder{}
	tr := New(Options{}, known("existing1"), true, base)
	seq := source(&pulled, tweet("new1", base), tweet("new2", base), tweet("existing1", base), tweet("new3", base))

	res, err := tr.Run(context.Background(), seq, rec.persist)
	require.NoError(t, err)
	assert.Equal(t, BackfillHit, res.State)
	assert.Equal(t, 2, res.Updated)
	assert.Equal(t, 3, res.Scanned)
	assert.Equal(t, []string{"new1", "new2"}, rec.ids)
	assert.Equal(t, 3, pulled, "new3 must not be pulled")
}

func TestKnownItemSkippedWhenNotBackfilled(t *testing.T) {
	var pulled int
	rec := &recorder{}
	tr := New(Options{}, known("existing1"), false, base)
	seq := source(&pulled, tweet("new1", base), tweet("existing1", base), tweet("new3", base))

	res, err := tr.Run(context.Background(), seq, rec.persist)
	require.NoError(t, err)
	assert.Equal(t, Exhausted, res.State)
	assert.Equal(t, []string{"new1", "new3"}, rec.ids)
}

func TestIgnoreBackfillAndOverwrite(t *testing.T) {
	var pulled int
	rec := &recorder{}
	tr := New(Options{IgnoreBackfill: true, Overwrite: true}, known("existing1"), true, base)
	seq := source(&pulled, tweet("new1", base), tweet("existing1", base), tweet("new3", base))

	res, err := tr.Run(context.Background(), seq, rec.persist)
	require.NoError(t, err)
	assert.Equal(t, Exhausted, res.State)
	assert.Equal(t, 3, res.Updated)
	assert.Equal(t, []string{"new1", "existing1", "new3"}, rec.ids)
}

func TestLimitStopsWithoutExhaustion(t *testing.T) {
	items := make([]model.Payload, 100)
	for i := range items {
		items[i] = tweet(fmt.Sprint(1000-i), base.Add(-time.Duration(i)*time.Hour))
	}
	var pulled int
	rec := &recorder{}
	tr := New(Options{Limit: 1}, nil, false, base)

	res, err := tr.Run(context.Background(), source(&pulled, items...), rec.persist)
	require.NoError(t, err)
	assert.Equal(t, CountLimitHit, res.State)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, pulled)
}

func TestDateLimitPersistsBoundaryItemThenStops(t *testing.T) {
	var pulled int
	rec := &recorder{}
	cutoff := base.AddDate(0, 0, -2)
	tr := New(Options{MaxDate: cutoff}, nil, false, base)
	seq := source(&pulled,
		tweet("3", base),
		tweet("2", base.AddDate(0, 0, -1)),
		tweet("1", base.AddDate(0, 0, -3)),
		tweet("0", base.AddDate(0, 0, -4)),
	)

	res, err := tr.Run(context.Background(), seq, rec.persist)
	require.NoError(t, err)
	assert.Equal(t, DateLimitHit, res.State)
	assert.Equal(t, []string{"3", "2", "1"}, rec.ids)
	assert.Equal(t, 3, pulled)
}

func TestCutoffTakesLaterBound(t *testing.T) {
	now := base
	assert.True(t, Options{}.Cutoff(now).IsZero())

	byDate := Options{MaxDate: now.AddDate(0, 0, -10), MaxDays: 30}
	assert.Equal(t, now.AddDate(0, 0, -10), byDate.Cutoff(now))

	byDays := Options{MaxDate: now.AddDate(0, 0, -60), MaxDays: 30}
	assert.Equal(t, now.AddDate(0, 0, -30), byDays.Cutoff(now))
}

func TestSourceErrorIsRecordedNotRaised(t *testing.T) {
	rec := &recorder{}
	tr := New(Options{}, nil, false, base)
	seq := failing([]model.Payload{tweet("1", base)}, model.Private())

	res, err := tr.Run(context.Background(), seq, rec.persist)
	require.NoError(t, err)
	assert.Equal(t, SourceUnavailable, res.State)
	require.NotNil(t, res.Source)
	assert.Equal(t, model.CodeProtected, res.Source.Code)
	assert.Equal(t, 1, res.Updated)
}

func TestOtherErrorsFailTheRun(t *testing.T) {
	boom := errors.New("boom")
	tr := New(Options{}, nil, false, base)
	res, err := tr.Run(context.Background(), failing(nil, boom), (&recorder{}).persist)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Failed, res.State)
}

func TestMalformedItemFailsWithKey(t *testing.T) {
	tr := New(Options{}, nil, false, base)
	var pulled int
	res, err := tr.Run(context.Background(), source(&pulled, model.Payload{"id_str": "1"}), (&recorder{}).persist)
	var mp *model.MalformedPayloadError
	require.ErrorAs(t, err, &mp)
	assert.Equal(t, "created_at", mp.Key)
	assert.Equal(t, Failed, res.State)
}

func TestPersistFailureStopsWithError(t *testing.T) {
	tr := New(Options{}, nil, false, base)
	var pulled int
	diskFull := errors.New("disk full")
	res, err := tr.Run(context.Background(), source(&pulled, tweet("1", base), tweet("2", base)),
		func(context.Context, model.Payload) error { return diskFull })
	require.ErrorIs(t, err, diskFull)
	assert.ErrorContains(t, err, "persist 1")
	assert.Equal(t, Failed, res.State)
	assert.Equal(t, Failed, tr.State())
	assert.Equal(t, 1, pulled)
	assert.Zero(t, res.Updated)
}

func TestCancelledRunStopsWithError(t *testing.T) {
	tr := New(Options{}, nil, false, base)
	ctx, cancel := context.WithCancel(context.Background())
	rec := &recorder{}
	var pulled int
	persist := func(ctx context.Context, p model.Payload) error {
		cancel()
		return rec.persist(ctx, p)
	}
	res, err := tr.Run(ctx, source(&pulled, tweet("1", base), tweet("2", base), tweet("3", base)), persist)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Failed, res.State)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, []string{"1"}, rec.ids)
	assert.Equal(t, 2, pulled)
}

func TestObserveAfterStopIsNoop(t *testing.T) {
	tr := New(Options{Limit: 1}, nil, false, base)
	assert.Equal(t, Decision{Persist: true, Stop: true}, tr.Observe(Item{ID: "1", Time: base}))
	assert.Equal(t, Decision{Stop: true}, tr.Observe(Item{ID: "2", Time: base}))
	tr.Exhaust()
	assert.Equal(t, CountLimitHit, tr.State())
}
