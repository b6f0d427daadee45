package jobs

import (
	"context"
	"fmt"
	"time"

	"birdseed/internal/collect"
	"birdseed/internal/logging"
	"birdseed/internal/metrics"
	"birdseed/internal/model"
	"birdseed/internal/sets"
	"birdseed/internal/store"
)

const cursorPrefix = "schedule:last_run:"

// Collector is the part of collect.Collector a scheduled run drives.
type Collector interface {
	Profiles(ctx context.Context, ids, profileSets []string, allOnce bool) (model.Summary, error)
	Timelines(ctx context.Context, ids []string, opts collect.TimelineOptions, allOnce bool) (model.Summary, error)
}

func cursorKey(set string) string { return cursorPrefix + set }

// LastRun returns when the set was last collected successfully, or the zero
// time.
func LastRun(ctx context.Context, st *store.Store, set string) (time.Time, error) {
	v, err := st.LoadCursor(ctx, cursorKey(set))
	if err != nil || v == "" {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, v)
}

// RunOnce refreshes every profile in the set and pulls their timelines
// incrementally, then advances the set's cursor.
func RunOnce(ctx context.Context, st *store.Store, c Collector, set string) (model.Summary, error) {
	now := time.Now().UTC()
	start := time.Now()
	since, err := LastRun(ctx, st, set)
	if err != nil {
		return model.Summary{}, fmt.Errorf("schedule %q: last run: %w", set, err)
	}
	ids, err := sets.Members(ctx, st, model.ProfileSet, set)
	if err != nil {
		return model.Summary{}, fmt.Errorf("schedule %q: %w", set, err)
	}

	var sum model.Summary
	s, err := c.Profiles(ctx, ids, nil, false)
	sum.Add(s)
	if err != nil {
		return sum, err
	}
	s, err = c.Timelines(ctx, ids, collect.TimelineOptions{}, false)
	sum.Add(s)
	if err != nil {
		return sum, err
	}
	if err := st.SaveCursor(ctx, cursorKey(set), now.Format(time.RFC3339Nano)); err != nil {
		return sum, err
	}
	metrics.ObserveCollect("schedule", start, sum.Scanned, sum.Updated, sum.Errors)
	logging.Info("schedule_once", map[string]any{"set": set, "since": since, "now": now, "profiles": len(ids),
		"scanned": sum.Scanned, "updated": sum.Updated, "errors": sum.Errors})
	return sum, nil
}
