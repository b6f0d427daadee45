// Package backfill decides, item by item, how much of a timeline to consume
// and which items to write.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"birdseed/internal/model"
)

// State is the tracker's position. Every state but Scanning is terminal.
type State string

const (
	Scanning          State = "scanning"
	Exhausted         State = "exhausted"
	BackfillHit       State = "backfill_hit"
	DateLimitHit      State = "date_limit_hit"
	CountLimitHit     State = "count_limit_hit"
	SourceUnavailable State = "source_unavailable"
	Failed            State = "error"
)

// Options are the per-run knobs of a timeline collection.
type Options struct {
	// Rewrite items that are already stored.
	Overwrite bool
	// Keep scanning past known items even when the owner is backfilled.
	IgnoreBackfill bool
	// Stop at the first item older than MaxDate or MaxDays ago, whichever
	// is later. Zero values disable the bound.
	MaxDate time.Time
	MaxDays int
	// Stop after this many scanned items; 0 means unlimited.
	Limit int
}

// Cutoff returns the oldest item time the run accepts, or the zero time
// when no date bound is set.
func (o Options) Cutoff(now time.Time) time.Time {
	cutoff := o.MaxDate
	if o.MaxDays > 0 {
		if byDays := now.AddDate(0, 0, -o.MaxDays); byDays.After(cutoff) {
			cutoff = byDays
		}
	}
	return cutoff
}

// Item is the part of a payload the tracker decides on.
type Item struct {
	ID   string
	Time time.Time
}

// ItemOf extracts the identity and timestamp of a tweet payload.
func ItemOf(p model.Payload) (Item, error) {
	raw, ok := p.ID("id")
	if !ok {
		return Item{}, &model.MalformedPayloadError{Key: "id_str"}
	}
	id, err := model.NormalizeID(raw)
	if err != nil {
		return Item{}, &model.MalformedPayloadError{Key: "id_str"}
	}
	at, ok := p.Time("created_at")
	if !ok {
		return Item{}, &model.MalformedPayloadError{Key: "created_at"}
	}
	return Item{ID: id, Time: at}, nil
}

// Decision is the tracker's verdict on one item.
type Decision struct {
	Persist bool
	Stop    bool
}

// Result summarizes a finished run.
type Result struct {
	State   State
	Scanned int
	Updated int
	// Set when State is SourceUnavailable.
	Source *model.SourceError
}

// Tracker is the per-run state machine. It is not safe for concurrent use.
type Tracker struct {
	opts       Options
	known      map[string]struct{}
	backfilled bool
	cutoff     time.Time

	state   State
	scanned int
	updated int
	source  *model.SourceError
}

// New returns a tracker for an owner whose stored item IDs (including those
// stored under its aliases) are known.
func New(opts Options, known map[string]struct{}, backfilled bool, now time.Time) *Tracker {
	if known == nil {
		known = map[string]struct{}{}
	}
	return &Tracker{
		opts:       opts,
		known:      known,
		backfilled: backfilled,
		cutoff:     opts.Cutoff(now),
		state:      Scanning,
	}
}

func (t *Tracker) State() State { return t.state }

// Observe applies the decision rules to the next item in order: persist if
// overwriting or new, then stop on a known item of a backfilled owner, on
// an item older than the cutoff, or on reaching the scan limit.
func (t *Tracker) Observe(it Item) Decision {
	if t.state != Scanning {
		return Decision{Stop: true}
	}
	t.scanned++
	_, known := t.known[it.ID]
	d := Decision{Persist: t.opts.Overwrite || !known}
	switch {
	case t.backfilled && known && !t.opts.IgnoreBackfill:
		t.state = BackfillHit
	case !t.cutoff.IsZero() && it.Time.Before(t.cutoff):
		t.state = DateLimitHit
	case t.opts.Limit > 0 && t.scanned >= t.opts.Limit:
		t.state = CountLimitHit
	}
	d.Stop = t.state != Scanning
	return d
}

// Persisted counts an item written after a Persist decision.
func (t *Tracker) Persisted() { t.updated++ }

// Exhaust marks the natural end of the source.
func (t *Tracker) Exhaust() {
	if t.state == Scanning {
		t.state = Exhausted
	}
}

// Fail stops the run on err. Source errors are recorded rather than
// returned.
func (t *Tracker) Fail(err error) error {
	var se *model.SourceError
	if errors.As(err, &se) {
		t.state = SourceUnavailable
		t.source = se
		return nil
	}
	t.state = Failed
	return err
}

func (t *Tracker) Result() Result {
	return Result{State: t.state, Scanned: t.scanned, Updated: t.updated, Source: t.source}
}

// Run drives the tracker over seq, calling persist for every item it keeps.
// Leaving the loop early stops the sequence without pulling further items.
func (t *Tracker) Run(ctx context.Context, seq iter.Seq2[model.Payload, error], persist func(context.Context, model.Payload) error) (Result, error) {
	for payload, err := range seq {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err := t.Fail(ctxErr)
			return t.Result(), err
		}
		if err != nil {
			err = t.Fail(err)
			return t.Result(), err
		}
		it, err := ItemOf(payload)
		if err != nil {
			err = t.Fail(err)
			return t.Result(), err
		}
		d := t.Observe(it)
		if d.Persist {
			if err := persist(ctx, payload); err != nil {
				err = t.Fail(fmt.Errorf("persist %s: %w", it.ID, err))
				return t.Result(), err
			}
			t.Persisted()
		}
		if d.Stop {
			return t.Result(), nil
		}
	}
	t.Exhaust()
	return t.Result(), nil
}
