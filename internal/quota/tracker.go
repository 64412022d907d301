// Package quota enforces the per-user daily limit on paid searches.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultDailyLimit is the number of fetches a user may make per calendar day.
const DefaultDailyLimit = 35

var (
	// ErrNoSubscriptionData means the user has no quota record. Records are
	// created at provisioning, so this points at an upstream account bug.
	ErrNoSubscriptionData = errors.New("no quota record for user")

	// ErrQuotaUnavailable wraps any backend failure. The tracker never fails
	// open.
	ErrQuotaUnavailable = errors.New("could not verify quota")
)

// Record is the persisted counter for one user.
type Record struct {
	Count int
	// PeriodStart is the local midnight of the counted day in epoch
	// milliseconds. Zero means the record has never been used.
	PeriodStart int64
}

// Store persists quota records. Implementations must run Update as a single
// atomic read-modify-write.
type Store interface {
	// Update loads the record for userID and passes it to fn. When fn returns
	// true the modified record is written back in the same transaction.
	// A missing record yields ErrNoSubscriptionData without calling fn.
	Update(ctx context.Context, userID string, fn func(*Record) (bool, error)) error

	Get(ctx context.Context, userID string) (Record, error)

	// Create inserts a zero record unless one already exists.
	Create(ctx context.Context, userID string) (bool, error)
}

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed bool      `json:"allowed"`
	Count   int       `json:"count"`
	Limit   int       `json:"limit"`
	ResetAt time.Time `json:"reset_at"`
}

// Remaining is the number of fetches left today.
func (d Decision) Remaining() int {
	if d.Count >= d.Limit {
		return 0
	}
	return d.Limit - d.Count
}

// Tracker applies the daily limit against a Store.
type Tracker struct {
	store Store
	limit int
	loc   *time.Location
	now   func() time.Time
}

// NewTracker returns a Tracker counting days in loc. A non-positive limit
// means DefaultDailyLimit; a nil loc means time.Local.
func NewTracker(store Store, limit int, loc *time.Location) *Tracker {
	if limit <= 0 {
		limit = DefaultDailyLimit
	}
	if loc == nil {
		loc = time.Local
	}
	return &Tracker{store: store, limit: limit, loc: loc, now: time.Now}
}

// CheckAndConsume counts one request against userID's daily limit. The first
// request of a new day always succeeds and resets the count to 1. A denied
// request leaves the record untouched.
func (t *Tracker) CheckAndConsume(ctx context.Context, userID string) (Decision, error) {
	today, resetAt := t.day()
	var d Decision
	err := t.store.Update(ctx, userID, func(r *Record) (bool, error) {
		d = Decision{Limit: t.limit, ResetAt: resetAt}
		switch {
		case r.PeriodStart != today:
			r.Count, r.PeriodStart = 1, today
		case r.Count < t.limit:
			r.Count++
		default:
			d.Count = r.Count
			return false, nil
		}
		d.Allowed, d.Count = true, r.Count
		return true, nil
	})
	if err != nil {
		return Decision{}, t.wrap(userID, err)
	}
	return d, nil
}

// Status reports what CheckAndConsume would decide without consuming.
func (t *Tracker) Status(ctx context.Context, userID string) (Decision, error) {
	today, resetAt := t.day()
	r, err := t.store.Get(ctx, userID)
	if err != nil {
		return Decision{}, t.wrap(userID, err)
	}
	count := r.Count
	if r.PeriodStart != today {
		count = 0
	}
	return Decision{Allowed: count < t.limit, Count: count, Limit: t.limit, ResetAt: resetAt}, nil
}

// Provision creates an empty record for userID if it has none.
func (t *Tracker) Provision(ctx context.Context, userID string) error {
	if _, err := t.store.Create(ctx, userID); err != nil {
		return t.wrap(userID, err)
	}
	return nil
}

// day returns today's local midnight in epoch ms and the next midnight.
func (t *Tracker) day() (int64, time.Time) {
	now := t.now().In(t.loc)
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.loc).UnixMilli(), time.Date(y, m, d+1, 0, 0, 0, 0, t.loc)
}

func (t *Tracker) wrap(userID string, err error) error {
	if errors.Is(err, ErrNoSubscriptionData) {
		return fmt.Errorf("user %s: %w", userID, err)
	}
	return fmt.Errorf("%w: %w", ErrQuotaUnavailable, err)
}
