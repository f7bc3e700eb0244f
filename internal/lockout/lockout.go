// Package lockout tracks consecutive failed logins per account and locks the
// account for a fixed duration once the threshold is reached.
package lockout

import (
	"context"
	"math"
	"time"

	"dhatri/internal/models"
)

const (
	DefaultMaxAttempts  = 5
	DefaultLockDuration = 30 * time.Minute
)

type Policy struct {
	MaxAttempts  int
	LockDuration time.Duration
}

type State struct {
	Attempts  int
	LockUntil *time.Time
}

// Next returns the state after one more failure at now, and whether this
// failure moved the account from open to locked. An expired lock restarts
// the count at 1.
func (p Policy) Next(s State, now time.Time) (State, bool) {
	if s.LockUntil != nil && !s.LockUntil.After(now) {
		return State{Attempts: 1}, false
	}
	locked := s.LockUntil != nil
	next := State{Attempts: s.Attempts + 1, LockUntil: s.LockUntil}
	if next.Attempts >= p.MaxAttempts && !locked {
		until := now.Add(p.LockDuration)
		next.LockUntil = &until
		return next, true
	}
	return next, false
}

// Store applies failures atomically. RecordLoginFailure must follow
// Policy.Next for a single failure and report the OPEN to LOCKED transition
// to exactly one caller when failures race.
type Store interface {
	RecordLoginFailure(ctx context.Context, userID string, maxAttempts int, lockFor time.Duration, now time.Time) (models.User, bool, error)
	SaveLockState(ctx context.Context, userID string, attempts int, lockUntil *time.Time, now time.Time) error
	RecordLoginSuccess(ctx context.Context, userID string, now time.Time) error
}

type Tracker struct {
	policy Policy
	store  Store
	now    func() time.Time
}

func NewTracker(p Policy, st Store, now func() time.Time) *Tracker {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.LockDuration <= 0 {
		p.LockDuration = DefaultLockDuration
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Tracker{policy: p, store: st, now: now}
}

func (t *Tracker) Policy() Policy { return t.policy }

// RecordFailure applies one failed attempt to u in the store. The returned
// user carries the stored state; lockedNow is true on the transition into
// LOCKED.
func (t *Tracker) RecordFailure(ctx context.Context, u models.User) (models.User, bool, error) {
	now := t.now()
	got, lockedNow, err := t.store.RecordLoginFailure(ctx, u.ID, t.policy.MaxAttempts, t.policy.LockDuration, now)
	if err != nil {
		return u, false, err
	}
	u.FailedLoginAttempts = got.FailedLoginAttempts
	u.LockUntil = got.LockUntil
	u.UpdatedAt = now
	return u, lockedNow, nil
}

// RecordSuccess resets attempts and clears any lock.
func (t *Tracker) RecordSuccess(ctx context.Context, userID string) error {
	return t.store.RecordLoginSuccess(ctx, userID, t.now())
}

// Unlock clears lock state without touching last login.
func (t *Tracker) Unlock(ctx context.Context, userID string) error {
	return t.store.SaveLockState(ctx, userID, 0, nil, t.now())
}

func (t *Tracker) IsLocked(u models.User) bool { return u.IsLocked(t.now()) }

// RemainingMinutes rounds the time left on the lock up to whole minutes.
func (t *Tracker) RemainingMinutes(u models.User) int {
	if u.LockUntil == nil {
		return 0
	}
	left := u.LockUntil.Sub(t.now())
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Minutes()))
}
