// Package ratelimit implements the admission limiter that guards the
// generation pipeline. It tracks, per user, the request timestamps inside a
// sliding window and the number of in-flight jobs, plus a global window count
// across all users, and decides whether a new request may be admitted.
//
// Notes:
//   - This limiter is process-local and lives on the worker tier only, so
//     the counters have a single authority.
//   - It is an admission mechanism (capacity protection for the expensive
//     compute step), distinct from the edge token-bucket middleware on the
//     gateway, which is abuse control.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// pruneEvery bounds how often stale window records are garbage collected.
// Pruning is opportunistic, triggered by Admit, never by a timer.
const pruneEvery = 10 * time.Second

// Denial reasons, in the order they are checked. Messages are user-facing
// and surface verbatim in 429 responses.
var (
	ErrUserRate    = errors.New("Rate limit exceeded")
	ErrTooManyJobs = errors.New("Too many concurrent jobs. Please wait for your current generations to complete.")
	ErrGlobalRate  = errors.New("Server is busy. Please try again later.")
)

// IsDenied reports whether err is one of the limiter's admission denials.
func IsDenied(err error) bool {
	return errors.Is(err, ErrUserRate) || errors.Is(err, ErrTooManyJobs) || errors.Is(err, ErrGlobalRate)
}

// Limiter is a sliding-window admission limiter with per-user concurrency
// tracking. All state is guarded by a single mutex; it is safe for
// concurrent use.
type Limiter struct {
	window        time.Duration
	maxPerUser    int
	maxConcurrent int
	maxGlobal     int

	mu        sync.Mutex
	times     map[string][]time.Time // request timestamps per user, window-pruned
	inflight  map[string]int         // running jobs per user
	lastPrune time.Time

	now func() time.Time // injectable clock for tests
}

// New constructs a Limiter. window is the trailing interval over which
// request timestamps count; maxPerUser caps admitted requests per user per
// window; maxConcurrent caps a user's running jobs; maxGlobal caps admitted
// requests per window summed over all users.
func New(window time.Duration, maxPerUser, maxConcurrent, maxGlobal int) *Limiter {
	return &Limiter{
		window:        window,
		maxPerUser:    maxPerUser,
		maxConcurrent: maxConcurrent,
		maxGlobal:     maxGlobal,
		times:         make(map[string][]time.Time),
		inflight:      make(map[string]int),
		now:           time.Now,
	}
}

// userRateMessage builds the per-user denial message with the window size
// spelled out, matching what clients see.
func (l *Limiter) userRateMessage() error {
	return fmt.Errorf("%w. Please wait %d seconds between requests.", ErrUserRate, int(l.window.Seconds()))
}

// Admit decides whether userID may start a new generation. On success it
// records the request timestamp and increments the user's in-flight counter;
// the caller then owes exactly one Release. On denial it returns one of
// ErrUserRate, ErrTooManyJobs, or ErrGlobalRate, checked in that order,
// and records nothing.
func (l *Limiter) Admit(userID string) error {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(now)

	// Per-user window count.
	recent := l.recentLocked(userID, now)
	if len(recent) >= l.maxPerUser {
		return l.userRateMessage()
	}

	// Per-user concurrency.
	if l.inflight[userID] >= l.maxConcurrent {
		return ErrTooManyJobs
	}

	// Global window count.
	total := 0
	for id, ts := range l.times {
		if id == userID {
			total += len(recent)
			continue
		}
		for _, t := range ts {
			if now.Sub(t) < l.window {
				total++
			}
		}
	}
	if total >= l.maxGlobal {
		return ErrGlobalRate
	}

	l.times[userID] = append(recent, now)
	l.inflight[userID]++
	return nil
}

// Release returns userID's concurrency slot. It floors at zero and is safe
// to call even when no matching Admit happened, so cleanup paths never drive
// a counter negative.
func (l *Limiter) Release(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n := l.inflight[userID]; n > 1 {
		l.inflight[userID] = n - 1
	} else {
		delete(l.inflight, userID)
	}
}

// Inflight returns userID's current in-flight job count.
func (l *Limiter) Inflight(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inflight[userID]
}

// recentLocked returns userID's timestamps still inside the window and
// stores the pruned slice back. Callers must hold mu.
func (l *Limiter) recentLocked(userID string, now time.Time) []time.Time {
	ts := l.times[userID]
	kept := ts[:0]
	for _, t := range ts {
		if now.Sub(t) < l.window {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(l.times, userID)
		return nil
	}
	l.times[userID] = kept
	return kept
}

// pruneLocked drops timestamps older than the window for every user and
// removes users with empty records, at most once per pruneEvery. Callers
// must hold mu.
func (l *Limiter) pruneLocked(now time.Time) {
	if now.Sub(l.lastPrune) < pruneEvery {
		return
	}
	for id, ts := range l.times {
		kept := ts[:0]
		for _, t := range ts {
			if now.Sub(t) < l.window {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			delete(l.times, id)
		} else {
			l.times[id] = kept
		}
	}
	l.lastPrune = now
}
