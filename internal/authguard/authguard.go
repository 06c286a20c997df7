// Package authguard debounces authorization loss. A single 401 is frequently
// a transient backend hiccup, so a display only gives up its identity once
// calls keep failing and the failure at hand is an unauthorized one.
package authguard

import (
	"sync"

	"github.com/marquee-signage/marquee/internal/client"
)

// DefaultThreshold is the number of consecutive failures, the last of them a
// 401, that count as a lost authorization.
const DefaultThreshold = 2

// Guard counts consecutive failed calls. Successes reset the count.
type Guard struct {
	mu        sync.Mutex
	threshold int
	strict    bool
	failures  int
	// unauthorized is the run of 401s at the end of the failure streak.
	unauthorized int
}

// New returns a guard that trips on a 401 once threshold calls in a row
// failed, whatever the earlier failures were.
func New(threshold int) *Guard {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	return &Guard{threshold: threshold}
}

// NewStrict returns a guard that only trips after threshold 401s in a row.
// Any other failure restarts the run, so a backend coming back from a
// restart with one stray 401 is tolerated.
func NewStrict(threshold int) *Guard {
	g := New(threshold)
	g.strict = true
	return g
}

// Success resets the failure count.
func (g *Guard) Success() {
	g.mu.Lock()
	g.failures = 0
	g.unauthorized = 0
	g.mu.Unlock()
}

// Failure records a failed call and reports whether authorization should be
// considered lost: err is a 401 and at least threshold calls in a row failed,
// or for a strict guard, at least threshold 401s in a row. The counts reset
// when it trips.
func (g *Guard) Failure(err error) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures++
	if !client.IsUnauthorized(err) {
		g.unauthorized = 0
		return false
	}
	g.unauthorized++
	streak := g.failures
	if g.strict {
		streak = g.unauthorized
	}
	if streak >= g.threshold {
		g.failures = 0
		g.unauthorized = 0
		return true
	}
	return false
}

// Observe records the outcome of a call and reports whether it tripped the guard.
func (g *Guard) Observe(err error) bool {
	if err == nil {
		g.Success()
		return false
	}
	return g.Failure(err)
}

// Failures returns the current consecutive failure count.
func (g *Guard) Failures() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failures
}
