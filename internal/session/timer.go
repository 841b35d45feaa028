// Package session implements the active workout session: the state
// machine driving exercise and set navigation, and the rest timer that
// counts down between sets.
package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/liftlog/pkg/models"
)

// Rest durations per exercise kind, in seconds.
const (
	restStrength = 180
	restCardio   = 60
	restCircuit  = 30
	restDefault  = 90
)

// RestDurationFor maps an exercise kind to its default rest duration.
func RestDurationFor(kind models.ExerciseKind) int {
	switch kind {
	case models.KindStrength, models.KindPowerlifting:
		return restStrength
	case models.KindCardio, models.KindEndurance:
		return restCardio
	case models.KindCircuit:
		return restCircuit
	default:
		return restDefault
	}
}

// TimerState is the UI-facing snapshot of the rest timer.
type TimerState struct {
	IsResting        bool `json:"is_resting"`
	RemainingSeconds int  `json:"remaining_seconds"`
	IsPaused         bool `json:"is_paused"`
}

// RestTimer counts down rest between sets with one-second granularity.
// The tick goroutine is generation-guarded: starting a new countdown
// invalidates the previous one, so two ticks never run concurrently.
type RestTimer struct {
	mu         sync.Mutex
	resting    bool
	paused     bool
	remaining  int
	generation uint64
	onComplete func()

	tick time.Duration // test seam, 1s in production
}

// NewRestTimer creates a stopped timer.
func NewRestTimer() *RestTimer {
	return &RestTimer{tick: time.Second}
}

// SetOnComplete registers a callback fired when a countdown expires
// (naturally, via skip, or via an adjust below zero). Called outside
// the timer's lock.
func (t *RestTimer) SetOnComplete(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onComplete = fn
}

// Start begins a countdown of the given duration, replacing any
// countdown already running.
func (t *RestTimer) Start(durationSeconds int) {
	if durationSeconds <= 0 {
		return
	}
	t.mu.Lock()
	t.generation++
	gen := t.generation
	t.resting = true
	t.paused = false
	t.remaining = durationSeconds
	t.mu.Unlock()

	log.Debug().Int("seconds", durationSeconds).Msg("Rest timer started")
	go t.run(gen)
}

// AutoStart begins a countdown with the default duration for kind.
func (t *RestTimer) AutoStart(kind models.ExerciseKind) {
	t.Start(RestDurationFor(kind))
}

// run is the tick loop for one countdown generation. It exits as soon
// as its generation is superseded or the countdown settles.
func (t *RestTimer) run(gen uint64) {
	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()

	for range ticker.C {
		t.mu.Lock()
		if t.generation != gen || !t.resting {
			t.mu.Unlock()
			return
		}
		if t.paused {
			t.mu.Unlock()
			continue
		}
		t.remaining--
		if t.remaining <= 0 {
			cb := t.completeLocked()
			t.mu.Unlock()
			if cb != nil {
				cb()
			}
			return
		}
		t.mu.Unlock()
	}
}

// completeLocked clears rest state and invalidates the tick goroutine.
// Returns the completion callback for the caller to fire after
// unlocking.
func (t *RestTimer) completeLocked() func() {
	t.generation++
	t.resting = false
	t.paused = false
	t.remaining = 0
	return t.onComplete
}

// Skip ends the current countdown immediately, taking the same
// completion path as natural expiry. No-op when not resting.
func (t *RestTimer) Skip() {
	t.mu.Lock()
	if !t.resting {
		t.mu.Unlock()
		return
	}
	cb := t.completeLocked()
	t.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Pause freezes the countdown. Idempotent.
func (t *RestTimer) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.resting {
		t.paused = true
	}
}

// Resume unfreezes the countdown. Idempotent.
func (t *RestTimer) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.resting {
		t.paused = false
	}
}

// Adjust adds deltaSeconds to the remaining time. A result at or below
// zero completes the countdown immediately.
func (t *RestTimer) Adjust(deltaSeconds int) {
	t.mu.Lock()
	if !t.resting {
		t.mu.Unlock()
		return
	}
	t.remaining += deltaSeconds
	if t.remaining <= 0 {
		cb := t.completeLocked()
		t.mu.Unlock()
		if cb != nil {
			cb()
		}
		return
	}
	t.mu.Unlock()
}

// Stop cancels any countdown without firing the completion callback.
// Used when the owning session terminates.
func (t *RestTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.generation++
	t.resting = false
	t.paused = false
	t.remaining = 0
}

// State returns a snapshot of the timer.
func (t *RestTimer) State() TimerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TimerState{
		IsResting:        t.resting,
		RemainingSeconds: t.remaining,
		IsPaused:         t.paused,
	}
}
