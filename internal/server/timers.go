package server

import (
	"sync"
	"time"

	"github.com/coder/quartz"
)

type timerKey struct {
	sessionID string
	connID    string
}

type armedTimer struct {
	timer *quartz.Timer
	seq   uint64
}

// TurnTimerRegistry tracks one pending turn timer per (session, player).
// Arming a key replaces whatever was armed before; firing and cancelling
// race benignly because the expiry handler re-reads session state before
// acting.
type TurnTimerRegistry struct {
	mu      sync.Mutex
	clock   quartz.Clock
	timers  map[timerKey]armedTimer
	nextSeq uint64
}

// NewTurnTimerRegistry creates an empty registry on the given clock.
func NewTurnTimerRegistry(clock quartz.Clock) *TurnTimerRegistry {
	return &TurnTimerRegistry{
		clock:  clock,
		timers: make(map[timerKey]armedTimer),
	}
}

// Arm schedules fire to run after d for the (sessionID, connID) pair,
// cancelling any previously armed timer for the same pair.
func (r *TurnTimerRegistry) Arm(sessionID, connID string, d time.Duration, fire func()) {
	key := timerKey{sessionID: sessionID, connID: connID}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.timers[key]; ok {
		prev.timer.Stop()
	}
	r.nextSeq++
	seq := r.nextSeq

	t := r.clock.AfterFunc(d, func() {
		// Only the generation that armed this timer may remove the
		// entry; a re-armed key belongs to a newer timer.
		r.mu.Lock()
		if cur, ok := r.timers[key]; ok && cur.seq == seq {
			delete(r.timers, key)
		}
		r.mu.Unlock()
		fire()
	})
	r.timers[key] = armedTimer{timer: t, seq: seq}
}

// Cancel stops the timer for the pair if one is armed. Safe to call for
// pairs that have no timer.
func (r *TurnTimerRegistry) Cancel(sessionID, connID string) {
	key := timerKey{sessionID: sessionID, connID: connID}

	r.mu.Lock()
	defer r.mu.Unlock()
	if armed, ok := r.timers[key]; ok {
		armed.timer.Stop()
		delete(r.timers, key)
	}
}

// CancelAll stops every timer belonging to the session.
func (r *TurnTimerRegistry) CancelAll(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, armed := range r.timers {
		if key.sessionID == sessionID {
			armed.timer.Stop()
			delete(r.timers, key)
		}
	}
}

// ActiveCount reports the number of armed timers.
func (r *TurnTimerRegistry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}
