package server

import (
	"sync"
	"time"

	"github.com/coder/quartz"
)

type queueEntry struct {
	player      Player
	botDeadline *quartz.Timer
}

// MatchQueue is the FIFO matchmaking queue. Pairing is strictly by
// arrival order. Each lone waiter may carry a bot-fallback deadline that
// is cancelled the moment the entry leaves the queue.
type MatchQueue struct {
	mu      sync.Mutex
	clock   quartz.Clock
	entries []*queueEntry
}

// NewMatchQueue creates an empty queue on the given clock.
func NewMatchQueue(clock quartz.Clock) *MatchQueue {
	return &MatchQueue{clock: clock}
}

// Enqueue appends the player. Returns false if a player with the same
// connection id is already queued.
func (q *MatchQueue) Enqueue(p Player) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.player.ConnID == p.ConnID {
			return false
		}
	}
	q.entries = append(q.entries, &queueEntry{player: p})
	return true
}

// PushFront returns players to the head of the queue in the given
// order, so a failed pairing retries them first. Connection ids that
// are already queued are skipped.
func (q *MatchQueue) PushFront(players ...Player) {
	q.mu.Lock()
	defer q.mu.Unlock()
	queued := make(map[string]bool, len(q.entries))
	for _, e := range q.entries {
		queued[e.player.ConnID] = true
	}
	var head []*queueEntry
	for _, p := range players {
		if queued[p.ConnID] {
			continue
		}
		queued[p.ConnID] = true
		head = append(head, &queueEntry{player: p})
	}
	q.entries = append(head, q.entries...)
}

// Remove takes the player out of the queue, cancelling any pending bot
// deadline. Returns false if the player was not queued.
func (q *MatchQueue) Remove(connID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.player.ConnID == connID {
			if e.botDeadline != nil {
				e.botDeadline.Stop()
			}
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

// PopPair removes and returns the two oldest waiters. Both bot deadlines
// are cancelled. Returns ok=false when fewer than two players wait.
func (q *MatchQueue) PopPair() (a, b Player, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) < 2 {
		return Player{}, Player{}, false
	}
	first, second := q.entries[0], q.entries[1]
	for _, e := range []*queueEntry{first, second} {
		if e.botDeadline != nil {
			e.botDeadline.Stop()
			e.botDeadline = nil
		}
	}
	q.entries = q.entries[2:]
	return first.player, second.player, true
}

// PopConn removes and returns the given waiter, cancelling its bot
// deadline.
func (q *MatchQueue) PopConn(connID string) (Player, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.player.ConnID == connID {
			if e.botDeadline != nil {
				e.botDeadline.Stop()
			}
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return e.player, true
		}
	}
	return Player{}, false
}

// ArmBotDeadline schedules fire to run after d unless the player leaves
// the queue first. Re-arming replaces the previous deadline.
func (q *MatchQueue) ArmBotDeadline(connID string, d time.Duration, fire func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.player.ConnID == connID {
			if e.botDeadline != nil {
				e.botDeadline.Stop()
			}
			e.botDeadline = q.clock.AfterFunc(d, fire)
			return
		}
	}
}

// Contains reports whether the player is queued.
func (q *MatchQueue) Contains(connID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.player.ConnID == connID {
			return true
		}
	}
	return false
}

// Len reports the number of queued players.
func (q *MatchQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
