package server

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"
)

// Player identifies one side of a match. ConnID doubles as the player's
// key inside the session maps.
type Player struct {
	ConnID           string `json:"connId"`
	DisplayName      string `json:"displayName"`
	ExternalUserID   string `json:"externalUserId,omitempty"`
	AffiliateOwnerID string `json:"affiliateOwnerId,omitempty"`
}

// MatchSession is the serialized unit of in-flight match state. One blob
// per session lives in the session store under the session id; every
// round handler reads it fresh, mutates it, and writes it back whole.
type MatchSession struct {
	ID                  string            `json:"id"`
	Players             [2]Player         `json:"players"`
	CreatedAt           int64             `json:"createdAt"`
	LastActivityAt      int64             `json:"lastActivityAt"`
	Choices             map[string]Choice `json:"choices"`
	Scores              map[string]int    `json:"scores"`
	IsSyntheticOpponent bool              `json:"isSyntheticOpponent"`
	// AffiliateOwners holds the deduplicated, approved owner ids frozen
	// at session creation. Settlement never re-checks approval.
	AffiliateOwners []string `json:"affiliateOwners,omitempty"`
}

// NewMatchSession creates a fresh session for the two players with empty
// choices and zero scores.
func NewMatchSession(id string, a, b Player, synthetic bool, owners []string, now time.Time) *MatchSession {
	ms := now.UnixMilli()
	return &MatchSession{
		ID:                  id,
		Players:             [2]Player{a, b},
		CreatedAt:           ms,
		LastActivityAt:      ms,
		Choices:             map[string]Choice{a.ConnID: "", b.ConnID: ""},
		Scores:              map[string]int{a.ConnID: 0, b.ConnID: 0},
		IsSyntheticOpponent: synthetic,
		AffiliateOwners:     owners,
	}
}

// NewSessionID builds a readable session id carrying the creation time
// and the tails of both connection ids. Bot sessions are marked so they
// stand out in the store and in logs.
func NewSessionID(a, b Player, synthetic bool, now time.Time) string {
	if synthetic {
		return fmt.Sprintf("session_bot_%d_%s", now.UnixMilli(), connSuffix(a.ConnID))
	}
	return fmt.Sprintf("session_%d_%s_%s", now.UnixMilli(), connSuffix(a.ConnID), connSuffix(b.ConnID))
}

func connSuffix(connID string) string {
	if len(connID) <= 4 {
		return connID
	}
	return connID[len(connID)-4:]
}

const suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randSuffix(rng *rand.Rand, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = suffixAlphabet[rng.Intn(len(suffixAlphabet))]
	}
	return string(b)
}

// Opponent returns the other player of the session.
func (s *MatchSession) Opponent(connID string) (Player, bool) {
	switch connID {
	case s.Players[0].ConnID:
		return s.Players[1], true
	case s.Players[1].ConnID:
		return s.Players[0], true
	}
	return Player{}, false
}

// PlayerByConn returns the player with the given connection id.
func (s *MatchSession) PlayerByConn(connID string) (Player, bool) {
	for _, p := range s.Players {
		if p.ConnID == connID {
			return p, true
		}
	}
	return Player{}, false
}

// HasPlayer reports whether connID is a participant.
func (s *MatchSession) HasPlayer(connID string) bool {
	_, ok := s.PlayerByConn(connID)
	return ok
}

// BothChosen reports whether both sides committed a choice this round.
func (s *MatchSession) BothChosen() bool {
	return s.Choices[s.Players[0].ConnID] != "" && s.Choices[s.Players[1].ConnID] != ""
}

// ResetChoices clears both choices for the next round.
func (s *MatchSession) ResetChoices() {
	for k := range s.Choices {
		s.Choices[k] = ""
	}
}

// Touch bumps the activity timestamp.
func (s *MatchSession) Touch(now time.Time) {
	s.LastActivityAt = now.UnixMilli()
}

// EncodeSession serializes a session for the store.
func EncodeSession(s *MatchSession) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	return string(data), nil
}

// DecodeSession deserializes a stored session blob.
func DecodeSession(raw string) (*MatchSession, error) {
	var s MatchSession
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if s.Choices == nil {
		s.Choices = make(map[string]Choice)
	}
	if s.Scores == nil {
		s.Scores = make(map[string]int)
	}
	return &s, nil
}
