package ledger

import (
	"context"
	"fmt"
	"sync"
)

// MemoryLedger is an in-process Ledger for dev mode and tests. All
// operations are serialized by a single mutex, which trivially satisfies
// the per-account serializability contract.
type MemoryLedger struct {
	mu       sync.Mutex
	accounts map[string]*Account
	matches  map[string][]MatchSummary
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		accounts: make(map[string]*Account),
		matches:  make(map[string][]MatchSummary),
	}
}

func (l *MemoryLedger) FindByUsername(_ context.Context, username string) (Account, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if acct, ok := l.accounts[username]; ok {
		return *acct, true, nil
	}
	return Account{}, false, nil
}

func (l *MemoryLedger) FindByExternalID(_ context.Context, externalID string) (Account, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, acct := range l.accounts {
		if acct.ExternalUserID != "" && acct.ExternalUserID == externalID {
			return *acct, true, nil
		}
	}
	return Account{}, false, nil
}

func (l *MemoryLedger) Create(_ context.Context, username, externalID string, initialCoins float64) (Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if acct, ok := l.accounts[username]; ok {
		return *acct, nil
	}
	acct := &Account{Username: username, ExternalUserID: externalID, Coins: initialCoins}
	l.accounts[username] = acct
	return *acct, nil
}

func (l *MemoryLedger) Credit(_ context.Context, username string, amount float64) error {
	if amount < 0 {
		return ErrNegativeAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[username]
	if !ok {
		return fmt.Errorf("credit: account %q not found", username)
	}
	acct.Coins += amount
	return nil
}

func (l *MemoryLedger) Debit(_ context.Context, username string, amount float64) error {
	if amount < 0 {
		return ErrNegativeAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[username]
	if !ok {
		return fmt.Errorf("debit: account %q not found", username)
	}
	if acct.Coins < amount {
		return ErrInsufficientCoins
	}
	acct.Coins -= amount
	return nil
}

func (l *MemoryLedger) RecordMatch(_ context.Context, username string, match MatchSummary) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.accounts[username]; !ok {
		return fmt.Errorf("record match: account %q not found", username)
	}
	for _, m := range l.matches[username] {
		if m.SessionID == match.SessionID {
			return ErrDuplicateMatch
		}
	}
	l.matches[username] = append(l.matches[username], match)
	return nil
}

// Matches returns the recorded history for an account.
func (l *MemoryLedger) Matches(username string) []MatchSummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]MatchSummary, len(l.matches[username]))
	copy(out, l.matches[username])
	return out
}

// SetCoins overwrites an account balance. Test helper.
func (l *MemoryLedger) SetCoins(username string, coins float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if acct, ok := l.accounts[username]; ok {
		acct.Coins = coins
	}
}

// MemoryAdminSink accumulates house fees in memory.
type MemoryAdminSink struct {
	mu    sync.Mutex
	total float64
}

// NewMemoryAdminSink creates an empty sink.
func NewMemoryAdminSink() *MemoryAdminSink {
	return &MemoryAdminSink{}
}

func (s *MemoryAdminSink) Credit(_ context.Context, amount float64) error {
	if amount < 0 {
		return ErrNegativeAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total += amount
	return nil
}

// Total returns the accumulated fee balance.
func (s *MemoryAdminSink) Total() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// MemoryRevshare is a fixed approval table.
type MemoryRevshare struct {
	mu       sync.Mutex
	statuses map[string]ApprovalStatus
}

// NewMemoryRevshare creates an empty directory.
func NewMemoryRevshare() *MemoryRevshare {
	return &MemoryRevshare{statuses: make(map[string]ApprovalStatus)}
}

// SetStatus records an approval status for an owner id.
func (r *MemoryRevshare) SetStatus(externalID string, status ApprovalStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[externalID] = status
}

func (r *MemoryRevshare) FindApprovalStatus(_ context.Context, externalID string) (ApprovalStatus, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	status, ok := r.statuses[externalID]
	return status, ok, nil
}
