// Package ledger defines the external account collaborators the game
// core settles against: the coin ledger, the administrative sink, and the
// revshare approval directory. The core depends on these contracts only;
// per-account serializability of concurrent debits/credits is the
// implementation's obligation.
package ledger

import (
	"context"
	"errors"
)

var (
	// ErrInsufficientCoins is returned by Debit when the account cannot
	// cover the requested amount.
	ErrInsufficientCoins = errors.New("insufficient coins")

	// ErrDuplicateMatch is returned by RecordMatch when a match with the
	// same session id was already recorded for the account.
	ErrDuplicateMatch = errors.New("match already recorded")

	// ErrNegativeAmount is returned when a credit or debit amount is
	// below zero.
	ErrNegativeAmount = errors.New("amount must be non-negative")
)

// Account is the transient view over an externally owned user record.
type Account struct {
	Username       string  `bson:"username" json:"username"`
	ExternalUserID string  `bson:"externalUserId" json:"externalUserId"`
	Coins          float64 `bson:"coins" json:"coins"`
}

// MatchSummary is the terminal record written to a participant's history.
type MatchSummary struct {
	SessionID string         `bson:"sessionId" json:"sessionId"`
	Players   []string       `bson:"players" json:"players"`
	Scores    map[string]int `bson:"scores" json:"scores"`
}

// Ledger is the account collaborator contract. Lookups report expected
// absence as found=false, never as an error.
type Ledger interface {
	FindByUsername(ctx context.Context, username string) (Account, bool, error)
	FindByExternalID(ctx context.Context, externalID string) (Account, bool, error)
	// Create registers an account with an initial balance; if the
	// username is already taken the existing account is returned.
	Create(ctx context.Context, username, externalID string, initialCoins float64) (Account, error)
	Credit(ctx context.Context, username string, amount float64) error
	Debit(ctx context.Context, username string, amount float64) error
	RecordMatch(ctx context.Context, username string, match MatchSummary) error
}

// AdminSink accumulates the house fee.
type AdminSink interface {
	Credit(ctx context.Context, amount float64) error
}

// ApprovalStatus is the revshare request state for an affiliate owner.
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "pending"
	StatusApproved ApprovalStatus = "approved"
	StatusRejected ApprovalStatus = "rejected"
)

// RevshareDirectory answers whether an affiliate owner is approved for
// bonus shares. Absence means no request was ever filed.
type RevshareDirectory interface {
	FindApprovalStatus(ctx context.Context, externalID string) (ApprovalStatus, bool, error)
}
