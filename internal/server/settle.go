package server

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"

	"github.com/rpsarena/server/internal/ledger"
)

// SettlementEngine resolves a committed round and moves the coins. All
// ledger calls are best-effort sequential; a failed winner credit rolls
// the loser's debit back, everything downstream of the transfer (bonus
// shares, house fee) only logs on failure.
type SettlementEngine struct {
	logger *log.Logger
	ledger ledger.Ledger
	admin  ledger.AdminSink
	cfg    GameSettings
}

// NewSettlementEngine wires the engine to its account collaborators.
func NewSettlementEngine(logger *log.Logger, l ledger.Ledger, admin ledger.AdminSink, cfg GameSettings) *SettlementEngine {
	return &SettlementEngine{
		logger: logger.WithPrefix("settle"),
		ledger: l,
		admin:  admin,
		cfg:    cfg,
	}
}

// Resolve scores the current round of sess, settles the wager for a
// decisive outcome, and returns one round_result payload per player,
// keyed by connection id. An unanswered or forfeited choice loses
// automatically; both absent is scored as a tie. A forfeited wager is
// voided rather than transferred. Scores are mutated in place;
// persisting the session stays with the caller.
func (e *SettlementEngine) Resolve(ctx context.Context, sess *MatchSession, reasons map[string]string) map[string]RoundResultData {
	a, b := sess.Players[0], sess.Players[1]
	ca, cb := sess.Choices[a.ConnID], sess.Choices[b.ConnID]

	// A forfeiting side counts as absent no matter what it threw: the
	// other side wins outright.
	forfeitA := reasons[a.ConnID] == ReasonForfeit
	forfeitB := reasons[b.ConnID] == ReasonForfeit

	var winner, loser Player
	decisive := true
	switch {
	case forfeitA && forfeitB:
		decisive = false
	case forfeitA:
		winner, loser = b, a
	case forfeitB:
		winner, loser = a, b
	case ca == "" && cb == "":
		decisive = false
	case ca == "":
		winner, loser = b, a
	case cb == "":
		winner, loser = a, b
	default:
		switch ResolveOutcome(ca, cb) {
		case OutcomeTie:
			decisive = false
		case OutcomeWin:
			winner, loser = a, b
		case OutcomeLoss:
			winner, loser = b, a
		}
	}

	settlement := SettlementSkipped
	if decisive {
		sess.Scores[winner.ConnID]++
		// Synthetic matches are score-only; no coins ride on them.
		if !sess.IsSyntheticOpponent {
			if reasons[loser.ConnID] == ReasonForfeit {
				// The loser cannot back the wager. Score moves, coins
				// stay put.
				settlement = SettlementBetVoided
			} else {
				settlement = e.settleWager(ctx, sess, winner, loser)
			}
		}
	}

	// A voided bet means the loser could not back the wager they lost.
	if settlement == SettlementBetVoided {
		if reasons == nil {
			reasons = make(map[string]string, 2)
		}
		if _, ok := reasons[loser.ConnID]; !ok {
			reasons[loser.ConnID] = ReasonForfeit
			reasons[winner.ConnID] = ReasonOpponentForfeit
		}
	}

	results := make(map[string]RoundResultData, 2)
	for _, pair := range [][2]Player{{a, b}, {b, a}} {
		self, opp := pair[0], pair[1]
		result := ResultTie
		if decisive {
			if self.ConnID == winner.ConnID {
				result = ResultWin
			} else {
				result = ResultLoss
			}
		}
		results[self.ConnID] = RoundResultData{
			YourChoice:     string(sess.Choices[self.ConnID]),
			OpponentChoice: string(sess.Choices[opp.ConnID]),
			Result:         result,
			Settlement:     settlement,
			Reason:         reasons[self.ConnID],
			Scores: ScorePair{
				You:      sess.Scores[self.ConnID],
				Opponent: sess.Scores[opp.ConnID],
			},
		}
	}
	return results
}

// settleWager runs the transfer pipeline for a decisive round: debit the
// loser, credit the winner, split the fee with approved affiliate
// owners, then bank whatever fee remains.
func (e *SettlementEngine) settleWager(ctx context.Context, sess *MatchSession, winner, loser Player) string {
	bet := e.cfg.BetAmount

	if err := e.ledger.Debit(ctx, loser.DisplayName, bet); err != nil {
		if errors.Is(err, ledger.ErrInsufficientCoins) {
			e.logger.Info("loser cannot cover bet, round voided",
				"session", sess.ID, "loser", loser.DisplayName, "bet", bet)
			return SettlementBetVoided
		}
		e.logger.Error("debit failed", "session", sess.ID, "loser", loser.DisplayName, "err", err)
		return SettlementProcessingError
	}

	if err := e.ledger.Credit(ctx, winner.DisplayName, e.cfg.WinnerPayout()); err != nil {
		e.logger.Error("winner credit failed, refunding loser",
			"session", sess.ID, "winner", winner.DisplayName, "err", err)
		e.refund(ctx, loser, bet)
		return SettlementProcessingError
	}

	// Owners were deduplicated and approval-checked at session creation.
	// Each owner shrinks the fee pool even when the bonus cannot land,
	// so the house never collects coins earmarked for a share.
	feePool := e.cfg.TotalFee()
	for _, ownerID := range sess.AffiliateOwners {
		feePool -= e.cfg.AffiliateBonus
		acct, found, err := e.ledger.FindByExternalID(ctx, ownerID)
		if err != nil {
			e.logger.Warn("affiliate lookup failed", "session", sess.ID, "owner", ownerID, "err", err)
			continue
		}
		if !found {
			e.logger.Warn("affiliate account missing", "session", sess.ID, "owner", ownerID)
			continue
		}
		if err := e.ledger.Credit(ctx, acct.Username, e.cfg.AffiliateBonus); err != nil {
			e.logger.Error("affiliate bonus credit failed",
				"session", sess.ID, "owner", ownerID, "err", err)
		}
	}

	if feePool > 0 {
		if err := e.admin.Credit(ctx, feePool); err != nil {
			e.logger.Error("house fee credit failed", "session", sess.ID, "fee", feePool, "err", err)
		}
	}

	return SettlementSettled
}

// refund is the compensating credit after a failed winner payout. A
// failed refund is logged for manual reconciliation and never retried.
func (e *SettlementEngine) refund(ctx context.Context, p Player, amount float64) {
	if err := e.ledger.Credit(ctx, p.DisplayName, amount); err != nil {
		e.logger.Error("refund failed, manual reconciliation required",
			"player", p.DisplayName, "amount", amount, "err", err)
	}
}

// CanCover reports the player's balance and whether it covers the bet.
// A missing account counts as a zero balance.
func (e *SettlementEngine) CanCover(ctx context.Context, p Player) (float64, bool, error) {
	acct, found, err := e.ledger.FindByUsername(ctx, p.DisplayName)
	if err != nil {
		return 0, false, err
	}
	if !found {
		return 0, false, nil
	}
	return acct.Coins, acct.Coins >= e.cfg.BetAmount, nil
}
