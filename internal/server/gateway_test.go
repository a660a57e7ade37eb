package server

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpsarena/server/internal/store"
)

func TestMatchmakingPairsPlayers(t *testing.T) {
	f := newGatewayFixture(t)
	f.fund("alice", 100)
	f.fund("bob", 100)

	f.start("conn-a", StartData{DisplayName: "alice"})
	_, waiting := f.sender.lastOfType("conn-a", MessageTypeWaitingForOpponent)
	assert.True(t, waiting, "lone player should wait")

	f.start("conn-b", StartData{DisplayName: "bob"})

	msgA, okA := f.sender.lastOfType("conn-a", MessageTypeMatchFound)
	msgB, okB := f.sender.lastOfType("conn-b", MessageTypeMatchFound)
	require.True(t, okA)
	require.True(t, okB)

	var foundA, foundB MatchFoundData
	require.NoError(t, decodeData(msgA, &foundA))
	require.NoError(t, decodeData(msgB, &foundB))

	assert.Equal(t, foundA.SessionID, foundB.SessionID)
	assert.Equal(t, "bob", foundA.OpponentName)
	assert.Equal(t, "alice", foundB.OpponentName)
	assert.False(t, foundA.IsSyntheticOpponent)
	assert.Equal(t, 1, f.sessions.Len(), "one session persisted")
}

func TestStartRejectedWhenAlreadyQueued(t *testing.T) {
	f := newGatewayFixture(t)
	f.fund("alice", 100)

	f.start("conn-a", StartData{DisplayName: "alice"})
	f.start("conn-a", StartData{DisplayName: "alice"})

	_, rejected := f.sender.lastOfType("conn-a", MessageTypeAlreadyInQueue)
	assert.True(t, rejected)
}

func TestStartRejectedWithoutFunds(t *testing.T) {
	f := newGatewayFixture(t)
	f.fund("alice", 5) // below the 10 coin bet

	f.start("conn-a", StartData{DisplayName: "alice"})

	msg, ok := f.sender.lastOfType("conn-a", MessageTypeInsufficientFunds)
	require.True(t, ok)
	var data InsufficientFundsData
	require.NoError(t, decodeData(msg, &data))
	assert.Equal(t, 5.0, data.Balance)

	_, waiting := f.sender.lastOfType("conn-a", MessageTypeWaitingForOpponent)
	assert.False(t, waiting)
}

func TestCancelMatchmaking(t *testing.T) {
	f := newGatewayFixture(t)
	f.fund("alice", 100)

	f.start("conn-a", StartData{DisplayName: "alice"})
	f.cancelMatchmaking("conn-a")

	_, cancelled := f.sender.lastOfType("conn-a", MessageTypeMatchmakingCancel)
	assert.True(t, cancelled)

	// The bot fallback must not fire for a player who left the queue.
	f.advance(f.cfg.BotWait())
	_, matched := f.sender.lastOfType("conn-a", MessageTypeMatchFound)
	assert.False(t, matched)
}

func TestCancelWhenNotQueued(t *testing.T) {
	f := newGatewayFixture(t)
	f.cancelMatchmaking("conn-a")
	_, notQueued := f.sender.lastOfType("conn-a", MessageTypeNotInQueue)
	assert.True(t, notQueued)
}

func TestRoundResolutionAndSettlement(t *testing.T) {
	f := newGatewayFixture(t)
	sessionID := f.matchUp("conn-a", "alice", "conn-b", "bob", 100)

	f.makeChoice("conn-a", sessionID, "paper")

	_, registered := f.sender.lastOfType("conn-a", MessageTypeChoiceRegistered)
	assert.True(t, registered)
	_, prompted := f.sender.lastOfType("conn-b", MessageTypeOpponentMadeChoice)
	assert.True(t, prompted, "waiting player gets the countdown")

	f.makeChoice("conn-b", sessionID, "rock")

	msgA, okA := f.sender.lastOfType("conn-a", MessageTypeRoundResult)
	msgB, okB := f.sender.lastOfType("conn-b", MessageTypeRoundResult)
	require.True(t, okA)
	require.True(t, okB)

	var resA, resB RoundResultData
	require.NoError(t, decodeData(msgA, &resA))
	require.NoError(t, decodeData(msgB, &resB))

	assert.Equal(t, ResultWin, resA.Result)
	assert.Equal(t, ResultLoss, resB.Result)
	assert.Equal(t, SettlementSettled, resA.Settlement)
	assert.Equal(t, ScorePair{You: 1, Opponent: 0}, resA.Scores)
	assert.Equal(t, ScorePair{You: 0, Opponent: 1}, resB.Scores)

	// bet 10, per-player fee 1: winner nets +8, house keeps 2.
	assert.Equal(t, 108.0, f.balance("alice"))
	assert.Equal(t, 90.0, f.balance("bob"))
	assert.Equal(t, 2.0, f.admin.Total())

	_, nextA := f.sender.lastOfType("conn-a", MessageTypeNextRoundReady)
	_, nextB := f.sender.lastOfType("conn-b", MessageTypeNextRoundReady)
	assert.True(t, nextA)
	assert.True(t, nextB)
}

func TestTieSkipsSettlement(t *testing.T) {
	f := newGatewayFixture(t)
	sessionID := f.matchUp("conn-a", "alice", "conn-b", "bob", 100)

	f.makeChoice("conn-a", sessionID, "rock")
	f.makeChoice("conn-b", sessionID, "rock")

	msgA, ok := f.sender.lastOfType("conn-a", MessageTypeRoundResult)
	require.True(t, ok)
	var res RoundResultData
	require.NoError(t, decodeData(msgA, &res))

	assert.Equal(t, ResultTie, res.Result)
	assert.Equal(t, SettlementSkipped, res.Settlement)
	assert.Equal(t, 100.0, f.balance("alice"))
	assert.Equal(t, 100.0, f.balance("bob"))
	assert.Equal(t, 0.0, f.admin.Total())
}

func TestDuplicateChoiceRejected(t *testing.T) {
	f := newGatewayFixture(t)
	sessionID := f.matchUp("conn-a", "alice", "conn-b", "bob", 100)

	f.makeChoice("conn-a", sessionID, "rock")
	f.makeChoice("conn-a", sessionID, "paper")

	_, rejected := f.sender.lastOfType("conn-a", MessageTypeChoiceAlreadyMade)
	assert.True(t, rejected)
}

func TestInvalidChoiceRejected(t *testing.T) {
	f := newGatewayFixture(t)
	sessionID := f.matchUp("conn-a", "alice", "conn-b", "bob", 100)

	f.makeChoice("conn-a", sessionID, "lizard")

	msg, ok := f.sender.lastOfType("conn-a", MessageTypeError)
	require.True(t, ok)
	var data ErrorData
	require.NoError(t, decodeData(msg, &data))
	assert.Equal(t, "invalid_choice", data.Code)
}

func TestTurnTimeoutForfeitsRound(t *testing.T) {
	f := newGatewayFixture(t)
	sessionID := f.matchUp("conn-a", "alice", "conn-b", "bob", 100)

	f.makeChoice("conn-a", sessionID, "scissors")
	f.advance(f.cfg.TurnTimeout())

	msgA, okA := f.sender.lastOfType("conn-a", MessageTypeRoundResult)
	msgB, okB := f.sender.lastOfType("conn-b", MessageTypeRoundResult)
	require.True(t, okA)
	require.True(t, okB)

	var resA, resB RoundResultData
	require.NoError(t, decodeData(msgA, &resA))
	require.NoError(t, decodeData(msgB, &resB))

	assert.Equal(t, ResultWin, resA.Result)
	assert.Equal(t, ReasonOpponentTimeout, resA.Reason)
	assert.Equal(t, ResultLoss, resB.Result)
	assert.Equal(t, ReasonTimedOut, resB.Reason)
	assert.Empty(t, resB.YourChoice)

	assert.Equal(t, 108.0, f.balance("alice"))
	assert.Equal(t, 90.0, f.balance("bob"))
}

func TestStaleTimerIgnoredAfterChoice(t *testing.T) {
	f := newGatewayFixture(t)
	sessionID := f.matchUp("conn-a", "alice", "conn-b", "bob", 100)

	f.makeChoice("conn-a", sessionID, "scissors")
	f.makeChoice("conn-b", sessionID, "rock")

	// Round resolved before the deadline; advancing past it must not
	// resolve a second time.
	f.advance(f.cfg.TurnTimeout())

	assert.Equal(t, 1, f.sender.countOfType("conn-a", MessageTypeRoundResult))
	assert.Equal(t, 1, f.sender.countOfType("conn-b", MessageTypeRoundResult))
}

func TestBrokePlayerForfeitsRoundWithoutPayout(t *testing.T) {
	f := newGatewayFixture(t)
	sessionID := f.matchUp("conn-a", "alice", "conn-b", "bob", 100)

	// Bob's balance drains below the bet after the match starts.
	f.accounts.SetCoins("bob", 3)

	f.makeChoice("conn-a", sessionID, "scissors")
	f.makeChoice("conn-b", sessionID, "rock")

	msgA, okA := f.sender.lastOfType("conn-a", MessageTypeRoundResult)
	msgB, okB := f.sender.lastOfType("conn-b", MessageTypeRoundResult)
	require.True(t, okA)
	require.True(t, okB)

	var resA, resB RoundResultData
	require.NoError(t, decodeData(msgA, &resA))
	require.NoError(t, decodeData(msgB, &resB))

	// Rock would beat scissors, but a player who cannot back the bet
	// sits the round out instead.
	assert.Equal(t, ResultLoss, resB.Result)
	assert.Equal(t, ReasonForfeit, resB.Reason)
	assert.Equal(t, ResultWin, resA.Result)
	assert.Equal(t, ReasonOpponentForfeit, resA.Reason)
	assert.Equal(t, SettlementBetVoided, resA.Settlement)

	// No coins move in either direction.
	assert.Equal(t, 100.0, f.balance("alice"))
	assert.Equal(t, 3.0, f.balance("bob"))
	assert.Equal(t, 0.0, f.admin.Total())

	// The match then ends because bob cannot cover the next bet.
	msgEnd, okEnd := f.sender.lastOfType("conn-b", MessageTypeGameEndedNoFunds)
	require.True(t, okEnd)
	var funds InsufficientFundsData
	require.NoError(t, decodeData(msgEnd, &funds))
	assert.Equal(t, 3.0, funds.Balance)
}

func TestForfeitChecksWaitingPlayerBeforeResolution(t *testing.T) {
	f := newGatewayFixture(t)
	sessionID := f.matchUp("conn-a", "alice", "conn-b", "bob", 100)

	// Alice commits first, then her balance drains while bob thinks.
	f.makeChoice("conn-a", sessionID, "paper")
	f.accounts.SetCoins("alice", 2)
	f.makeChoice("conn-b", sessionID, "rock")

	msgA, okA := f.sender.lastOfType("conn-a", MessageTypeRoundResult)
	msgB, okB := f.sender.lastOfType("conn-b", MessageTypeRoundResult)
	require.True(t, okA)
	require.True(t, okB)

	var resA, resB RoundResultData
	require.NoError(t, decodeData(msgA, &resA))
	require.NoError(t, decodeData(msgB, &resB))

	assert.Equal(t, ResultLoss, resA.Result)
	assert.Equal(t, ReasonForfeit, resA.Reason)
	assert.Equal(t, ResultWin, resB.Result)
	assert.Equal(t, ReasonOpponentForfeit, resB.Reason)

	assert.Equal(t, 2.0, f.balance("alice"))
	assert.Equal(t, 100.0, f.balance("bob"))
}

func TestPairingFailureRequeuesPlayers(t *testing.T) {
	faulty := &faultyStore{
		MemoryStore: store.NewMemoryStore(),
		failSet:     errors.New("store offline"),
	}
	f := newGatewayFixtureWithStore(t, faulty)
	f.fund("alice", 100)
	f.fund("bob", 100)

	f.start("conn-a", StartData{DisplayName: "alice"})
	f.start("conn-b", StartData{DisplayName: "bob"})

	assert.Equal(t, 1, f.sender.countOfType("conn-a", MessageTypeMatchmakingError))
	assert.Equal(t, 1, f.sender.countOfType("conn-b", MessageTypeMatchmakingError))
	assert.Equal(t, 2, f.gateway.queue.Len(), "both players return to the queue")

	// Once the store recovers, the retried pair matches ahead of a
	// newcomer and in arrival order.
	faulty.heal()
	f.fund("carol", 100)
	f.start("conn-c", StartData{DisplayName: "carol"})

	msg, ok := f.sender.lastOfType("conn-a", MessageTypeMatchFound)
	require.True(t, ok)
	var found MatchFoundData
	require.NoError(t, decodeData(msg, &found))
	assert.Equal(t, "bob", found.OpponentName)
	assert.True(t, f.gateway.queue.Contains("conn-c"))
}

func TestBotFallbackMatch(t *testing.T) {
	f := newGatewayFixture(t)
	f.fund("alice", 100)

	f.start("conn-a", StartData{DisplayName: "alice"})
	f.advance(f.cfg.BotWait())

	msg, ok := f.sender.lastOfType("conn-a", MessageTypeMatchFound)
	require.True(t, ok, "bot fallback should create a match")
	var found MatchFoundData
	require.NoError(t, decodeData(msg, &found))
	assert.True(t, found.IsSyntheticOpponent)
	assert.Contains(t, botNames, found.OpponentName)

	// After the think delay the bot has committed.
	f.advance(f.cfg.BotThink())
	_, prompted := f.sender.lastOfType("conn-a", MessageTypeOpponentMadeChoice)
	assert.True(t, prompted)

	f.makeChoice("conn-a", found.SessionID, "rock")
	msgRes, ok := f.sender.lastOfType("conn-a", MessageTypeRoundResult)
	require.True(t, ok)
	var res RoundResultData
	require.NoError(t, decodeData(msgRes, &res))
	assert.NotEmpty(t, res.OpponentChoice)
	assert.Equal(t, SettlementSkipped, res.Settlement, "bot matches are score-only")
	assert.Equal(t, 100.0, f.balance("alice"))
}

func TestBotMatchHasNoTurnCountdown(t *testing.T) {
	f := newGatewayFixture(t)
	f.fund("alice", 100)

	f.start("conn-a", StartData{DisplayName: "alice"})
	f.advance(f.cfg.BotWait())

	msg, ok := f.sender.lastOfType("conn-a", MessageTypeMatchFound)
	require.True(t, ok)
	var found MatchFoundData
	require.NoError(t, decodeData(msg, &found))

	f.advance(f.cfg.BotThink())
	_, prompted := f.sender.lastOfType("conn-a", MessageTypeOpponentMadeChoice)
	require.True(t, prompted)
	assert.Equal(t, 0, f.gateway.timers.ActiveCount(), "bot rounds carry no countdown")

	// The human can outlast the usual deadline without forfeiting.
	f.advance(3 * f.cfg.TurnTimeout())
	assert.Equal(t, 0, f.sender.countOfType("conn-a", MessageTypeRoundResult))

	f.makeChoice("conn-a", found.SessionID, "paper")
	assert.Equal(t, 1, f.sender.countOfType("conn-a", MessageTypeRoundResult))
}

func TestBotFallbackNotArmedForPair(t *testing.T) {
	f := newGatewayFixture(t)
	sessionID := f.matchUp("conn-a", "alice", "conn-b", "bob", 100)
	require.NotEmpty(t, sessionID)

	f.advance(f.cfg.BotWait())
	assert.Equal(t, 1, f.sender.countOfType("conn-a", MessageTypeMatchFound))
}

func TestEndGameRecordsHistory(t *testing.T) {
	f := newGatewayFixture(t)
	sessionID := f.matchUp("conn-a", "alice", "conn-b", "bob", 100)

	f.makeChoice("conn-a", sessionID, "paper")
	f.makeChoice("conn-b", sessionID, "rock")
	f.endGame("conn-b", sessionID)

	msgA, okA := f.sender.lastOfType("conn-a", MessageTypeGameEnded)
	require.True(t, okA)
	var ended GameEndedData
	require.NoError(t, decodeData(msgA, &ended))
	assert.Equal(t, "bob", ended.Initiator)

	matches := f.accounts.Matches("alice")
	require.Len(t, matches, 1)
	assert.Equal(t, sessionID, matches[0].SessionID)
	assert.ElementsMatch(t, []string{"alice", "bob"}, matches[0].Players)
	assert.Equal(t, 1, matches[0].Scores["alice"])
	assert.Equal(t, 0, matches[0].Scores["bob"])
	require.Len(t, f.accounts.Matches("bob"), 1)

	assert.Equal(t, 0, f.sessions.Len(), "session removed")

	// A second end for the same session is reported as already over.
	f.endGame("conn-a", sessionID)
	_, already := f.sender.lastOfType("conn-a", MessageTypeGameAlreadyEnded)
	assert.True(t, already)
}

func TestDisconnectNotifiesOpponent(t *testing.T) {
	f := newGatewayFixture(t)
	sessionID := f.matchUp("conn-a", "alice", "conn-b", "bob", 100)
	require.NotEmpty(t, sessionID)

	f.disconnect("conn-a")

	_, notified := f.sender.lastOfType("conn-b", MessageTypeOpponentDisconnect)
	assert.True(t, notified)
	assert.Equal(t, 0, f.sessions.Len())

	// The survivor can queue again immediately.
	f.start("conn-b", StartData{DisplayName: "bob"})
	_, waiting := f.sender.lastOfType("conn-b", MessageTypeWaitingForOpponent)
	assert.True(t, waiting)
}

func TestGameEndsWhenLoserCannotCoverNextBet(t *testing.T) {
	f := newGatewayFixture(t)
	f.fund("alice", 100)
	f.fund("bob", 10) // can cover exactly one losing round
	f.start("conn-a", StartData{DisplayName: "alice"})
	f.start("conn-b", StartData{DisplayName: "bob"})

	msg, ok := f.sender.lastOfType("conn-a", MessageTypeMatchFound)
	require.True(t, ok)
	var found MatchFoundData
	require.NoError(t, decodeData(msg, &found))

	f.makeChoice("conn-a", found.SessionID, "paper")
	f.makeChoice("conn-b", found.SessionID, "rock")

	msgB, okB := f.sender.lastOfType("conn-b", MessageTypeGameEndedNoFunds)
	require.True(t, okB)
	var funds InsufficientFundsData
	require.NoError(t, decodeData(msgB, &funds))
	assert.Equal(t, 0.0, funds.Balance)

	_, okA := f.sender.lastOfType("conn-a", MessageTypeGameEndedNoFunds)
	assert.True(t, okA)
	assert.Equal(t, 0, f.sessions.Len())

	// Terminal state still lands in both histories.
	require.Len(t, f.accounts.Matches("alice"), 1)
	require.Len(t, f.accounts.Matches("bob"), 1)
}

func TestAffiliateOwnersFrozenAtMatchStart(t *testing.T) {
	f := newGatewayFixture(t)
	f.fund("alice", 100)
	f.fund("bob", 100)
	// Register an approved owner account keyed by external id.
	_, err := f.accounts.Create(t.Context(), "carol", "owner-1", 0)
	require.NoError(t, err)
	f.revshare.SetStatus("owner-1", "approved")
	f.revshare.SetStatus("owner-2", "pending")

	f.start("conn-a", StartData{DisplayName: "alice", AffiliateOwnerID: "owner-1"})
	f.start("conn-b", StartData{DisplayName: "bob", AffiliateOwnerID: "owner-2"})

	msg, ok := f.sender.lastOfType("conn-a", MessageTypeMatchFound)
	require.True(t, ok)
	var found MatchFoundData
	require.NoError(t, decodeData(msg, &found))

	f.makeChoice("conn-a", found.SessionID, "paper")
	f.makeChoice("conn-b", found.SessionID, "rock")

	// Approved owner gets the 0.5 bonus; the pending one gets nothing
	// and the house keeps the rest of the 2 coin fee.
	assert.Equal(t, 0.5, f.balance("carol"))
	assert.Equal(t, 1.5, f.admin.Total())
}

func TestChoiceForUnknownSession(t *testing.T) {
	f := newGatewayFixture(t)
	f.makeChoice("conn-a", "session_missing", "rock")
	_, ended := f.sender.lastOfType("conn-a", MessageTypeGameAlreadyEnded)
	assert.True(t, ended)
}
