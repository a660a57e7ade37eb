package server

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/rpsarena/server/internal/ledger"
	"github.com/rpsarena/server/internal/store"
)

// Sender delivers an outbound message to a connection. Implementations
// must be safe for concurrent use and must treat unknown connection ids
// as a no-op.
type Sender interface {
	Send(connID string, msg *Message)
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(connID string, msg *Message)

func (f SenderFunc) Send(connID string, msg *Message) { f(connID, msg) }

// Gateway owns matchmaking and match state. It is a single-threaded
// actor: connection goroutines and timer callbacks post closures onto
// the events channel and Run executes them one at a time, so handlers
// never race each other. Session state itself lives in the session
// store; every handler reads it fresh and writes it back whole.
type Gateway struct {
	logger *log.Logger
	cfg    GameSettings
	clock  quartz.Clock
	rng    *rand.Rand

	sender   Sender
	store    store.SessionStore
	ledger   ledger.Ledger
	revshare ledger.RevshareDirectory
	engine   *SettlementEngine

	queue  *MatchQueue
	timers *TurnTimerRegistry

	events chan func()
	done   chan struct{}
	ctx    context.Context

	// connID -> sessionID, actor-owned.
	sessions map[string]string
}

// NewGateway wires the gateway to its collaborators. Run must be called
// before any traffic is dispatched.
func NewGateway(
	logger *log.Logger,
	cfg GameSettings,
	clock quartz.Clock,
	rng *rand.Rand,
	sender Sender,
	sessions store.SessionStore,
	l ledger.Ledger,
	admin ledger.AdminSink,
	revshare ledger.RevshareDirectory,
) *Gateway {
	return &Gateway{
		logger:   logger.WithPrefix("gateway"),
		cfg:      cfg,
		clock:    clock,
		rng:      rng,
		sender:   sender,
		store:    sessions,
		ledger:   l,
		revshare: revshare,
		engine:   NewSettlementEngine(logger, l, admin, cfg),
		queue:    NewMatchQueue(clock),
		timers:   NewTurnTimerRegistry(clock),
		events:   make(chan func(), 256),
		done:     make(chan struct{}),
		ctx:      context.Background(),
		sessions: make(map[string]string),
	}
}

// Run drains the event channel until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) {
	g.ctx = ctx
	defer close(g.done)
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-g.events:
			fn()
		}
	}
}

func (g *Gateway) post(fn func()) {
	select {
	case g.events <- fn:
	case <-g.done:
	}
}

// Dispatch decodes an inbound message and posts the matching handler.
// Called from connection read loops.
func (g *Gateway) Dispatch(connID string, msg *Message) {
	switch msg.Type {
	case MessageTypeStart:
		var data StartData
		if msg.Data != nil {
			if err := json.Unmarshal(msg.Data, &data); err != nil {
				g.sendError(connID, "invalid_message")
				return
			}
		}
		g.post(func() { g.handleStart(connID, data) })
	case MessageTypeCancelMatchmaking:
		g.post(func() { g.handleCancel(connID) })
	case MessageTypeMakeChoice:
		var data MakeChoiceData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			g.sendError(connID, "invalid_message")
			return
		}
		g.post(func() { g.handleMakeChoice(connID, data) })
	case MessageTypeEndGame:
		var data EndGameData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			g.sendError(connID, "invalid_message")
			return
		}
		g.post(func() { g.handleEndGame(connID, data) })
	default:
		g.sendError(connID, "unknown_message_type")
	}
}

// HandleDisconnect posts the teardown for a dropped connection. Called
// from connection read loops when the socket closes.
func (g *Gateway) HandleDisconnect(connID string) {
	g.post(func() { g.handleDisconnect(connID) })
}

// --- actor-side handlers ---

func (g *Gateway) handleStart(connID string, data StartData) {
	if _, inSession := g.sessions[connID]; inSession {
		g.notify(connID, MessageTypeAlreadyInSession, "")
		return
	}
	if g.queue.Contains(connID) {
		g.notify(connID, MessageTypeAlreadyInQueue, "")
		return
	}
	if data.DisplayName == "" {
		g.sendError(connID, "missing_display_name")
		return
	}

	player := Player{
		ConnID:           connID,
		DisplayName:      data.DisplayName,
		ExternalUserID:   data.ExternalUserID,
		AffiliateOwnerID: data.AffiliateOwnerID,
	}

	acct, err := g.ledger.Create(g.ctx, player.DisplayName, player.ExternalUserID, g.cfg.StartingCoins)
	if err != nil {
		g.logger.Error("account lookup failed", "player", player.DisplayName, "err", err)
		g.notify(connID, MessageTypeMatchmakingError, "account_unavailable")
		return
	}
	if acct.Coins < g.cfg.BetAmount {
		g.send(connID, MessageTypeInsufficientFunds, InsufficientFundsData{Balance: acct.Coins})
		return
	}

	g.queue.Enqueue(player)

	if a, b, ok := g.queue.PopPair(); ok {
		g.startMatch(a, b, false)
		return
	}

	g.notify(connID, MessageTypeWaitingForOpponent, "")
	g.queue.ArmBotDeadline(connID, g.cfg.BotWait(), func() {
		g.post(func() { g.handleBotDeadline(connID) })
	})
}

func (g *Gateway) handleCancel(connID string) {
	if _, inSession := g.sessions[connID]; inSession {
		g.notify(connID, MessageTypeCannotCancelInGame, "")
		return
	}
	if !g.queue.Remove(connID) {
		g.notify(connID, MessageTypeNotInQueue, "")
		return
	}
	g.notify(connID, MessageTypeMatchmakingCancel, "")
}

// handleBotDeadline fires when a lone waiter's patience window lapses.
// The waiter may have left the queue in the meantime.
func (g *Gateway) handleBotDeadline(connID string) {
	player, ok := g.queue.PopConn(connID)
	if !ok {
		return
	}
	bot := newBotPlayer(g.rng, g.clock.Now())
	if _, err := g.ledger.Create(g.ctx, bot.DisplayName, "", 0); err != nil {
		g.logger.Error("bot account creation failed", "bot", bot.DisplayName, "err", err)
		g.queue.Enqueue(player)
		g.notify(connID, MessageTypeMatchmakingError, "bot_unavailable")
		return
	}
	g.startMatch(player, bot, true)
}

func (g *Gateway) startMatch(a, b Player, synthetic bool) {
	owners := g.approvedOwners(a, b)
	sess := NewMatchSession(NewSessionID(a, b, synthetic, g.clock.Now()), a, b, synthetic, owners, g.clock.Now())

	if err := g.persist(sess); err != nil {
		g.logger.Error("session create failed", "session", sess.ID, "err", err)
		// Both real players go back to the head of the queue so the
		// next pairing retries them first, in the same order.
		var requeue []Player
		for _, p := range sess.Players {
			if !IsBotConn(p.ConnID) {
				requeue = append(requeue, p)
			}
		}
		g.queue.PushFront(requeue...)
		for _, p := range sess.Players {
			g.notify(p.ConnID, MessageTypeMatchmakingError, "session_unavailable")
		}
		return
	}

	for _, p := range sess.Players {
		g.sessions[p.ConnID] = sess.ID
	}
	g.logger.Info("match started", "session", sess.ID,
		"a", a.DisplayName, "b", b.DisplayName, "synthetic", synthetic)

	for _, pair := range [][2]Player{{a, b}, {b, a}} {
		self, opp := pair[0], pair[1]
		g.send(self.ConnID, MessageTypeMatchFound, MatchFoundData{
			SessionID:           sess.ID,
			OpponentName:        opp.DisplayName,
			YourName:            self.DisplayName,
			IsSyntheticOpponent: synthetic,
		})
	}

	if synthetic {
		g.scheduleBotChoice(sess.ID)
	}
}

// approvedOwners freezes the bonus recipients for the session: unique
// affiliate owner ids whose revshare request is approved. Lookup
// failures count as not approved.
func (g *Gateway) approvedOwners(players ...Player) []string {
	var owners []string
	seen := make(map[string]bool)
	for _, p := range players {
		ownerID := p.AffiliateOwnerID
		if ownerID == "" || seen[ownerID] {
			continue
		}
		seen[ownerID] = true
		status, found, err := g.revshare.FindApprovalStatus(g.ctx, ownerID)
		if err != nil {
			g.logger.Warn("revshare lookup failed", "owner", ownerID, "err", err)
			continue
		}
		if found && status == ledger.StatusApproved {
			owners = append(owners, ownerID)
		}
	}
	return owners
}

func (g *Gateway) handleMakeChoice(connID string, data MakeChoiceData) {
	sess, ok := g.loadSession(data.SessionID)
	if !ok || !sess.HasPlayer(connID) {
		g.notify(connID, MessageTypeGameAlreadyEnded, "")
		return
	}
	choice, valid := ParseChoice(data.Choice)
	if !valid {
		g.sendError(connID, "invalid_choice")
		return
	}
	if sess.Choices[connID] != "" {
		g.notify(connID, MessageTypeChoiceAlreadyMade, "")
		return
	}

	// Balances may have drained since the match started. A side that can
	// no longer back the bet forfeits before its throw counts.
	if !sess.IsSyntheticOpponent {
		self, _ := sess.PlayerByConn(connID)
		if g.forfeitIfUncovered(sess, self) {
			return
		}
	}

	sess.Choices[connID] = choice
	sess.Touch(g.clock.Now())
	g.timers.Cancel(sess.ID, connID)

	if sess.BothChosen() {
		if !sess.IsSyntheticOpponent {
			opp, _ := sess.Opponent(connID)
			if g.forfeitIfUncovered(sess, opp) {
				return
			}
		}
		g.resolveRound(sess, nil)
		return
	}

	if err := g.persist(sess); err != nil {
		g.logger.Error("session update failed", "session", sess.ID, "err", err)
		g.sendError(connID, "server_error")
		return
	}
	g.notify(connID, MessageTypeChoiceRegistered, "")

	opp, _ := sess.Opponent(connID)
	if IsBotConn(opp.ConnID) {
		// The bot's own think delay completes the round.
		return
	}
	g.send(opp.ConnID, MessageTypeOpponentMadeChoice, OpponentMadeChoiceData{
		DeadlineMs: int64(g.cfg.TurnTimeoutMs),
	})
	g.armTurnTimer(sess.ID, opp.ConnID)
}

// forfeitIfUncovered ends the round by forfeit when p can no longer
// back the bet: the opponent wins outright and no coins move. Returns
// true when the round was resolved. A failed balance lookup is logged
// and lets the round proceed.
func (g *Gateway) forfeitIfUncovered(sess *MatchSession, p Player) bool {
	balance, covered, err := g.engine.CanCover(g.ctx, p)
	if err != nil {
		g.logger.Error("balance check failed", "session", sess.ID, "player", p.DisplayName, "err", err)
		return false
	}
	if covered {
		return false
	}
	g.logger.Info("player cannot cover bet, round forfeited",
		"session", sess.ID, "player", p.DisplayName, "balance", balance)
	opp, _ := sess.Opponent(p.ConnID)
	g.resolveRound(sess, map[string]string{
		p.ConnID:   ReasonForfeit,
		opp.ConnID: ReasonOpponentForfeit,
	})
	return true
}

// armTurnTimer starts the forfeit countdown for the player still to move.
func (g *Gateway) armTurnTimer(sessionID, connID string) {
	g.timers.Arm(sessionID, connID, g.cfg.TurnTimeout(), func() {
		g.post(func() { g.handleTurnExpiry(sessionID, connID) })
	})
}

// handleTurnExpiry runs when a turn timer fires. The session is re-read
// from the store first: if it is gone, or the player moved after all,
// the expiry is stale and ignored.
func (g *Gateway) handleTurnExpiry(sessionID, connID string) {
	sess, ok := g.loadSession(sessionID)
	if !ok || !sess.HasPlayer(connID) {
		return
	}
	if sess.Choices[connID] != "" {
		return
	}
	opp, _ := sess.Opponent(connID)
	if sess.Choices[opp.ConnID] == "" {
		return
	}
	g.logger.Info("turn timed out", "session", sessionID, "conn", connID)
	g.resolveRound(sess, map[string]string{
		connID:     ReasonTimedOut,
		opp.ConnID: ReasonOpponentTimeout,
	})
}

// scheduleBotChoice arms the synthetic opponent's move for the current
// round after the think delay.
func (g *Gateway) scheduleBotChoice(sessionID string) {
	g.clock.AfterFunc(g.cfg.BotThink(), func() {
		g.post(func() { g.handleBotChoice(sessionID) })
	})
}

func (g *Gateway) handleBotChoice(sessionID string) {
	sess, ok := g.loadSession(sessionID)
	if !ok {
		return
	}
	var bot, human Player
	for _, p := range sess.Players {
		if IsBotConn(p.ConnID) {
			bot = p
		} else {
			human = p
		}
	}
	if bot.ConnID == "" || sess.Choices[bot.ConnID] != "" {
		return
	}

	sess.Choices[bot.ConnID] = randomBotChoice(g.rng)
	sess.Touch(g.clock.Now())

	if sess.BothChosen() {
		g.resolveRound(sess, nil)
		return
	}
	if err := g.persist(sess); err != nil {
		g.logger.Error("session update failed", "session", sess.ID, "err", err)
		return
	}
	// Bot rounds run without a forfeit countdown; the human may take as
	// long as they like.
	g.send(human.ConnID, MessageTypeOpponentMadeChoice, OpponentMadeChoiceData{})
}

// resolveRound settles the round, reports it, and either rolls the
// session into the next round or ends the match when a player can no
// longer cover the bet.
func (g *Gateway) resolveRound(sess *MatchSession, reasons map[string]string) {
	g.timers.CancelAll(sess.ID)

	results := g.engine.Resolve(g.ctx, sess, reasons)
	for _, p := range sess.Players {
		g.send(p.ConnID, MessageTypeRoundResult, results[p.ConnID])
	}

	for _, p := range sess.Players {
		if IsBotConn(p.ConnID) {
			continue
		}
		balance, covered, err := g.engine.CanCover(g.ctx, p)
		if err != nil {
			g.logger.Error("balance check failed", "session", sess.ID, "player", p.DisplayName, "err", err)
			continue
		}
		if !covered {
			g.logger.Info("match ended, player cannot cover bet",
				"session", sess.ID, "player", p.DisplayName, "balance", balance)
			g.endForInsufficientFunds(sess)
			return
		}
	}

	sess.ResetChoices()
	sess.Touch(g.clock.Now())
	if err := g.persist(sess); err != nil {
		g.logger.Error("session update failed", "session", sess.ID, "err", err)
		g.teardown(sess)
		return
	}
	for _, p := range sess.Players {
		g.notify(p.ConnID, MessageTypeNextRoundReady, "")
	}
	if sess.IsSyntheticOpponent {
		g.scheduleBotChoice(sess.ID)
	}
}

func (g *Gateway) endForInsufficientFunds(sess *MatchSession) {
	for _, p := range sess.Players {
		if IsBotConn(p.ConnID) {
			continue
		}
		balance, _, err := g.engine.CanCover(g.ctx, p)
		if err != nil {
			g.logger.Error("balance check failed", "session", sess.ID, "player", p.DisplayName, "err", err)
		}
		g.send(p.ConnID, MessageTypeGameEndedNoFunds, InsufficientFundsData{Balance: balance})
	}
	g.recordMatch(sess)
	g.teardown(sess)
}

func (g *Gateway) handleEndGame(connID string, data EndGameData) {
	sess, ok := g.loadSession(data.SessionID)
	if !ok || !sess.HasPlayer(connID) {
		g.notify(connID, MessageTypeGameAlreadyEnded, "")
		return
	}
	initiator, _ := sess.PlayerByConn(connID)
	g.logger.Info("match ended by player", "session", sess.ID, "initiator", initiator.DisplayName)

	g.recordMatch(sess)
	for _, p := range sess.Players {
		g.send(p.ConnID, MessageTypeGameEnded, GameEndedData{Initiator: initiator.DisplayName})
	}
	g.teardown(sess)
}

func (g *Gateway) handleDisconnect(connID string) {
	g.queue.Remove(connID)

	sessionID, inSession := g.sessions[connID]
	if !inSession {
		return
	}
	sess, ok := g.loadSession(sessionID)
	if !ok {
		delete(g.sessions, connID)
		return
	}
	g.logger.Info("player disconnected mid-match", "session", sess.ID, "conn", connID)
	if opp, found := sess.Opponent(connID); found {
		g.notify(opp.ConnID, MessageTypeOpponentDisconnect, "")
	}
	g.teardown(sess)
}

// recordMatch writes the terminal summary to every real participant's
// history. A duplicate summary means another path got there first.
func (g *Gateway) recordMatch(sess *MatchSession) {
	names := []string{sess.Players[0].DisplayName, sess.Players[1].DisplayName}
	scores := make(map[string]int, 2)
	for _, p := range sess.Players {
		scores[p.DisplayName] = sess.Scores[p.ConnID]
	}
	summary := ledger.MatchSummary{SessionID: sess.ID, Players: names, Scores: scores}

	for _, p := range sess.Players {
		if IsBotConn(p.ConnID) {
			continue
		}
		err := g.ledger.RecordMatch(g.ctx, p.DisplayName, summary)
		if errors.Is(err, ledger.ErrDuplicateMatch) {
			continue
		}
		if err != nil {
			g.logger.Error("match record failed", "session", sess.ID, "player", p.DisplayName, "err", err)
		}
	}
}

func (g *Gateway) teardown(sess *MatchSession) {
	g.timers.CancelAll(sess.ID)
	if err := g.store.Delete(g.ctx, sess.ID); err != nil {
		g.logger.Error("session delete failed", "session", sess.ID, "err", err)
	}
	for _, p := range sess.Players {
		delete(g.sessions, p.ConnID)
	}
}

// --- store and send helpers ---

func (g *Gateway) loadSession(sessionID string) (*MatchSession, bool) {
	if sessionID == "" {
		return nil, false
	}
	raw, found, err := g.store.Get(g.ctx, sessionID)
	if err != nil {
		g.logger.Error("session read failed", "session", sessionID, "err", err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	sess, err := DecodeSession(raw)
	if err != nil {
		g.logger.Error("session decode failed", "session", sessionID, "err", err)
		return nil, false
	}
	return sess, true
}

func (g *Gateway) persist(sess *MatchSession) error {
	raw, err := EncodeSession(sess)
	if err != nil {
		return err
	}
	return g.store.Set(g.ctx, sess.ID, raw)
}

func (g *Gateway) send(connID string, msgType MessageType, data interface{}) {
	if IsBotConn(connID) {
		return
	}
	msg, err := NewMessage(msgType, data)
	if err != nil {
		g.logger.Error("message encode failed", "type", msgType, "err", err)
		return
	}
	g.sender.Send(connID, msg)
}

// notify sends a named event with an optional reason code and no other
// payload.
func (g *Gateway) notify(connID string, msgType MessageType, reason string) {
	if reason == "" {
		g.send(connID, msgType, nil)
		return
	}
	g.send(connID, msgType, NoticeData{Reason: reason})
}

func (g *Gateway) sendError(connID string, code string) {
	g.send(connID, MessageTypeError, ErrorData{Code: code})
}
