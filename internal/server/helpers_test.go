package server

import (
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/rpsarena/server/internal/ledger"
	"github.com/rpsarena/server/internal/store"
)

func decodeData(msg *Message, out interface{}) error {
	return json.Unmarshal(msg.Data, out)
}

func testLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel})
}

// fakeSender records outbound messages per connection.
type fakeSender struct {
	mu   sync.Mutex
	msgs map[string][]*Message
}

func newFakeSender() *fakeSender {
	return &fakeSender{msgs: make(map[string][]*Message)}
}

func (s *fakeSender) Send(connID string, msg *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs[connID] = append(s.msgs[connID], msg)
}

func (s *fakeSender) messages(connID string) []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Message, len(s.msgs[connID]))
	copy(out, s.msgs[connID])
	return out
}

func (s *fakeSender) lastOfType(connID string, t MessageType) (*Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.msgs[connID]) - 1; i >= 0; i-- {
		if s.msgs[connID][i].Type == t {
			return s.msgs[connID][i], true
		}
	}
	return nil, false
}

func (s *fakeSender) countOfType(connID string, t MessageType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.msgs[connID] {
		if m.Type == t {
			n++
		}
	}
	return n
}

// faultyStore wraps a memory store and fails writes on demand.
type faultyStore struct {
	*store.MemoryStore
	mu      sync.Mutex
	failSet error
}

func (s *faultyStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	err := s.failSet
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.MemoryStore.Set(ctx, key, value)
}

func (s *faultyStore) heal() {
	s.mu.Lock()
	s.failSet = nil
	s.mu.Unlock()
}

// gatewayFixture runs a gateway against in-memory backends and a mock
// clock.
type gatewayFixture struct {
	t        *testing.T
	gateway  *Gateway
	sender   *fakeSender
	sessions *store.MemoryStore
	accounts *ledger.MemoryLedger
	admin    *ledger.MemoryAdminSink
	revshare *ledger.MemoryRevshare
	clock    *quartz.Mock
	cfg      GameSettings
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	return newGatewayFixtureWithStore(t, store.NewMemoryStore())
}

// newGatewayFixtureWithStore runs the gateway on the given session
// store so tests can inject failing backends.
func newGatewayFixtureWithStore(t *testing.T, sessions store.SessionStore) *gatewayFixture {
	t.Helper()

	cfg := DefaultServerConfig().Game
	f := &gatewayFixture{
		t:        t,
		sender:   newFakeSender(),
		accounts: ledger.NewMemoryLedger(),
		admin:    ledger.NewMemoryAdminSink(),
		revshare: ledger.NewMemoryRevshare(),
		clock:    quartz.NewMock(t),
		cfg:      cfg,
	}
	if mem, ok := sessions.(*store.MemoryStore); ok {
		f.sessions = mem
	}
	f.gateway = NewGateway(testLogger(), cfg, f.clock, rand.New(rand.NewSource(42)),
		f.sender, sessions, f.accounts, f.admin, f.revshare)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go f.gateway.Run(ctx)
	return f
}

// flush waits until every event posted so far has been processed.
func (f *gatewayFixture) flush() {
	f.t.Helper()
	done := make(chan struct{})
	f.gateway.post(func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		f.t.Fatal("gateway event loop stalled")
	}
}

// advance moves the mock clock and waits for fired timer callbacks, then
// for the handlers they posted.
func (f *gatewayFixture) advance(d time.Duration) {
	f.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f.clock.Advance(d).MustWait(ctx)
	f.flush()
}

// fund creates an account with the given balance.
func (f *gatewayFixture) fund(name string, coins float64) {
	f.t.Helper()
	if _, err := f.accounts.Create(context.Background(), name, "", 0); err != nil {
		f.t.Fatalf("create account: %v", err)
	}
	f.accounts.SetCoins(name, coins)
}

func (f *gatewayFixture) balance(name string) float64 {
	f.t.Helper()
	acct, found, err := f.accounts.FindByUsername(context.Background(), name)
	if err != nil || !found {
		f.t.Fatalf("account %q not found (err=%v)", name, err)
	}
	return acct.Coins
}

// start posts a start event and waits for it to be handled.
func (f *gatewayFixture) start(connID string, data StartData) {
	f.t.Helper()
	f.gateway.post(func() { f.gateway.handleStart(connID, data) })
	f.flush()
}

func (f *gatewayFixture) makeChoice(connID, sessionID, choice string) {
	f.t.Helper()
	f.gateway.post(func() {
		f.gateway.handleMakeChoice(connID, MakeChoiceData{SessionID: sessionID, Choice: choice})
	})
	f.flush()
}

func (f *gatewayFixture) endGame(connID, sessionID string) {
	f.t.Helper()
	f.gateway.post(func() {
		f.gateway.handleEndGame(connID, EndGameData{SessionID: sessionID})
	})
	f.flush()
}

func (f *gatewayFixture) cancelMatchmaking(connID string) {
	f.t.Helper()
	f.gateway.post(func() { f.gateway.handleCancel(connID) })
	f.flush()
}

func (f *gatewayFixture) disconnect(connID string) {
	f.t.Helper()
	f.gateway.HandleDisconnect(connID)
	f.flush()
}

// matchUp funds and starts two players and returns the session id.
func (f *gatewayFixture) matchUp(connA, nameA, connB, nameB string, coins float64) string {
	f.t.Helper()
	f.fund(nameA, coins)
	f.fund(nameB, coins)
	f.start(connA, StartData{DisplayName: nameA})
	f.start(connB, StartData{DisplayName: nameB})

	msg, ok := f.sender.lastOfType(connA, MessageTypeMatchFound)
	if !ok {
		f.t.Fatal("no match_found delivered")
	}
	var found MatchFoundData
	if err := decodeData(msg, &found); err != nil {
		f.t.Fatalf("decode match_found: %v", err)
	}
	return found.SessionID
}
