package tui

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"

	"github.com/rpsarena/server/internal/client"
	"github.com/rpsarena/server/internal/server"
)

type matchState int

const (
	stateIdle matchState = iota
	stateQueued
	stateInMatch
)

// serverMsg wraps an inbound server message for the bubbletea loop.
type serverMsg struct {
	msg *server.Message
}

// connClosedMsg signals that the receive channel closed.
type connClosedMsg struct{}

// Model is the bubbletea model for the arena client.
type Model struct {
	logger *log.Logger
	client *client.Client
	cfg    *client.ClientConfig

	state     matchState
	sessionID string
	opponent  string
	synthetic bool
	yourScore int
	oppScore  int

	viewport viewport.Model
	input    textinput.Model
	lines    []string
	ready    bool
	quitting bool
}

// NewModel creates the client model. Connect must have been called on
// the client already.
func NewModel(c *client.Client, cfg *client.ClientConfig, logger *log.Logger) *Model {
	input := textinput.New()
	input.Placeholder = "/play to find a match, r/p/s to throw, /help for more"
	input.Focus()
	input.CharLimit = 64

	m := &Model{
		logger: logger.WithPrefix("tui"),
		client: c,
		cfg:    cfg,
		input:  input,
	}
	m.addLine(HeaderStyle.Render(" RPS Arena "))
	m.addLine(InfoStyle.Render("Connected as " + cfg.Player.Name))
	m.addLine("")
	return m
}

func (m *Model) Init() tea.Cmd {
	return m.listen()
}

// listen waits for the next server message.
func (m *Model) listen() tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-m.client.Receive()
		if !ok {
			return connClosedMsg{}
		}
		return serverMsg{msg: msg}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-4)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 4
		}
		m.refreshViewport()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			line := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			return m, m.handleInput(line)
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case serverMsg:
		m.handleServerMessage(msg.msg)
		return m, m.listen()

	case connClosedMsg:
		m.addLine(ErrorStyle.Render("Connection closed by server"))
		m.quitting = true
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleInput(line string) tea.Cmd {
	if line == "" {
		return nil
	}

	switch strings.ToLower(line) {
	case "/quit", "/q":
		m.quitting = true
		return tea.Quit

	case "/help":
		m.addLine(InfoStyle.Render("/play  - enter the matchmaking queue"))
		m.addLine(InfoStyle.Render("/cancel - leave the queue"))
		m.addLine(InfoStyle.Render("/end   - end the current match"))
		m.addLine(InfoStyle.Render("r, p, s - throw rock, paper or scissors"))
		m.addLine(InfoStyle.Render("/quit  - exit"))
		return nil

	case "/play":
		if err := m.client.Start(m.cfg.Player.Name, m.cfg.Player.ExternalUserID, m.cfg.Player.AffiliateOwnerID); err != nil {
			m.addLine(ErrorStyle.Render("Failed to start: " + err.Error()))
		}
		return nil

	case "/cancel":
		if err := m.client.CancelMatchmaking(); err != nil {
			m.addLine(ErrorStyle.Render("Failed to cancel: " + err.Error()))
		}
		return nil

	case "/end":
		if m.sessionID == "" {
			m.addLine(WarningStyle.Render("No match in progress"))
			return nil
		}
		if err := m.client.EndGame(m.sessionID); err != nil {
			m.addLine(ErrorStyle.Render("Failed to end match: " + err.Error()))
		}
		return nil

	case "r", "rock":
		return m.throw("rock")
	case "p", "paper":
		return m.throw("paper")
	case "s", "scissors":
		return m.throw("scissors")
	}

	m.addLine(WarningStyle.Render("Unknown command: " + line))
	return nil
}

func (m *Model) throw(choice string) tea.Cmd {
	if m.state != stateInMatch {
		m.addLine(WarningStyle.Render("Not in a match"))
		return nil
	}
	if err := m.client.MakeChoice(m.sessionID, choice); err != nil {
		m.addLine(ErrorStyle.Render("Failed to send choice: " + err.Error()))
	}
	return nil
}

func (m *Model) handleServerMessage(msg *server.Message) {
	switch msg.Type {
	case server.MessageTypeWaitingForOpponent:
		m.state = stateQueued
		m.addLine(StatusStyle.Render("Waiting for an opponent..."))

	case server.MessageTypeMatchFound:
		var data server.MatchFoundData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			m.logger.Error("Bad match_found payload", "error", err)
			return
		}
		m.state = stateInMatch
		m.sessionID = data.SessionID
		m.opponent = data.OpponentName
		m.synthetic = data.IsSyntheticOpponent
		m.yourScore, m.oppScore = 0, 0
		label := data.OpponentName
		if data.IsSyntheticOpponent {
			label += " (bot)"
		}
		m.addLine(SuccessStyle.Render("Match found vs " + label))
		m.addLine(InfoStyle.Render("Throw r, p or s"))

	case server.MessageTypeChoiceRegistered:
		m.addLine(InfoStyle.Render("Choice locked in"))

	case server.MessageTypeOpponentMadeChoice:
		var data server.OpponentMadeChoiceData
		_ = json.Unmarshal(msg.Data, &data)
		m.addLine(WarningStyle.Render(
			fmt.Sprintf("Opponent has chosen, you have %.0fs!", float64(data.DeadlineMs)/1000)))

	case server.MessageTypeRoundResult:
		var data server.RoundResultData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			m.logger.Error("Bad round_result payload", "error", err)
			return
		}
		m.yourScore = data.Scores.You
		m.oppScore = data.Scores.Opponent
		m.renderRound(data)

	case server.MessageTypeNextRoundReady:
		m.addLine(InfoStyle.Render("Next round, throw r, p or s"))

	case server.MessageTypeGameEnded:
		var data server.GameEndedData
		_ = json.Unmarshal(msg.Data, &data)
		m.addLine(StatusStyle.Render("Match ended by " + data.Initiator))
		m.resetMatch()

	case server.MessageTypeGameEndedNoFunds:
		var data server.InsufficientFundsData
		_ = json.Unmarshal(msg.Data, &data)
		m.addLine(ErrorStyle.Render(
			fmt.Sprintf("Match over, not enough coins to continue (balance %.1f)", data.Balance)))
		m.resetMatch()

	case server.MessageTypeOpponentDisconnect:
		m.addLine(WarningStyle.Render("Opponent disconnected"))
		m.resetMatch()

	case server.MessageTypeMatchmakingCancel:
		m.state = stateIdle
		m.addLine(InfoStyle.Render("Left the queue"))

	case server.MessageTypeInsufficientFunds:
		var data server.InsufficientFundsData
		_ = json.Unmarshal(msg.Data, &data)
		m.addLine(ErrorStyle.Render(
			fmt.Sprintf("Not enough coins to play (balance %.1f)", data.Balance)))
		m.state = stateIdle

	case server.MessageTypeError:
		var data server.ErrorData
		_ = json.Unmarshal(msg.Data, &data)
		m.addLine(ErrorStyle.Render("Server error: " + data.Code))

	default:
		// Named notices with no payload worth rendering specially.
		m.addLine(InfoStyle.Render(msg.Type.String()))
	}
}

func (m *Model) renderRound(data server.RoundResultData) {
	line := fmt.Sprintf("You threw %s, %s threw %s: ", data.YourChoice, m.opponent, data.OpponentChoice)
	switch data.Result {
	case server.ResultWin:
		line += "you win the round"
	case server.ResultLoss:
		line += "you lose the round"
	default:
		line += "tie"
	}
	if data.Reason != "" {
		line += " (" + data.Reason + ")"
	}

	style := GameLogStyle
	switch data.Result {
	case server.ResultWin:
		style = SuccessStyle
	case server.ResultLoss:
		style = ErrorStyle
	}
	m.addLine(style.Render(line))

	switch data.Settlement {
	case server.SettlementBetVoided:
		m.addLine(WarningStyle.Render("Bet voided, no coins moved"))
	case server.SettlementProcessingError:
		m.addLine(ErrorStyle.Render("Settlement failed, no coins moved"))
	}
	m.addLine(StatusStyle.Render(fmt.Sprintf("Score: you %d - %d %s", m.yourScore, m.oppScore, m.opponent)))
}

func (m *Model) resetMatch() {
	m.state = stateIdle
	m.sessionID = ""
	m.opponent = ""
	m.synthetic = false
}

func (m *Model) addLine(line string) {
	m.lines = append(m.lines, line)
	m.refreshViewport()
}

func (m *Model) refreshViewport() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()
}

func (m *Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if !m.ready {
		return "Loading..."
	}

	status := "idle"
	switch m.state {
	case stateQueued:
		status = "queued"
	case stateInMatch:
		status = fmt.Sprintf("vs %s (%d-%d)", m.opponent, m.yourScore, m.oppScore)
	}

	return fmt.Sprintf("%s\n%s\n%s\n%s",
		m.viewport.View(),
		InfoStyle.Render(strings.Repeat("─", m.viewport.Width)),
		m.input.View(),
		StatusStyle.Render(status))
}
