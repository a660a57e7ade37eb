package server

import (
	"encoding/json"
	"time"
)

// Message represents the base WebSocket message structure
type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(messageType MessageType, data interface{}) (*Message, error) {
	var dataBytes []byte
	if data != nil {
		var err error
		dataBytes, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}

	return &Message{
		Type:      messageType,
		Data:      dataBytes,
		Timestamp: time.Now(),
	}, nil
}

// Client → Server Messages

type StartData struct {
	DisplayName      string `json:"displayName"`
	ExternalUserID   string `json:"externalUserId"`
	AffiliateOwnerID string `json:"affiliateOwnerId,omitempty"`
}

type MakeChoiceData struct {
	SessionID string `json:"sessionId"`
	Choice    string `json:"choice"`
}

type EndGameData struct {
	SessionID string `json:"sessionId"`
}

// Server → Client Messages

type MatchFoundData struct {
	SessionID           string `json:"sessionId"`
	OpponentName        string `json:"opponentName"`
	YourName            string `json:"yourName"`
	IsSyntheticOpponent bool   `json:"isSyntheticOpponent"`
}

type OpponentMadeChoiceData struct {
	DeadlineMs int64 `json:"deadlineMs"`
}

// ScorePair carries per-side scores from the recipient's perspective.
type ScorePair struct {
	You      int `json:"you"`
	Opponent int `json:"opponent"`
}

// RoundResultData reports a resolved round to one participant. Result and
// Settlement are semantic codes; rendering them for humans is the front
// end's job.
type RoundResultData struct {
	YourChoice     string    `json:"yourChoice,omitempty"`
	OpponentChoice string    `json:"opponentChoice,omitempty"`
	Result         string    `json:"result"`
	Settlement     string    `json:"settlement"`
	Reason         string    `json:"reason,omitempty"`
	Scores         ScorePair `json:"scores"`
}

type GameEndedData struct {
	Initiator string `json:"initiator"`
}

type InsufficientFundsData struct {
	Balance float64 `json:"balance"`
}

// NoticeData carries a semantic reason code for named notice/error events.
type NoticeData struct {
	Reason string `json:"reason,omitempty"`
}

type ErrorData struct {
	Code string `json:"code"`
}

// Round result codes.
const (
	ResultWin  = "win"
	ResultLoss = "loss"
	ResultTie  = "tie"
)

// Settlement status codes for round_result.
const (
	SettlementSettled         = "settled"
	SettlementSkipped         = "skipped"
	SettlementBetVoided       = "bet_voided"
	SettlementProcessingError = "processing_error"
)

// Reason codes attached to forced resolutions.
const (
	ReasonTimedOut        = "timed_out"
	ReasonOpponentTimeout = "opponent_timeout"
	ReasonForfeit         = "forfeit"
	ReasonOpponentForfeit = "opponent_forfeit"
)
