package server

// MessageType represents a WebSocket message type with type safety
type MessageType string

// WebSocket message type constants
// These are used for client-server communication protocol
const (
	// Client to server messages
	MessageTypeStart             MessageType = "start"
	MessageTypeCancelMatchmaking MessageType = "cancel_matchmaking"
	MessageTypeMakeChoice        MessageType = "make_choice"
	MessageTypeEndGame           MessageType = "end_game"

	// Server to client messages
	MessageTypeWaitingForOpponent  MessageType = "waiting_for_opponent"
	MessageTypeMatchFound          MessageType = "match_found"
	MessageTypeChoiceRegistered    MessageType = "choice_registered"
	MessageTypeOpponentMadeChoice  MessageType = "opponent_made_choice"
	MessageTypeRoundResult         MessageType = "round_result"
	MessageTypeNextRoundReady      MessageType = "next_round_ready"
	MessageTypeGameEnded           MessageType = "game_ended"
	MessageTypeGameEndedNoFunds    MessageType = "game_ended_insufficient_funds"
	MessageTypeOpponentDisconnect  MessageType = "opponent_disconnected"
	MessageTypeMatchmakingCancel   MessageType = "matchmaking_cancelled"
	MessageTypeAlreadyInQueue      MessageType = "already_in_queue"
	MessageTypeAlreadyInSession    MessageType = "already_in_session"
	MessageTypeInsufficientFunds   MessageType = "insufficient_funds"
	MessageTypeCannotCancelInGame  MessageType = "cannot_cancel_in_game"
	MessageTypeNotInQueue          MessageType = "not_in_queue"
	MessageTypeChoiceAlreadyMade   MessageType = "choice_already_made"
	MessageTypeGameAlreadyEnded    MessageType = "game_already_ended"
	MessageTypeMatchmakingError    MessageType = "matchmaking_error"
	MessageTypeError               MessageType = "error"
)

// String returns the string representation of the message type
func (mt MessageType) String() string {
	return string(mt)
}
