package server

// Choice is one of the three playable moves. The empty string marks an
// unanswered slot in a session's choice map.
type Choice string

const (
	ChoiceRock     Choice = "rock"
	ChoicePaper    Choice = "paper"
	ChoiceScissors Choice = "scissors"
)

// Choices lists the playable moves in a stable order.
var Choices = []Choice{ChoiceRock, ChoicePaper, ChoiceScissors}

// ParseChoice validates a client-supplied move.
func ParseChoice(s string) (Choice, bool) {
	switch Choice(s) {
	case ChoiceRock, ChoicePaper, ChoiceScissors:
		return Choice(s), true
	}
	return "", false
}

// Outcome is the round result from the first mover's perspective.
type Outcome int

const (
	OutcomeTie Outcome = iota
	OutcomeWin
	OutcomeLoss
)

// ResolveOutcome applies the closed rock > scissors > paper > rock relation.
func ResolveOutcome(a, b Choice) Outcome {
	if a == b {
		return OutcomeTie
	}
	if (a == ChoiceRock && b == ChoiceScissors) ||
		(a == ChoicePaper && b == ChoiceRock) ||
		(a == ChoiceScissors && b == ChoicePaper) {
		return OutcomeWin
	}
	return OutcomeLoss
}
