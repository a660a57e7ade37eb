package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveOutcome(t *testing.T) {
	cases := []struct {
		a, b Choice
		want Outcome
	}{
		{ChoiceRock, ChoiceScissors, OutcomeWin},
		{ChoicePaper, ChoiceRock, OutcomeWin},
		{ChoiceScissors, ChoicePaper, OutcomeWin},
		{ChoiceRock, ChoicePaper, OutcomeLoss},
		{ChoiceRock, ChoiceRock, OutcomeTie},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ResolveOutcome(tc.a, tc.b), "%s vs %s", tc.a, tc.b)
	}
}

func TestResolveOutcomeSymmetry(t *testing.T) {
	// Every decisive pairing must invert when the sides swap.
	for _, a := range Choices {
		for _, b := range Choices {
			got := ResolveOutcome(a, b)
			mirror := ResolveOutcome(b, a)
			switch got {
			case OutcomeTie:
				assert.Equal(t, OutcomeTie, mirror)
				assert.Equal(t, a, b)
			case OutcomeWin:
				assert.Equal(t, OutcomeLoss, mirror)
			case OutcomeLoss:
				assert.Equal(t, OutcomeWin, mirror)
			}
		}
	}
}

func TestParseChoice(t *testing.T) {
	for _, c := range Choices {
		got, ok := ParseChoice(string(c))
		assert.True(t, ok)
		assert.Equal(t, c, got)
	}

	for _, bad := range []string{"", "lizard", "Rock", "ROCK", "rock "} {
		_, ok := ParseChoice(bad)
		assert.False(t, ok, "%q should not parse", bad)
	}
}
