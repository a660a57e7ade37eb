package server

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
)

const botIDPrefix = "bot_"

// Display names cycled through for synthetic opponents.
var botNames = []string{
	"RoboPlayer",
	"AI Challenger",
	"Silicon Fists",
	"LogicLord",
	"ByteMasher",
	"The Strategist Bot",
	"Pixel Pummeler",
}

// IsBotConn reports whether a connection id belongs to a synthetic
// opponent. Bot ids never map to a live socket.
func IsBotConn(connID string) bool {
	return strings.HasPrefix(connID, botIDPrefix)
}

// newBotPlayer fabricates a synthetic opponent with a unique id and a
// roster name.
func newBotPlayer(rng *rand.Rand, now time.Time) Player {
	return Player{
		ConnID:      fmt.Sprintf("%s%d_%s", botIDPrefix, now.UnixMilli(), randSuffix(rng, 5)),
		DisplayName: botNames[rng.Intn(len(botNames))],
	}
}

// randomBotChoice picks the bot's throw uniformly.
func randomBotChoice(rng *rand.Rand) Choice {
	return Choices[rng.Intn(len(Choices))]
}
