package server

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// ServerConfig represents the complete server configuration
type ServerConfig struct {
	Server ServerSettings `hcl:"server,block"`
	Game   GameSettings   `hcl:"game,block"`
	Store  StoreSettings  `hcl:"store,block"`
}

// ServerSettings contains server-level configuration
type ServerSettings struct {
	Address  string `hcl:"address,optional"`
	Port     int    `hcl:"port,optional"`
	LogLevel string `hcl:"log_level,optional"`
}

// GameSettings holds the economic constants and timing windows the
// settlement engine and matchmaking depend on. Coin amounts are float64
// because the affiliate bonus share is fractional.
type GameSettings struct {
	BetAmount      float64 `hcl:"bet_amount,optional"`
	PlayerFee      float64 `hcl:"player_fee,optional"`
	AffiliateBonus float64 `hcl:"affiliate_bonus,optional"`
	StartingCoins  float64 `hcl:"starting_coins,optional"`
	TurnTimeoutMs  int     `hcl:"turn_timeout_ms,optional"`
	BotWaitMs      int     `hcl:"bot_wait_ms,optional"`
	BotThinkMs     int     `hcl:"bot_think_ms,optional"`
}

// StoreSettings selects the session store and ledger backends. Empty
// values fall back to the in-memory implementations (dev mode).
type StoreSettings struct {
	RedisAddr string `hcl:"redis_addr,optional"`
	MongoURI  string `hcl:"mongo_uri,optional"`
	MongoDB   string `hcl:"mongo_db,optional"`
}

// TurnTimeout is the window the waiting player has once the opponent chose.
func (g GameSettings) TurnTimeout() time.Duration {
	return time.Duration(g.TurnTimeoutMs) * time.Millisecond
}

// BotWait is how long a lone queued player waits before a bot match.
func (g GameSettings) BotWait() time.Duration {
	return time.Duration(g.BotWaitMs) * time.Millisecond
}

// BotThink is the artificial delay before a synthetic opponent's round
// resolves.
func (g GameSettings) BotThink() time.Duration {
	return time.Duration(g.BotThinkMs) * time.Millisecond
}

// TotalFee is the house take per decisive round before bonus splits.
func (g GameSettings) TotalFee() float64 {
	return g.PlayerFee * 2
}

// WinnerPayout is the amount credited to the round winner.
func (g GameSettings) WinnerPayout() float64 {
	return g.BetAmount - g.TotalFee()
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Server: ServerSettings{
			Address:  "localhost",
			Port:     8080,
			LogLevel: "info",
		},
		Game: GameSettings{
			BetAmount:      10,
			PlayerFee:      1,
			AffiliateBonus: 0.5,
			StartingCoins:  0,
			TurnTimeoutMs:  5000,
			BotWaitMs:      10000,
			BotThinkMs:     500,
		},
		Store: StoreSettings{
			MongoDB: "rpsarena",
		},
	}
}

// LoadServerConfig loads server configuration from an HCL file, falling
// back to defaults when the file does not exist.
func LoadServerConfig(filename string) (*ServerConfig, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return DefaultServerConfig(), nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	var config ServerConfig
	diags = gohcl.DecodeBody(file.Body, nil, &config)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	applyDefaults(&config)
	return &config, nil
}

func applyDefaults(c *ServerConfig) {
	def := DefaultServerConfig()
	if c.Server.Address == "" {
		c.Server.Address = def.Server.Address
	}
	if c.Server.Port == 0 {
		c.Server.Port = def.Server.Port
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = def.Server.LogLevel
	}
	if c.Game.BetAmount == 0 {
		c.Game.BetAmount = def.Game.BetAmount
	}
	if c.Game.PlayerFee == 0 {
		c.Game.PlayerFee = def.Game.PlayerFee
	}
	if c.Game.AffiliateBonus == 0 {
		c.Game.AffiliateBonus = def.Game.AffiliateBonus
	}
	if c.Game.TurnTimeoutMs == 0 {
		c.Game.TurnTimeoutMs = def.Game.TurnTimeoutMs
	}
	if c.Game.BotWaitMs == 0 {
		c.Game.BotWaitMs = def.Game.BotWaitMs
	}
	if c.Game.BotThinkMs == 0 {
		c.Game.BotThinkMs = def.Game.BotThinkMs
	}
	if c.Store.MongoDB == "" {
		c.Store.MongoDB = def.Store.MongoDB
	}
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Game.BetAmount <= 0 {
		return fmt.Errorf("bet_amount must be positive")
	}
	if c.Game.PlayerFee < 0 {
		return fmt.Errorf("player_fee must be non-negative")
	}
	if c.Game.TotalFee() > c.Game.BetAmount {
		return fmt.Errorf("total fees (%v) exceed bet_amount (%v)", c.Game.TotalFee(), c.Game.BetAmount)
	}
	if c.Game.AffiliateBonus < 0 {
		return fmt.Errorf("affiliate_bonus must be non-negative")
	}
	if c.Game.TurnTimeoutMs <= 0 || c.Game.BotWaitMs <= 0 {
		return fmt.Errorf("timeout windows must be positive")
	}
	return nil
}

// GetServerAddress returns the full server address
func (c *ServerConfig) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}
