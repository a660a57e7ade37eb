package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"golang.org/x/sync/errgroup"

	"github.com/rpsarena/server/internal/ledger"
	"github.com/rpsarena/server/internal/server"
	"github.com/rpsarena/server/internal/store"
)

var CLI struct {
	Config   string `short:"c" long:"config" default:"rps-server.hcl" help:"Path to HCL configuration file"`
	Addr     string `short:"a" long:"addr" help:"Server address to bind to (overrides config)"`
	LogLevel string `short:"l" long:"log-level" help:"Log level (overrides config)"`
	Dev      bool   `short:"d" long:"dev" help:"Run with in-memory store and ledger, ignoring store config"`
}

func main() {
	ctx := kong.Parse(&CLI)

	// Load configuration
	cfg, err := server.LoadServerConfig(CLI.Config)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		ctx.Exit(1)
	}

	// Apply command line overrides
	if CLI.Addr != "" {
		cfg.Server.Address = CLI.Addr
	}
	if CLI.LogLevel != "" {
		cfg.Server.LogLevel = CLI.LogLevel
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		ctx.Exit(1)
	}

	// Setup logging
	logger := log.New(os.Stderr)
	switch cfg.Server.LogLevel {
	case "debug":
		logger.SetLevel(log.DebugLevel)
	case "info":
		logger.SetLevel(log.InfoLevel)
	case "warn":
		logger.SetLevel(log.WarnLevel)
	case "error":
		logger.SetLevel(log.ErrorLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}

	sessions, accounts, admin, revshare, cleanup, err := buildBackends(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize backends", "error", err)
		ctx.Exit(1)
	}
	defer cleanup()

	logger.Info("Starting RPS Arena server",
		"addr", cfg.GetServerAddress(),
		"bet", cfg.Game.BetAmount,
		"turnTimeout", cfg.Game.TurnTimeout(),
		"botWait", cfg.Game.BotWait())

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	clock := quartz.NewReal()

	var wsServer *server.Server
	gateway := server.NewGateway(logger, cfg.Game, clock, rng,
		server.SenderFunc(func(connID string, msg *server.Message) {
			wsServer.Send(connID, msg)
		}),
		sessions, accounts, admin, revshare)
	wsServer = server.NewServer(cfg.GetServerAddress(), logger, gateway)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		gateway.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		return wsServer.Start()
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("Shutting down server...")
		return wsServer.Stop()
	})

	if err := group.Wait(); err != nil {
		logger.Error("Server failed", "error", err)
		ctx.Exit(1)
	}
}

// buildBackends selects the session store and account backends from the
// store config. Dev mode, or an empty store block, runs fully in memory.
func buildBackends(cfg *server.ServerConfig, logger *log.Logger) (
	store.SessionStore, ledger.Ledger, ledger.AdminSink, ledger.RevshareDirectory, func(), error,
) {
	if CLI.Dev || (cfg.Store.RedisAddr == "" && cfg.Store.MongoURI == "") {
		logger.Info("Using in-memory store and ledger")
		return store.NewMemoryStore(), ledger.NewMemoryLedger(),
			ledger.NewMemoryAdminSink(), ledger.NewMemoryRevshare(), func() {}, nil
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var sessions store.SessionStore
	var closers []func()
	if cfg.Store.RedisAddr != "" {
		redisStore, err := store.NewRedisStore(connectCtx, cfg.Store.RedisAddr)
		if err != nil {
			return nil, nil, nil, nil, nil, err
		}
		logger.Info("Connected to Redis", "addr", cfg.Store.RedisAddr)
		sessions = redisStore
		closers = append(closers, func() { _ = redisStore.Close() })
	} else {
		sessions = store.NewMemoryStore()
	}

	var accounts ledger.Ledger
	var admin ledger.AdminSink
	var revshare ledger.RevshareDirectory
	if cfg.Store.MongoURI != "" {
		mongoLedger, client, err := ledger.NewMongoLedger(connectCtx, cfg.Store.MongoURI, cfg.Store.MongoDB)
		if err != nil {
			for _, fn := range closers {
				fn()
			}
			return nil, nil, nil, nil, nil, err
		}
		logger.Info("Connected to MongoDB", "db", cfg.Store.MongoDB)
		accounts = mongoLedger
		admin = ledger.NewMongoAdminSink(client, cfg.Store.MongoDB)
		revshare = ledger.NewMongoRevshare(client, cfg.Store.MongoDB)
		closers = append(closers, func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(disconnectCtx)
		})
	} else {
		accounts = ledger.NewMemoryLedger()
		admin = ledger.NewMemoryAdminSink()
		revshare = ledger.NewMemoryRevshare()
	}

	cleanup := func() {
		for _, fn := range closers {
			fn()
		}
	}
	return sessions, accounts, admin, revshare, cleanup, nil
}
