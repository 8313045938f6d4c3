package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"gridfund/config"
	"gridfund/core/events"
	"gridfund/indexer"
	"gridfund/native/projects"
	"gridfund/native/token"
	"gridfund/observability/logging"
	"gridfund/rpc"
	"gridfund/state"
	"gridfund/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	env := strings.TrimSpace(os.Getenv("GRIDFUND_ENV"))
	if env == "" {
		env = cfg.LogEnv
	}
	logger := logging.Setup(logging.Options{
		Service: "gridfundd",
		Env:     env,
		File:    cfg.LogFile,
	})

	db, err := openDatabase(cfg)
	if err != nil {
		logger.Error("open storage", "backend", cfg.StorageBackend, "err", err)
		os.Exit(1)
	}
	defer db.Close()

	bus := events.NewBus()
	defer bus.Close()

	ledger := token.NewLedger(db)
	engine := projects.NewEngine()
	engine.SetState(state.NewStore(db))
	engine.SetToken(ledger)
	engine.SetEmitter(bus)

	owner, err := resolveOwner(cfg.OwnerAddress)
	if err != nil {
		logger.Error("resolve owner address", "err", err)
		os.Exit(1)
	}
	engine.SetOwner(owner)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if dsn := strings.TrimSpace(cfg.IndexerDSN); dsn != "" {
		ix, err := indexer.Open(dsn, logger)
		if err != nil {
			logger.Error("open indexer", "err", err)
			os.Exit(1)
		}
		go ix.Run(ctx, bus)
		logger.Info("event indexer running")
	}

	server := rpc.NewServer(engine, ledger, bus)
	logger.Info("starting rpc server",
		"addr", cfg.RPCAddress,
		"network", cfg.NetworkName,
		"backend", cfg.StorageBackend,
	)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.RPCAddress)
	}()

	select {
	case err := <-errCh:
		logger.Error("rpc server stopped", "err", err)
		os.Exit(1)
	case <-ctx.Done():
		logger.Info("shutting down")
	}
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	switch cfg.StorageBackend {
	case config.BackendMemory:
		return storage.NewMemDB(), nil
	case config.BackendBolt:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, err
		}
		return storage.NewBoltDB(filepath.Join(cfg.DataDir, "state.db"))
	default:
		return storage.NewLevelDB(filepath.Join(cfg.DataDir, "leveldb"))
	}
}

func resolveOwner(encoded string) ([20]byte, error) {
	var owner [20]byte
	trimmed := strings.TrimSpace(encoded)
	if trimmed == "" {
		// No owner configured: admin management stays disabled until one is set.
		return owner, nil
	}
	if !common.IsHexAddress(trimmed) {
		return owner, fmt.Errorf("invalid owner address %q", trimmed)
	}
	return common.HexToAddress(trimmed), nil
}
