package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/database/manager"
	"github.com/luxfi/log"
	"github.com/pkg/errors"

	"github.com/luxfi/roundvault/pkg/api"
	"github.com/luxfi/roundvault/pkg/asset"
	"github.com/luxfi/roundvault/pkg/config"
	"github.com/luxfi/roundvault/pkg/events"
	"github.com/luxfi/roundvault/pkg/keeper"
	"github.com/luxfi/roundvault/pkg/metrics"
	"github.com/luxfi/roundvault/pkg/registry"
	"github.com/luxfi/roundvault/pkg/store"
	"github.com/luxfi/roundvault/pkg/strategy"
	"github.com/luxfi/roundvault/pkg/stream"
	"github.com/luxfi/roundvault/pkg/vault"
)

// Node is one vaultd process: every configured vault behind a single host.
type Node struct {
	config *config.Config
	logger log.Logger

	db       database.Database
	registry *registry.Registry
	store    *store.Store
	host     *api.Host

	metrics *metrics.Collector
	hub     *stream.Hub
	nats    *events.NATSPublisher
	keeper  *keeper.Keeper

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewNode(cfg *config.Config, logger log.Logger) (*Node, error) {
	db, err := openDatabase(cfg, logger)
	if err != nil {
		return nil, err
	}

	n := &Node{
		config:   cfg,
		logger:   logger,
		db:       db,
		registry: registry.New(db, logger.New("module", "registry")),
		store:    store.New(db, logger.New("module", "store")),
	}
	if err := cfg.Apply(n.registry); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "apply parameters")
	}

	sinks := events.Fanout{}
	if cfg.Metrics.Enabled {
		n.metrics = metrics.New(cfg.Metrics.Namespace)
		sinks = append(sinks, n.metrics)
	}
	if cfg.Stream.Enabled {
		n.hub = stream.NewHub(stream.DefaultConfig(), logger.New("module", "stream"))
		sinks = append(sinks, n.hub)
	}
	if cfg.NATS.URL != "" {
		n.nats, err = events.DialNATS(cfg.NATS.URL, cfg.NATS.Prefix, logger.New("module", "nats"))
		if err != nil {
			db.Close()
			return nil, err
		}
		sinks = append(sinks, n.nats)
	}

	n.host = api.NewHost(n.registry, logger.New("module", "host"))
	tokens := make(map[string]*asset.Ledger, len(cfg.Tokens))
	for _, id := range cfg.Tokens {
		tokens[id] = asset.NewLedger(id)
		n.host.AddToken(tokens[id])
	}
	for _, vc := range cfg.Vaults {
		addr, err := vc.VaultAddress()
		if err != nil {
			n.close()
			return nil, errors.Wrapf(err, "vault %s", vc.Label)
		}
		token := tokens[vc.Token]
		vaultLogger := logger.New("module", "vault", "vault", vc.Label)
		reserve := strategy.NewReserve(token, addr, asset.DeriveAddress(vc.Label+"-reserve"), vaultLogger)
		e, err := vault.New(vault.Options{
			Address:  addr,
			Token:    token,
			Strategy: reserve,
			Config:   n.registry,
			Sink:     sinks,
			Logger:   vaultLogger,
		})
		if err != nil {
			n.close()
			return nil, errors.Wrapf(err, "vault %s", vc.Label)
		}
		n.host.AddVault(e, reserve)
	}

	n.store.TrackCaps(n.registry)
	if _, err := n.store.Recover(n.host.Ledgers(), n.host.Engines()); err != nil {
		n.close()
		return nil, errors.Wrap(err, "recover state")
	}
	n.host.SetCheckpoint(n.store.Checkpoint)
	if n.metrics != nil {
		n.host.SetObserver(n.metrics)
		for _, e := range n.host.Engines() {
			n.metrics.Observe(e)
		}
	}

	n.keeper, err = keeper.New(n.host, keeper.Config{
		Schedule:      cfg.Keeper.Schedule,
		StartSchedule: cfg.Keeper.StartSchedule,
		BatchSize:     cfg.Keeper.BatchSize,
		Timeout:       cfg.Keeper.Timeout,
	}, logger.New("module", "keeper"))
	if err != nil {
		n.close()
		return nil, err
	}
	return n, nil
}

// openDatabase prefers BadgerDB and falls back to memory when it cannot be
// opened.
func openDatabase(cfg *config.Config, logger log.Logger) (database.Database, error) {
	dataPath := cfg.DataDir
	if !filepath.IsAbs(dataPath) {
		dataPath = filepath.Join(os.Getenv("HOME"), dataPath)
	}
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, errors.Wrap(err, "create data directory")
	}
	dbManager := manager.NewManager(dataPath, nil)

	if cfg.Database.Type == config.DatabaseBadger {
		dbConfig := manager.DefaultBadgerDBConfig("badgerdb")
		dbConfig.Namespace = cfg.Database.Namespace
		db, err := dbManager.New(dbConfig)
		if err == nil {
			logger.Info("BadgerDB opened", "path", filepath.Join(dataPath, "badgerdb"))
			return db, nil
		}
		logger.Warn("Failed to open BadgerDB, state will not survive restarts", "error", err)
	}

	db, err := dbManager.New(manager.DefaultMemoryConfig())
	if err != nil {
		return nil, errors.Wrap(err, "create database")
	}
	logger.Info("Using in-memory database")
	return db, nil
}

func (n *Node) Start() error {
	n.ctx, n.cancel = context.WithCancel(context.Background())

	extra := map[string]http.Handler{}
	if n.metrics != nil {
		extra["/metrics"] = n.metrics.Handler()
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.metrics.CollectSystemMetrics(n.ctx, n.config.Metrics.Interval)
		}()
	}
	if n.hub != nil {
		extra["/ws"] = n.hub.Handler()
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.hub.Run(n.ctx)
		}()
	}

	if n.config.API.Admin {
		n.logger.Warn("admin RPC enabled, any client can act as any account", "addr", n.config.API.Listen)
	}
	rpc := api.NewJSONRPCServer(n.host, n.config.API.Admin, n.logger.New("module", "api"))
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := api.StartJSONRPCServer(n.ctx, n.config.API.Listen, rpc, extra); err != nil {
			n.logger.Error("JSON-RPC server failed", "error", err)
			n.cancel()
		}
	}()

	if n.config.Keeper.Scheduled() {
		n.keeper.Start()
	}

	n.logger.Info("vaultd started",
		"vaults", len(n.host.Vaults()),
		"api", n.config.API.Listen,
		"metrics", n.metrics != nil,
		"stream", n.hub != nil,
		"nats", n.nats != nil,
	)
	return nil
}

// Done is closed when the node stops on its own.
func (n *Node) Done() <-chan struct{} { return n.ctx.Done() }

func (n *Node) Shutdown() {
	n.logger.Info("Shutting down vaultd")
	if n.config.Keeper.Scheduled() {
		n.keeper.Stop()
	}
	n.cancel()
	n.wg.Wait()

	if err := n.store.Checkpoint(n.host.Ledgers(), n.host.Engines()); err != nil {
		n.logger.Error("Final checkpoint failed", "error", err)
	}
	n.close()
}

func (n *Node) close() {
	if n.nats != nil {
		n.nats.Close()
	}
	if err := n.db.Close(); err != nil {
		n.logger.Error("Failed to close database", "error", err)
	}
}
