package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vaultrouter/internal/access"
	"vaultrouter/internal/config"
	"vaultrouter/internal/core"
	"vaultrouter/internal/ingestion"
	"vaultrouter/internal/observability"
	"vaultrouter/internal/persistence"
	"vaultrouter/internal/projection"
	"vaultrouter/internal/query"
	"vaultrouter/internal/server"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const commandQueueSize = 4096

var allCapabilities = []access.Capability{
	access.CapAdmin,
	access.CapRelayer,
	access.CapGuardian,
	access.CapEmergencyAdmin,
	access.CapMinterCustodian,
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the router: NATS commands in, event log and projections out",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(*configPath, "vaultrouter")
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.ServiceConfig, logger zerolog.Logger) error {
	if !common.IsHexAddress(cfg.RouterIdentity) {
		return errors.New("router_identity is required")
	}
	logger.Info().Msg("vaultrouter starting")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// --- Postgres ---
	db, err := openDB(ctx, cfg.PostgresURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := persistence.NewMigrator(db, cfg.MigrationsDir, logger).Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	// --- Chain position: replay has to end at the persisted tip ---
	snapMgr := persistence.NewSnapshotManager(db)
	tipSeq, tip, err := snapMgr.ChainTip(ctx)
	if err != nil {
		return err
	}
	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("snapshot unavailable, replaying without balance check")
		snap = nil
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	// --- Idempotency: LRU warmed from the log, Postgres behind it ---
	pgDedup := persistence.NewPostgresIdempotencyChecker(db, metrics)
	dedup, err := core.NewIdempotencyChecker(cfg.IdempotencyLRUCapacity, pgDedup, metrics)
	if err != nil {
		return err
	}
	keys, err := pgDedup.RecentKeys(ctx, cfg.IdempotencyLRUCapacity)
	if err != nil {
		return fmt.Errorf("warm idempotency cache: %w", err)
	}
	dedup.Warm(keys)

	// --- Router ---
	auth, err := buildAuthorization(cfg)
	if err != nil {
		return err
	}
	persistCh := make(chan core.Output, cfg.PersistChanSize)
	projectionCh := make(chan core.Output, cfg.ProjectionChanSize)
	publishCh := make(chan core.Output, cfg.PublishChanSize)

	var minter common.Address
	if cfg.Minter != "" {
		minter = common.HexToAddress(cfg.Minter)
	}
	router, err := core.NewRouter(auth, config.NewSystemConfig(auth, config.SystemClock{}), core.RouterOptions{
		Identity:      common.HexToAddress(cfg.RouterIdentity),
		Minter:        minter,
		ShareDecimals: cfg.ShareDecimals,
		Idempotency:   dedup,
		Metrics:       metrics,
		Logger:        logger.With().Str("component", "router").Logger(),
		Persist:       persistCh,
		Projection:    projectionCh,
		Publish:       publishCh,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	// Persistence first: bootstrap below emits events into the blocking channel
	persistWorker := persistence.NewPersistenceWorker(
		persistence.NewEventLogWriter(db), persistCh,
		cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics,
		logger.With().Str("component", "persistence").Logger(),
	)
	g.Go(func() error { return persistWorker.Run(gctx) })

	projStore := projection.NewPostgresStore(db)
	projWorker := projection.NewProjectionWorker(projStore, projectionCh, metrics,
		logger.With().Str("component", "projection").Logger())
	g.Go(func() error { return projWorker.Run(gctx) })

	// --- Recovery: every journaled command, in log order ---
	replayed, err := replayJournal(gctx, snapMgr, router, chainEnd{Sequence: tipSeq, Tip: tip}, snap,
		logger.With().Str("component", "replay").Logger())
	if err != nil {
		return fmt.Errorf("recover state: %w", err)
	}
	logger.Info().Int("commands", replayed).Int64("sequence", router.Sequence()).Msg("state recovered")

	if err := bootstrap(gctx, router, cfg); err != nil {
		return err
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, logger)
	if err != nil {
		return err
	}
	defer nc.Close()
	if err := ingestion.EnsureStreams(gctx, js, logger); err != nil {
		return err
	}

	queue := make(chan ingestion.RawCommand, commandQueueSize)
	subscriber := ingestion.NewNATSSubscriber(js, queue, logger.With().Str("component", "subscriber").Logger())
	if err := subscriber.Subscribe(gctx); err != nil {
		return err
	}
	defer subscriber.Stop()

	dispatcher := ingestion.NewDispatcher(router, metrics, logger.With().Str("component", "dispatcher").Logger())
	g.Go(func() error { return dispatcher.Run(gctx, queue) })

	publisher := ingestion.NewOutboundPublisher(js, publishCh, logger.With().Str("component", "publisher").Logger())
	g.Go(func() error { return publisher.Run(gctx) })

	g.Go(func() error {
		return persistence.RunPeriodicSnapshots(gctx, router, snapMgr, cfg.SnapshotInterval, 5*time.Second,
			logger.With().Str("component", "snapshots").Logger())
	})

	// --- Servers ---
	health := observability.NewHealthChecker()
	health.AddCheck("postgres", db.PingContext)
	health.AddCheck("persistence", func(context.Context) error {
		if backlog := len(persistCh); backlog == cap(persistCh) {
			return fmt.Errorf("persist queue full at %d outputs", backlog)
		}
		return nil
	})
	health.AddCheck("nats", func(context.Context) error {
		if !nc.IsConnected() {
			return fmt.Errorf("nats %s", nc.Status())
		}
		return nil
	})
	srv := server.NewServer(cfg.GRPCAddr, cfg.HTTPAddr, server.Deps{
		Query: query.NewQueryService(query.Options{
			Projections:   projStore,
			Cursor:        projStore,
			Router:        router,
			Events:        snapMgr,
			DB:            db,
			ShareDecimals: cfg.ShareDecimals,
		}),
		Ingest: ingestion.NewAdminIngestService(queue),
		Rebuild: func(ctx context.Context) (int64, error) {
			return projection.RebuildProjections(ctx, projStore, snapMgr, 0, logger)
		},
		Health:  health,
		Metrics: metrics,
		Logger:  logger.With().Str("component", "server").Logger(),
	})
	g.Go(func() error { return srv.StartGRPC(gctx) })
	g.Go(func() error { return srv.StartHTTP(gctx) })

	srv.SetReady(true)
	logger.Info().
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Int64("sequence", router.Sequence()).
		Msg("vaultrouter ready")

	err = g.Wait()
	logger.Info().Err(err).Msg("vaultrouter stopped")
	return err
}

// buildAuthorization grants the configured operators their capabilities
func buildAuthorization(cfg *config.ServiceConfig) (*access.Registry, error) {
	auth := access.NewRegistry()
	auth.Grant(common.HexToAddress(cfg.RouterIdentity), access.CapSettlementAuthority)

	if cfg.BootstrapAdmin != "" {
		auth.Grant(common.HexToAddress(cfg.BootstrapAdmin), allCapabilities...)
	}
	for _, op := range cfg.Operators {
		caps := make([]access.Capability, 0, len(op.Capabilities))
		for _, name := range op.Capabilities {
			c, err := parseCapability(name)
			if err != nil {
				return nil, fmt.Errorf("operator %s: %w", op.Address, err)
			}
			caps = append(caps, c)
		}
		auth.Grant(common.HexToAddress(op.Address), caps...)
	}
	return auth, nil
}

func parseCapability(name string) (access.Capability, error) {
	for _, c := range append(allCapabilities, access.CapSettlementAuthority) {
		if string(c) == name {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown capability %q", name)
}

// bootstrap submits the configured topology as journaled commands: vaults
// and minter assets not registered yet, and the cooldown when it differs.
// It runs after replay, so earlier registrations are already in place.
func bootstrap(ctx context.Context, r *core.Router, cfg *config.ServiceConfig) error {
	type command struct {
		name   string
		fields map[string]any
	}
	var cmds []command

	if want := cfg.SettlementCooldown.Truncate(time.Second); r.SettlementCooldown() != want {
		cmds = append(cmds, command{ingestion.CmdSetCooldown, map[string]any{
			"seconds": int64(want / time.Second),
		}})
	}
	for _, v := range cfg.Vaults {
		if _, err := r.FeeState(common.HexToAddress(v.Address)); err == nil {
			continue
		}
		cmds = append(cmds, command{ingestion.CmdRegisterVault, map[string]any{
			"vault":           v.Address,
			"asset":           v.Asset,
			"adapter":         v.Adapter,
			"treasury":        v.Treasury,
			"management_bps":  v.ManagementFeeBps,
			"performance_bps": v.PerformanceFeeBps,
			"hurdle_bps":      v.HurdleRateBps,
			"hard":            v.HardHurdle,
		}})
	}
	for _, m := range cfg.MinterAssets {
		if _, err := r.TotalAssets(r.Minter(), common.HexToAddress(m.Asset)); err == nil {
			continue
		}
		cmds = append(cmds, command{ingestion.CmdRegisterMinterAsset, map[string]any{
			"asset":   m.Asset,
			"ktoken":  m.KToken,
			"adapter": m.Adapter,
		}})
	}

	if len(cmds) == 0 {
		return nil
	}
	if cfg.BootstrapAdmin == "" {
		return errors.New("bootstrap_admin is required to register vaults and minter assets")
	}
	for _, c := range cmds {
		c.fields["command_id"] = uuid.NewString()
		c.fields["caller"] = cfg.BootstrapAdmin
		body, err := json.Marshal(c.fields)
		if err != nil {
			return err
		}
		cmd, err := ingestion.ParseCommand(c.name, body)
		if err != nil {
			return fmt.Errorf("bootstrap %s: %w", c.name, err)
		}
		if _, err := r.Submit(ctx, cmd); err != nil {
			return fmt.Errorf("bootstrap %s: %w", c.name, err)
		}
	}
	return nil
}
