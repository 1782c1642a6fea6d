package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"SpotLedger/internal/config"
	"SpotLedger/internal/core"
	"SpotLedger/internal/ingestion"
	"SpotLedger/internal/observability"
	"SpotLedger/internal/persistence"
	"SpotLedger/internal/projection"
	"SpotLedger/internal/query"
	"SpotLedger/internal/server"
)

func main() {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:           "spotledger",
		Short:         "Spot market risk state engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml); env SPOT_* overrides it")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(signalCtx context.Context, cfg *config.Config) error {
	logger := observability.NewLoggerWithLevel("spotledger", observability.ParseLogLevel(cfg.Logging.Level))
	logger.Info().Msg("SpotLedger starting")
	startTime := time.Now()

	if os.Getenv("GOGC") == "" {
		logger.Warn().Msg("GOGC not set, recommend GOGC=400 for production")
	}

	ctx, cancel := context.WithCancel(signalCtx)
	defer cancel()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	logger.Info().Msg("Postgres connected")

	migrator := persistence.NewMigrator(db, os.DirFS(cfg.Postgres.MigrationsDir), logger)
	if err := migrator.Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()
	marketStore := persistence.NewMarketStore(db)
	healthChecker.AddProbe("postgres", marketStore.Ping)

	// --- Recovery: verified snapshot + log replay ---
	snapMgr := persistence.NewSnapshotManager(db)
	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if snap != nil {
		logger.Info().Int64("sequence", snap.Sequence).Msg("loaded snapshot")
	} else {
		logger.Info().Msg("no snapshot found, cold start")
	}

	historyStore := projection.NewHistoryStore(db)
	historyChan := make(chan core.CoreOutput, cfg.Engine.PublishChanSize)
	historyWorker := projection.NewHistoryWorker(historyStore, historyChan, metrics, logger.With().Str("component", "history").Logger())

	watermark, err := historyStore.Watermark(ctx)
	if err != nil {
		return fmt.Errorf("load history watermark: %w", err)
	}
	replayFrom := snap
	if snap != nil && watermark < snap.Sequence {
		// History is missing rows the snapshot already covers.
		logger.Info().Int64("watermark", watermark).Msg("history projection behind snapshot, replaying full log")
		replayFrom = nil
	}
	catchUp := func(o core.CoreOutput) {
		if o.Envelope.Sequence > watermark {
			historyWorker.Apply(ctx, o)
		}
	}

	recovered, replayed, err := replayLog(ctx, snapMgr, replayFrom, cfg.Engine.IdempotencyLRUCapacity, catchUp, metrics, logger.With().Str("phase", "replay").Logger())
	if err != nil {
		return fmt.Errorf("event replay: %w", err)
	}
	logger.Info().Int64("replayed", replayed).Int64("sequence", recovered.Sequence).Msg("event log replayed")

	// --- Channels ---
	// Persist blocks for backpressure; publish drops when full.
	persistChan := make(chan core.CoreOutput, cfg.Persistence.ChanSize)
	publishChan := make(chan core.CoreOutput, cfg.Engine.PublishChanSize)

	engine := core.NewMarketEngine(persistChan, publishChan, core.Options{
		LRUCapacity: cfg.Engine.IdempotencyLRUCapacity,
		DBChecker:   persistence.NewPostgresIdempotencyChecker(db),
		Metrics:     metrics,
		Logger:      logger.With().Str("component", "engine").Logger(),
	})
	if err := engine.Restore(recovered); err != nil {
		return fmt.Errorf("restore engine: %w", err)
	}

	if stored, err := marketStore.LoadMarkets(ctx); err != nil {
		logger.Warn().Err(err).Msg("load market projection failed")
	} else if len(stored) != len(recovered.Markets) {
		logger.Warn().Int("projection", len(stored)).Int("engine", len(recovered.Markets)).Msg("market projection out of step with event log")
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, logger)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()
	healthChecker.AddProbe("nats", func(context.Context) error {
		if !nc.IsConnected() {
			return errors.New("nats disconnected")
		}
		return nil
	})

	if err := ingestion.EnsureStreams(ctx, js, logger); err != nil {
		return fmt.Errorf("ensure NATS streams: %w", err)
	}
	if err := ingestion.EnsureOutboundStream(ctx, js, logger); err != nil {
		return fmt.Errorf("ensure outbound stream: %w", err)
	}

	rawEventChan := make(chan ingestion.RawEvent, cfg.NATS.RawQueueSize)
	subscriber := ingestion.NewNATSSubscriber(js, rawEventChan, logger)
	if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	// --- Servers ---
	handler, err := server.NewHandler(server.Deps{
		Risk:      query.NewRiskService(engine),
		Engine:    engine,
		Integrity: persistence.NewIntegrityChecker(db),
		History:   historyStore,
		Health:    healthChecker,
		Metrics:   metrics,
		Logger:    logger.With().Str("component", "http").Logger(),
		StartTime: startTime,
	})
	if err != nil {
		return fmt.Errorf("build http handler: %w", err)
	}
	httpServer := server.NewHTTPServer(cfg.Server.HTTPAddr, handler, logger)
	grpcServer := server.NewGRPCServer(cfg.Server.GRPCAddr, logger)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := server.NewHTTPServer(cfg.Server.MetricsAddr, metricsMux, logger)

	// --- Goroutines ---
	errChan := make(chan error, 8)
	persistDone := make(chan struct{})

	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.Persistence.BatchSize, cfg.Persistence.FlushTimeout, metrics, logger.With().Str("component", "persistence").Logger())
	go func() {
		defer close(persistDone)
		if err := persistWorker.Run(context.Background()); err != nil {
			errChan <- fmt.Errorf("persistence worker: %w", err)
		}
	}()

	// Engine publish output fans out to the NATS publisher and the history
	// projection; both drop when full.
	outboundChan := make(chan core.CoreOutput, cfg.Engine.PublishChanSize)
	go fanOut(publishChan, outboundChan, historyChan)

	historyDone := make(chan struct{})
	go func() {
		defer close(historyDone)
		_ = historyWorker.Run(context.Background())
	}()

	publisher := ingestion.NewOutboundPublisher(js, outboundChan, metrics, logger.With().Str("component", "publisher").Logger())
	go func() {
		if err := publisher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("publisher: %w", err)
		}
	}()

	router := ingestion.NewRouter(ingestion.DefaultSubjects(), engine, cfg.Engine.EventQueueSize, metrics, logger.With().Str("component", "router").Logger())
	routerDone := make(chan struct{})
	go func() {
		defer close(routerDone)
		router.Run(ctx, rawEventChan)
	}()

	for name, start := range map[string]func(context.Context) error{
		"grpc":    grpcServer.Start,
		"http":    httpServer.Start,
		"metrics": metricsServer.Start,
	} {
		name, start := name, start
		go func() {
			if err := start(ctx); err != nil {
				errChan <- fmt.Errorf("%s server: %w", name, err)
			}
		}()
	}

	go runPeriodicSnapshots(ctx, engine, snapMgr, cfg.Persistence.SnapshotInterval, cfg.Persistence.SnapshotCheck, metrics, logger)
	go reportChannels(ctx, metrics, map[string]chan core.CoreOutput{
		"persist": persistChan,
		"publish": outboundChan,
		"history": historyChan,
	}, rawEventChan)

	healthChecker.SetReady(true)
	grpcServer.SetServing(true)
	logger.Info().
		Int64("next_sequence", engine.GetSequence()).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Msg("SpotLedger ready")

	select {
	case <-signalCtx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errChan:
		logger.Error().Err(err).Msg("component failed, shutting down")
	}

	// --- Graceful shutdown: stop intake, drain the engine, flush, snapshot ---
	healthChecker.SetReady(false)
	grpcServer.SetServing(false)
	subscriber.Stop()
	cancel()
	<-routerDone

	close(persistChan)
	close(publishChan)
	<-persistDone
	<-historyDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if seq, err := takeSnapshot(shutdownCtx, engine, snapMgr, metrics); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	} else {
		logger.Info().Int64("sequence", seq).Msg("final snapshot saved")
	}

	logger.Info().Msg("SpotLedger shutdown complete")
	return nil
}

func reportChannels(ctx context.Context, metrics *observability.Metrics, outputs map[string]chan core.CoreOutput, raw chan ingestion.RawEvent) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, ch := range outputs {
				metrics.SetChannelMetrics(name, len(ch), cap(ch))
			}
			metrics.SetChannelMetrics("raw_inbound", len(raw), cap(raw))
		}
	}
}
