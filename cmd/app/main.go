package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"telegram-image-generation/internal/config"
	"telegram-image-generation/internal/domain/ports/adapter"
	"telegram-image-generation/internal/infra/adapters/generator"
	"telegram-image-generation/internal/infra/adapters/telegram"
	"telegram-image-generation/internal/infra/db/postgres"
	"telegram-image-generation/internal/infra/logging"
	red "telegram-image-generation/internal/infra/redis"
	"telegram-image-generation/internal/infra/sched"
	"telegram-image-generation/internal/infra/scheduler"
	"telegram-image-generation/internal/infra/web"
	"telegram-image-generation/internal/infra/worker"
	"telegram-image-generation/internal/usecase"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	dev := flag.Bool("dev", false, "dev mode: console logs, noop bot")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath, *dev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("service exited")
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	// Stores.
	pool, err := postgres.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.PoolSize)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	redisCli, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer redisCli.Close()

	tm := postgres.NewTxManager(pool)
	userRepo := postgres.NewPostgresUserRepo(pool)
	ledgerRepo := postgres.NewPostgresLedgerRepo(pool)
	requestRepo := postgres.NewPostgresGenerationRepo(pool)
	referenceRepo := postgres.NewPostgresReferenceRepo(pool)
	resultRepo := postgres.NewPostgresResultRepo(pool)
	jobRepo := postgres.NewPostgresJobRepo(pool)
	trialRepo := postgres.NewPostgresTrialRepo(pool)
	broadcastRepo := postgres.NewPostgresBroadcastRepo(pool)
	catalogRepo := red.NewCachedCatalogRepo(
		postgres.NewPostgresCatalogRepo(pool),
		red.NewCatalogCache(redisCli, cfg.Redis.TTL),
		*logger,
	)

	// Adapters.
	var bot adapter.TelegramBotAdapter
	if cfg.Runtime.Dev {
		bot = telegram.NewNoopBot()
	} else {
		bot, err = telegram.NewBot(&cfg.Bot, *logger)
		if err != nil {
			return fmt.Errorf("telegram bot: %w", err)
		}
	}
	providerClient, err := generator.NewClient(&cfg.Provider, *logger)
	if err != nil {
		return fmt.Errorf("provider client: %w", err)
	}
	dispatch := generator.DefaultRoutes(providerClient)

	// Background machinery.
	workerPool := worker.NewPool(cfg.Generation.Workers, logger)
	workerPool.Start(ctx)
	defer workerPool.Stop()

	// Use cases.
	userUC := usecase.NewUserUseCase(userRepo, logger)
	ledgerUC := usecase.NewLedgerUseCase(ledgerRepo, userRepo, trialRepo, tm, cfg.Generation.ReferralBonusPct, logger)
	pricer := usecase.NewPricer(catalogRepo, nil, cfg.Generation.MarkupPercent)
	gate := usecase.NewProviderGate(
		providerClient,
		red.NewBalanceCache(redisCli, cfg.Provider.BalanceTTL),
		red.NewLocker(redisCli),
		userRepo,
		bot,
		cfg.Provider.MinBalance,
		cfg.Provider.AlertLockTTL,
		logger,
	)
	poller := usecase.NewPoller(
		tm, requestRepo, resultRepo, jobRepo, userRepo, ledgerUC,
		providerClient, bot, workerPool,
		cfg.Generation.PollInterval, cfg.Generation.MaxPollDuration,
		logger,
	)
	submissionUC := usecase.NewSubmissionUseCase(
		tm, userUC, catalogRepo, pricer, ledgerUC, trialRepo,
		requestRepo, referenceRepo, resultRepo, jobRepo,
		dispatch, gate, poller,
		cfg.Generation.MaxParallelPerUser, cfg.Generation.MaxReferences,
		logger,
	)
	queryUC := usecase.NewGenerationQueryUseCase(userRepo, requestRepo, resultRepo)
	broadcastUC := usecase.NewBroadcastUseCase(
		broadcastRepo, userRepo, bot, workerPool,
		red.NewBroadcastThrottle(redisCli, cfg.Broadcast.MessagesPerSecond),
		logger,
	)
	statsUC := usecase.NewStatsUseCase(userRepo, requestRepo, ledgerRepo)

	// Reaper.
	reaper := usecase.NewReaper(tm, requestRepo, jobRepo, ledgerUC, cfg.Generation.StuckThreshold, logger)
	reapSched := scheduler.NewScheduler("reaper", cfg.Generation.ReapInterval, sched.NewReaperWorker(cfg.Generation.ReapInterval, reaper, logger), logger)
	reapSched.Start(ctx)
	defer reapSched.Stop()

	// HTTP.
	server := web.NewServer(submissionUC, queryUC, poller, broadcastUC, ledgerUC, statsUC, userUC, catalogRepo, cfg, logger)
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Int("port", cfg.API.Port).Msg("http server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	return ctx.Err()
}
