package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/punchamoorthee/campaignledger/internal/api"
	"github.com/punchamoorthee/campaignledger/internal/config"
	"github.com/punchamoorthee/campaignledger/internal/domain"
	"github.com/punchamoorthee/campaignledger/internal/ledger"
	"github.com/punchamoorthee/campaignledger/internal/locker"
	"github.com/punchamoorthee/campaignledger/internal/logger"
	"github.com/punchamoorthee/campaignledger/internal/pricing"
	"github.com/punchamoorthee/campaignledger/internal/redis"
	"github.com/punchamoorthee/campaignledger/internal/service"
	"github.com/punchamoorthee/campaignledger/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logg := logger.New(logger.Options{
		ServiceName: "campaign-api",
		Level:       cfg.App.LogLevel,
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	campaignStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		logg.Error(ctx, "failed to open campaign store", err)
		log.Fatal(err)
	}
	defer campaignStore.Close()

	rates, err := cfg.Pricing.Rates()
	if err != nil {
		logg.Error(ctx, "invalid pricing rates", err)
		log.Fatal(err)
	}
	var (
		rateSource pricing.RateSource = pricing.StaticRates(rates)
		locks      locker.Locker      = locker.NewLocal()
	)
	if cfg.Redis.Enabled() {
		redisClient, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			logg.Error(ctx, "failed to connect to redis", err)
			log.Fatal(err)
		}
		defer redisClient.Close()

		if locks, err = locker.NewRedis(redisClient, cfg.Redis.LockTTL); err != nil {
			log.Fatal(err)
		}
		if rateSource, err = pricing.NewPinned(redisClient, rateSource, cfg.Pricing.PinBucket, cfg.Pricing.PinTTL); err != nil {
			log.Fatal(err)
		}
	}
	converter, err := pricing.NewConverter(rateSource)
	if err != nil {
		log.Fatal(err)
	}

	// The in-process ledger is the event log the reconciler replays. The
	// chain indexer feeds it through POST /api/v1/ledger/campaigns/{address}/contributions.
	// Confirmed balances come from the node when an RPC endpoint is configured.
	events := ledger.NewMemory()
	var balances ledger.BalanceReader = events
	if cfg.Chain.RPCURL != "" {
		tokens := map[domain.Asset]common.Address{}
		if cfg.Chain.WBTCToken != "" {
			tokens[domain.AssetWBTC] = common.HexToAddress(cfg.Chain.WBTCToken)
		}
		rpc, err := ledger.DialRPCBalances(ctx, cfg.Chain.RPCURL, tokens)
		if err != nil {
			logg.Error(ctx, "failed to dial chain rpc", err)
			log.Fatal(err)
		}
		defer rpc.Close()
		balances = rpc
	}

	svc, err := service.New(campaignStore, locks, converter, logg, service.WithLedger(events, balances))
	if err != nil {
		log.Fatal(err)
	}

	go runEvery(ctx, cfg.Scheduler.FinalizeInterval, func(ctx context.Context) {
		report, err := svc.SweepExpired(ctx)
		if err != nil {
			logg.Error(ctx, "deadline sweep failed", err)
			return
		}
		if len(report.Finalized) > 0 {
			logg.Info(logg.WithField(ctx, "finalized", len(report.Finalized)), "deadline sweep finished")
		}
	})
	go runEvery(ctx, cfg.Scheduler.ReconcileInterval, func(ctx context.Context) {
		report, err := svc.ReconcileAll(ctx)
		if err != nil {
			logg.Error(ctx, "ledger reconcile failed", err)
			return
		}
		if report.Applied+report.Rejected+report.Drifted > 0 {
			logg.Info(logg.WithFields(ctx, map[string]any{
				"applied":  report.Applied,
				"rejected": report.Rejected,
				"drifted":  report.Drifted,
			}), "ledger reconcile finished")
		}
	})

	srv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           api.NewHandler(svc, logg, api.WithLedgerFeed(events)).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logg.Info(logg.WithField(ctx, "store", cfg.Store.Driver), "server starting on :"+cfg.App.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "server stopped", err)
		log.Fatal(err)
	}
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pg, err := store.NewPostgres(ctx, cfg.DBSource, cfg.MaxConns)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	case config.DriverLevelDB:
		return store.NewLevelDB(cfg.LevelDBPath)
	default:
		return store.NewMemory(), nil
	}
}

func runEvery(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
