package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"trading-core/internal/account"
	"trading-core/internal/api"
	"trading-core/internal/events"
	"trading-core/internal/idgen"
	"trading-core/internal/instrument"
	"trading-core/internal/margin"
	"trading-core/internal/market"
	"trading-core/internal/monitor"
	"trading-core/internal/money"
	"trading-core/internal/order"
	"trading-core/internal/persistence"
	"trading-core/internal/portfolio"
	"trading-core/internal/pricing"
	"trading-core/internal/provider"
	"trading-core/internal/queue"
	"trading-core/internal/statestore"
	"trading-core/internal/trigger"
	"trading-core/internal/workers"
	"trading-core/pkg/config"
	"trading-core/pkg/db"
	"trading-core/pkg/i18n"
	"trading-core/pkg/license"
)

// newRedisClient builds the redis.Cmdable the state store runs on: a single
// *redis.ClusterClient over every REDIS_ADDRS entry when REDIS_CLUSTER_MODE
// is "true", otherwise a *redis.Client on the first configured address
// (spec.md §1 "a shared, hash-tagged Redis-cluster key space").
func newRedisClient(cfg *config.Config) redis.Cmdable {
	if cfg.RedisClusterMode {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    cfg.RedisAddrs,
			Password: cfg.RedisPassword,
		})
	}
	addr := "localhost:6379"
	if len(cfg.RedisAddrs) > 0 {
		addr = cfg.RedisAddrs[0]
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
	})
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf(i18n.Get("ConfigLoadFailed"), err)
	}
	i18n.SetLanguage(i18n.Language(cfg.Language))
	log.Println(i18n.Get("Starting"))
	log.Printf(i18n.Get("ConfigLoaded"), cfg.Port)

	if cfg.LicenseServer != "" {
		lic := license.NewManager(cfg.LicenseServer)
		if err := lic.Validate(os.Getenv("LICENSE_TOKEN")); err != nil {
			log.Fatalf("license validation failed: %v", err)
		}
	}

	rdb := newRedisClient(cfg)
	if closer, ok := rdb.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	state := statestore.New(rdb, statestore.BreakerConfig{
		FailureThreshold: cfg.BreakerFailureLimit,
		RecoveryWindow:   cfg.BreakerRecoveryWindow(),
	})

	bus := events.NewBus()
	accounts := account.NewStore(state)
	groups := instrument.NewStore(state, cfg.GroupConfigCacheTTLSec)
	mkt := market.NewCache(state, bus)
	pricer := pricing.NewPricer(groups, mkt)
	marginEngine := margin.NewEngine(pricer)
	ids := idgen.NewOrderIDGenerator(cfg.OrderWorkerID)

	broker, err := queue.Dial(cfg.AMQPURL)
	if err != nil {
		log.Fatalf(i18n.Get("QueueInitFailed"), err)
	}
	defer broker.Close()

	publisher := persistence.NewPublisher(broker)

	workerID := fmt.Sprintf("worker-%d", cfg.OrderWorkerID)
	triggerCfg := trigger.DefaultConfig(workerID)
	triggerCfg.LeaseTTL = time.Duration(cfg.TriggerLeaseTTLSec) * time.Second
	triggerEngine := trigger.NewEngine(state, bus, broker, triggerCfg)
	sweeper := trigger.NewSweeper(triggerEngine, cfg.Symbols, time.Duration(cfg.TriggerLeaseTTLSec)*time.Second)

	executor := order.NewExecutor(state, accounts, groups, pricer, marginEngine, ids, triggerEngine, publisher, cfg.IdempotencyTTL())

	workerSet := workers.Set{
		State: state, Accounts: accounts, Groups: groups, Pricer: pricer,
		Margin: marginEngine, Triggers: triggerEngine, Persist: publisher, Broker: broker,
	}

	listener := provider.NewListener(broker, cfg.ProviderSocketPath, cfg.ProviderTCPFallback)
	dispatcher := provider.NewDispatcher(state, broker)
	outbound := provider.NewOutboundClient(cfg.ProviderSocketPath, cfg.ProviderTCPFallback)

	portfolioCfg := portfolio.DefaultConfig(workerID)
	portfolioCfg.FlushInterval = time.Duration(cfg.PortfolioFlushMs) * time.Millisecond
	portfolioCfg.CutoffPct = money.FromFloat(cfg.AutocutoffPct)
	recalculator := portfolio.NewRecalculator(state, accounts, groups, marginEngine, bus, broker, portfolioCfg)

	metrics := monitor.NewSystemMetrics()
	mon := &monitor.Monitor{Bus: bus, AlertFn: func(msg string) { log.Println(msg) }}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ops/debug SQLite mirror: a read-only shadow of order state for
	// operational querying, never the system of record (statestore is).
	if mirrorDB, err := db.New(cfg.SQLiteMirrorPath); err != nil {
		log.Printf("ops mirror unavailable, continuing without it: %v", err)
	} else {
		mirror := persistence.NewMirror(broker, mirrorDB, 100, time.Second)
		defer mirror.Close()
		go func() {
			if err := mirror.Run(ctx, cfg.WorkerPrefetch); err != nil && ctx.Err() == nil {
				log.Printf("ops mirror stopped: %v", err)
			}
		}()
	}

	go mon.Start(ctx)
	go triggerEngine.Run(ctx)
	go sweeper.Run(ctx)
	go recalculator.Run(ctx)
	go func() {
		if err := listener.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("provider listener stopped: %v", err)
		}
	}()
	go func() {
		if err := dispatcher.Run(ctx, cfg.WorkerPrefetch); err != nil && ctx.Err() == nil {
			log.Printf("provider dispatcher stopped: %v", err)
		}
	}()

	startWorker := func(name string, run func(context.Context, int) error) {
		go func() {
			if err := run(ctx, cfg.WorkerPrefetch); err != nil && ctx.Err() == nil {
				log.Printf("%s worker stopped: %v", name, err)
			}
		}()
	}
	startWorker("open", workers.NewOpenWorker(workerSet).Run)
	startWorker("close", workers.NewCloseWorker(workerSet).Run)
	startWorker("cancel", workers.NewCancelWorker(workerSet).Run)
	startWorker("reject", workers.NewRejectWorker(workerSet).Run)
	startWorker("stoploss_cancel", workers.NewStopLossCancelWorker(workerSet).Run)
	startWorker("takeprofit_cancel", workers.NewTakeProfitCancelWorker(workerSet).Run)

	server := api.NewServer(executor, state, outbound, bus, metrics, cfg.JWTSecret)

	go func() {
		log.Printf(i18n.Get("ServerListening"), cfg.Port)
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Printf("http server stopped: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println(i18n.Get("ShuttingDown"))
	cancel()
}
