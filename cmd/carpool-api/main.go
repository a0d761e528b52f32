// README: Entry point; loads config, wires services, starts HTTP server, expiry monitor and side-effect workers.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"carpool/internal/config"
	httptransport "carpool/internal/http"
	"carpool/internal/infra"
	"carpool/internal/logging"
	"carpool/internal/maps"
	"carpool/internal/modules/carpool"
	"carpool/internal/modules/sideeffect"
	"carpool/internal/modules/trajectory"
	"carpool/internal/observability"
	"carpool/internal/wiring"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	log := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, "carpool-api", cfg.OTel.Endpoint)
	if err != nil {
		log.Error("tracing init", "err", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	stack, err := wiring.Open(ctx, cfg, log)
	if err != nil {
		log.Error("startup", "err", err)
		os.Exit(1)
	}
	defer stack.Close()

	if stack.Firebase == nil {
		log.Error("CARPOOL_FIREBASE_PROJECT_ID is required")
		os.Exit(1)
	}
	verifier, err := infra.NewFirebaseVerifier(ctx, stack.Firebase)
	if err != nil {
		log.Error("firebase init", "err", err)
		os.Exit(1)
	}

	var store carpool.Store
	switch cfg.Carpool.Store {
	case "memory":
		log.Warn("carpool aggregates kept in memory; run a single api process")
		store = carpool.NewMemoryStore()
	default:
		redisClient, err := infra.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password)
		if err != nil {
			log.Error("redis init", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		store = carpool.NewRedisStore(redisClient, cfg.Carpool.WaitingIndexKey)
	}

	loc, err := time.LoadLocation(cfg.SideEffects.Timezone)
	if err != nil {
		log.Error("timezone", "err", err)
		os.Exit(1)
	}

	g, ctx := errgroup.WithContext(ctx)

	// Side effects run in-process unless a kafka topic is configured, in
	// which case cmd/sideeffect-worker consumes them.
	var queue sideeffect.Queue
	if len(cfg.Kafka.Brokers) > 0 {
		kq := sideeffect.NewKafkaQueue(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		defer kq.Close()
		queue = kq
	} else {
		handler, err := stack.SideEffectHandler(ctx, cfg)
		if err != nil {
			log.Error("side-effect init", "err", err)
			os.Exit(1)
		}
		alerter, err := stack.Alerter(cfg)
		if err != nil {
			log.Error("alert channel init", "err", err)
			os.Exit(1)
		}
		mq := sideeffect.NewMemoryQueue(cfg.SideEffects.QueueSize)
		runner := sideeffect.NewRunner(handler, alerter, cfg.SideEffects, log)
		g.Go(func() error { return mq.Run(ctx, cfg.SideEffects.Workers, runner) })
		queue = mq
	}

	deps := carpool.Deps{
		Store:    store,
		Ledger:   stack.Ledger,
		Verifier: trajectory.NewService(trajectory.NewStore(stack.DB), trajectory.NewVerifier(cfg.Verification), log),
		Profiles: stack.Profiles,
		Effects:  sideeffect.NewDispatcher(queue, loc, log),
		Logger:   log,
	}
	if cfg.Maps.APIKey != "" {
		routes, err := maps.NewRouteService(cfg.Maps.APIKey)
		if err != nil {
			log.Error("maps init", "err", err)
			os.Exit(1)
		}
		deps.Arrival = routes
	}
	carpools := carpool.NewService(deps, cfg.Carpool)

	router := httptransport.NewRouter(httptransport.RouterDeps{Carpools: carpools, Verifier: verifier, Logger: log})
	server := httptransport.NewServer(cfg.HTTP.Addr, router, cfg.HTTP.ShutdownTimeout, log)

	g.Go(func() error {
		carpools.RunExpiryMonitor(ctx)
		return nil
	})
	g.Go(func() error { return server.Run(ctx) })

	if err := g.Wait(); err != nil {
		log.Error("carpool-api stopped", "err", err)
		os.Exit(1)
	}
	log.Info("carpool-api stopped")
}
