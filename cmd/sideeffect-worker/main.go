// README: Worker binary that consumes side-effect tasks from kafka and runs them with retries.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"carpool/internal/config"
	"carpool/internal/logging"
	"carpool/internal/modules/sideeffect"
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
	if len(cfg.Kafka.Brokers) == 0 {
		log.Error("CARPOOL_KAFKA_BROKERS is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stack, err := wiring.Open(ctx, cfg, log)
	if err != nil {
		log.Error("startup", "err", err)
		os.Exit(1)
	}
	defer stack.Close()

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
	runner := sideeffect.NewRunner(handler, alerter, cfg.SideEffects, log)

	consumer := sideeffect.NewKafkaConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, log)
	defer consumer.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	metricsSrv := &http.Server{Addr: cfg.HTTP.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("consumer listening", "topic", cfg.Kafka.Topic, "brokers", cfg.Kafka.Brokers, "group", cfg.Kafka.GroupID)
		return consumer.Run(ctx, runner)
	})
	g.Go(func() error {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("sideeffect-worker stopped", "err", err)
		os.Exit(1)
	}
	log.Info("sideeffect-worker stopped")
}
