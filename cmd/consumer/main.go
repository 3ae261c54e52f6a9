package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/spot-finder/internal/config"
	"github.com/example/spot-finder/internal/geo"
	"github.com/example/spot-finder/internal/logging"
	"github.com/example/spot-finder/internal/models"
	"github.com/example/spot-finder/internal/storage"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total spot event messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	indexUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_index_updates_total",
		Help: "Total successful geo index updates",
	})
	indexErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_index_errors_total",
		Help: "Total geo index update failures",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, indexUpdates, indexErrors)
}

func main() {
	cfg, err := config.LoadConsumerConfig()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	// allow some flags for local runs
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "address to serve prometheus metrics on")
	rebuild := flag.Bool("rebuild", cfg.PGDSN != "", "reload every available spot from PostgreSQL before consuming")
	flag.Parse()

	logger := logging.NewLogger(cfg.LogLevel)

	rc := geo.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword)
	var spotStore storage.SpotStore
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "err", err)
			os.Exit(1)
		}
		defer ps.Close()
		spotStore = ps
	}
	index := geo.NewRedisIndex(rc, cfg.RedisGeoKey, spotStore)

	// start metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := index.Ping(r.Context()); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *rebuild && spotStore != nil {
		n, err := rebuildIndex(ctx, spotStore, index)
		if err != nil {
			logger.Error("index rebuild failed", "err", err)
		} else {
			logger.Info("index rebuilt from store", "spots", n)
		}
	}

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroup, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		// reset backoff on success
		backoff = time.Second

		msgsConsumed.Inc()

		var ev models.SpotEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil || ev.SpotID == "" {
			msgsInvalid.Inc()
			logger.Warn("invalid message", "offset", m.Offset, "err", err)
			continue
		}

		if err := applyWithRetry(ctx, index, ev, 3, 200*time.Millisecond); err != nil {
			indexErrors.Inc()
			logger.Error("index update failed", "spot_id", ev.SpotID, "kind", ev.Kind, "err", err)
			continue
		}
		indexUpdates.Inc()
	}
}

// IndexUpdater applies one spot event to the geo index.
type IndexUpdater interface {
	Apply(ctx context.Context, ev models.SpotEvent) error
}

// applyWithRetry applies ev with retry/backoff, giving up early when ctx ends.
func applyWithRetry(ctx context.Context, idx IndexUpdater, ev models.SpotEvent, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = idx.Apply(ctx, ev); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

// rebuildIndex loads every available spot into the index so that a fresh
// Redis starts in step with the store.
func rebuildIndex(ctx context.Context, spots storage.SpotStore, idx IndexUpdater) (int, error) {
	all, err := spots.AvailableInLatitudeBand(ctx, -90, 90, 0)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	for _, s := range all {
		if err := idx.Apply(ctx, models.EventFor(models.SpotReported, s, now)); err != nil {
			return 0, err
		}
	}
	return len(all), nil
}
