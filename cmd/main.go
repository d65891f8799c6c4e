package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-workorders/internal/auth"
	"github.com/ukydev/fleet-workorders/internal/config"
	"github.com/ukydev/fleet-workorders/internal/db"
	"github.com/ukydev/fleet-workorders/internal/events"
	"github.com/ukydev/fleet-workorders/internal/handlers"
	"github.com/ukydev/fleet-workorders/internal/logging"
	"github.com/ukydev/fleet-workorders/internal/metrics"
	"github.com/ukydev/fleet-workorders/internal/workorder"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// app is the wired API server.
type app struct {
	store     db.Store
	publisher events.Publisher
	handler   http.Handler
}

func newApp(ctx context.Context, cfg *config.Config, logger *log.Logger) (*app, error) {
	var (
		store db.Store
		ping  func(ctx context.Context) error
	)
	switch cfg.StoreDriver {
	case config.DriverMemory:
		logger.Warn("using in-memory store, data is lost on restart")
		store = db.NewMemoryStore()
	case config.DriverMongo:
		client, err := db.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		mongoStore := db.NewMongoStore(client, cfg.MongoDB)
		if err := mongoStore.EnsureIndexes(ctx); err != nil {
			_ = mongoStore.Close(context.Background())
			return nil, fmt.Errorf("ensure indexes: %w", err)
		}
		logger.WithField("database", cfg.MongoDB).Info("connected to MongoDB")
		store = mongoStore
		ping = func(ctx context.Context) error { return client.Ping(ctx, readpref.Primary()) }
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.MQTTBrokerURL != "" {
		p, err := events.NewMQTTPublisher(events.MQTTConfig{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID,
			TopicPrefix: cfg.MQTTTopicPrefix,
			QoS:         1,
		})
		if err != nil {
			_ = store.Close(context.Background())
			return nil, err
		}
		logger.WithField("broker", cfg.MQTTBrokerURL).Info("publishing work order events over MQTT")
		publisher = p
	}

	authService, err := auth.NewService(cfg.JWTSecret, cfg.JWTExpiry)
	if err != nil {
		publisher.Close()
		_ = store.Close(context.Background())
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	service := workorder.NewService(store,
		workorder.WithPublisher(publisher),
		workorder.WithMetrics(m),
		workorder.WithLogger(logger),
	)

	router := handlers.NewRouter(handlers.RouterConfig{
		WorkOrders:             service,
		Store:                  store,
		Auth:                   authService,
		Logger:                 logger,
		Metrics:                m,
		Gatherer:               reg,
		Ping:                   ping,
		RateLimitRequests:      cfg.RateLimitRequests,
		RateLimitWindowSeconds: cfg.RateLimitWindowSeconds,
		TrustProxyHeaders:      cfg.TrustProxyHeaders,
	})
	return &app{store: store, publisher: publisher, handler: router}, nil
}

func (a *app) Close(ctx context.Context) error {
	a.publisher.Close()
	return a.store.Close(ctx)
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	setupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	a, err := newApp(setupCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			logger.WithError(err).Warn("closing store")
		}
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("port", cfg.Port).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("server stopped")
	}
}
