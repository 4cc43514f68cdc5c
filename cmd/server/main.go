package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/openmates/sync-core/internal/aidispatch"
	"github.com/openmates/sync-core/internal/authws"
	"github.com/openmates/sync-core/internal/cache"
	"github.com/openmates/sync-core/internal/config"
	"github.com/openmates/sync-core/internal/connmgr"
	"github.com/openmates/sync-core/internal/eventbus"
	"github.com/openmates/sync-core/internal/handlers"
	"github.com/openmates/sync-core/internal/metrics"
	"github.com/openmates/sync-core/internal/records"
	"github.com/openmates/sync-core/internal/sync"
	"github.com/openmates/sync-core/internal/vaultcrypto"
	"github.com/openmates/sync-core/internal/workerqueue"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}

	reg := prometheus.NewRegistry()
	mx := metrics.NewRegistry(reg)

	if err := records.RunMigrations(cfg.Postgres.DSN); err != nil {
		logger.Fatalf("failed to run migrations: %v", err)
	}

	db, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{})
	if err != nil {
		logger.Fatalf("failed to connect to postgres: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatalf("failed to obtain sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)
	defer sqlDB.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	kafkaWriter := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.Hash{},
	}
	defer kafkaWriter.Close()

	vaultKey, err := base64.StdEncoding.DecodeString(cfg.Auth.VaultMasterKeyBase64)
	if err != nil {
		logger.Fatalf("failed to decode vault master key: %v", err)
	}
	vault := vaultcrypto.New(vaultKey)

	verifier := authws.NewVerifier(cfg.Auth.JWTSecret)

	c := cache.New(redisClient, cfg.Cache, logger, mx)
	store := records.NewGormStore(db)
	enqueuer := workerqueue.NewProducer(kafkaWriter)

	conns := connmgr.New(logger, mx, cfg.Limits)
	syncSvc := sync.New(c, store, vault, logger)
	dispatch := aidispatch.New(c, enqueuer, mx, logger)
	bus := eventbus.New(c, conns, dispatch, logger, mx)

	hc := &handlers.Context{
		Cache:    c,
		Records:  store,
		Enqueuer: enqueuer,
		Conns:    conns,
		Sync:     syncSvc,
		Dispatch: dispatch,
		Vault:    vault,
		Logger:   logger,
		Mx:       mx,
	}

	busCtx, stopBus := context.WithCancel(context.Background())
	bus.Start(busCtx)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy","service":"sync-core"}`))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/ws", wsUpgradeHandler(hc, conns, verifier, logger))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Infof("starting http server on port %d", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	stopBus()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("http server shutdown error: %v", err)
	}
	logger.Info("stopped")
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsUpgradeHandler verifies the bearer token carried on the upgrade
// request (query param for browsers that cannot set a header on a
// websocket handshake, falling back to Authorization), registers the
// resulting Connection, and hands the read loop to handlers.Route.
func wsUpgradeHandler(hc *handlers.Context, conns *connmgr.Manager, verifier *authws.Verifier, logger *logrus.Logger) http.HandlerFunc {
	route := handlers.Route(hc)
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		identity, err := verifier.Verify(token)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.WithError(err).Warn("websocket upgrade failed")
			return
		}

		c := connmgr.NewConnection(conn, identity.UserID, identity.DeviceFingerprintHash, 256, logger, conns.NewLimiter())
		conns.Register(c)
		go c.WritePump()
		c.ReadPump(conns, route)
	}
}
