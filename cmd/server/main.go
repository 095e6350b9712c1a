package main

import (
	"chat-sync/auth"
	"chat-sync/contract"
	"chat-sync/gateway"
	"chat-sync/infrastructure/api"
	"chat-sync/infrastructure/storage"
	"chat-sync/internal"
	"chat-sync/runtime"
	"chat-sync/runtime/workers"
	"chat-sync/services"
	"chat-sync/sink"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/mama165/sdk-go/logs"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and owns their lifecycle, so that deferred
// cleanups always execute before the process exits.
func run() error {
	config, err := internal.LoadConfig(".env")
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(config.LogLevel)
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, db, closeStore, err := openStore(ctx, config, log)
	if err != nil {
		return err
	}
	defer closeStore()

	bus := runtime.NewBus(log)
	conversations := services.NewConversationService(log, store, bus)
	messages := services.NewMessageService(log, store, bus, config.LimitMessages, config.MaxContentLength)
	tokens := auth.NewTokens(config.JWTSecret, config.AuthTokenDuration)
	server := api.NewServer(log, services.NewUserService(log, store), conversations, messages,
		gateway.NewGateway(log, bus).WithAuthorizer(messages),
		tokens,
		api.WSConfig{
			PingInterval:     config.WSPingInterval,
			PongTimeout:      config.WSPongTimeout,
			HandshakeTimeout: config.WSHandshakeTimeout,
			SendBuffer:       config.WSSendBuffer,
		})

	storeStats, _ := store.(workers.StoreStats)
	heartbeat := workers.NewHeartbeatWorker(log, config.MetricInterval)
	sup := workers.NewSupervisor(log).WithRestartInterval(config.RestartInterval)
	sup.Add(
		workers.NewEventFanout(log, bus, config.SinkTimeout, sink.NewLogSink(log, slog.LevelDebug)),
		workers.NewStatsReporter(log, bus, storeStats, config.MetricInterval),
		heartbeat,
	)
	supervised := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(supervised)
	}()

	httpServer := &http.Server{
		Addr:              config.Address(),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errChan := make(chan error, 2)
	go func() {
		log.Info("Starting HTTP server", "address", httpServer.Addr, "store", config.StoreDriver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	var debugServer *http.Server
	if config.DebugPort != 0 {
		debugServer = internal.NewDebugServer(log, config.DebugPort, internal.DebugSources{
			DB: db, Bus: bus, Store: storeStats, Heartbeat: heartbeat,
		})
		go func() {
			log.Info("Starting debug server", "address", debugServer.Addr)
			if err := debugServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- fmt.Errorf("debug server error: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		sup.Stop()
		<-supervised
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown", "error", err)
	}
	if debugServer != nil {
		_ = debugServer.Shutdown(shutdownCtx)
	}
	sup.Stop()
	<-supervised
	log.Info("Program stopped cleanly")
	return nil
}

// openStore returns the configured store, the Badger handle when there is
// one, and the function releasing it.
func openStore(ctx context.Context, config internal.Config, log *slog.Logger) (contract.Store, *badger.DB, func(), error) {
	switch config.StoreDriver {
	case internal.StoreDriverPostgres:
		store, err := storage.NewPostgresStore(ctx, config.DatabaseURL, log)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("database opening failed: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, nil, nil, fmt.Errorf("database migration failed: %w", err)
		}
		return store, nil, func() {
			log.Info("Closing PostgreSQL pool...")
			store.Close()
		}, nil
	default:
		db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
			WithLoggingLevel(badger.WARNING))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("database opening failed: %w", err)
		}
		return storage.NewBadgerStore(db, log), db, func() {
			log.Info("Closing BadgerDB...")
			_ = db.Close()
		}, nil
	}
}
