package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/mmynk/eventsync/internal/auth"
	"github.com/mmynk/eventsync/internal/config"
	"github.com/mmynk/eventsync/internal/middleware"
	"github.com/mmynk/eventsync/internal/notify"
	"github.com/mmynk/eventsync/internal/server"
	"github.com/mmynk/eventsync/internal/storage/sqlite"
	"github.com/mmynk/eventsync/pkg/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logging.SetupWithLevel(logging.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	if cfg.Auth.Secret == "" {
		return errors.New("auth.secret is required")
	}

	// Initialize SQLite storage
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()
	slog.Info("Storage initialized", "database", cfg.DBPath)

	tokens := auth.NewJWTManager(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	hub := notify.NewHub(notify.WithAuthenticator(tokens.Authenticate))

	// With Redis, every instance publishes there and relays back into its
	// own hub, so subscribers on any instance see every change.
	var (
		publisher notify.Publisher = hub
		rdb       *redis.Client
	)
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		publisher = notify.NewRedisPublisher(rdb)
		slog.Info("Publishing through redis", "addr", cfg.RedisAddr)
	}

	mux := http.NewServeMux()
	svc := server.NewSyncService(store, server.WithPublisher(publisher))
	svc.Register(mux, connect.WithInterceptors(
		middleware.LoggingInterceptor(),
		middleware.RequireAuth(tokens),
	))
	mux.Handle("/ws", hub)
	mux.Handle("/metrics", promhttp.Handler())

	// Wrap with h2c for HTTP/2 without TLS (required for Connect)
	handler := h2c.NewHandler(middleware.LogRequests(corsMiddleware(mux)), &http2.Server{})
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	if rdb != nil {
		g.Go(func() error {
			return notify.Relay(ctx, rdb, hub)
		})
	}
	g.Go(func() error {
		slog.Info("Connect server starting", "address", cfg.Server.Addr, "url", cfg.Server.URL)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		slog.Info("Shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// corsMiddleware adds CORS headers for browser access
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Connect-Protocol-Version, Connect-Timeout-Ms")
		w.Header().Set("Access-Control-Expose-Headers", "Connect-Protocol-Version, Connect-Timeout-Ms")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
