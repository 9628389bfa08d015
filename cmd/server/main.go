package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/campusverse/campus/backend-go/internal/auth"
	"github.com/campusverse/campus/backend-go/internal/campus"
	"github.com/campusverse/campus/backend-go/internal/config"
	"github.com/campusverse/campus/backend-go/internal/db"
	"github.com/campusverse/campus/backend-go/internal/metrics"
	mw "github.com/campusverse/campus/backend-go/internal/middleware"
	"github.com/campusverse/campus/backend-go/internal/natsbus"
	"github.com/campusverse/campus/backend-go/internal/presence"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	if err := run(cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New(prometheus.DefaultRegisterer)

	opts := []campus.Option{
		campus.WithSpawn(presence.Position{X: cfg.SpawnX, Y: cfg.SpawnY}),
		campus.WithReaper(cfg.ReapInterval, cfg.InactivityTimeout),
		campus.WithMetrics(m),
		campus.WithSendBuffer(cfg.SendBuffer),
		campus.WithOriginPatterns(cfg.OriginHosts()),
	}

	if cfg.NATSURL != "" {
		publisher, err := natsbus.Connect(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			return fmt.Errorf("connect to nats: %w", err)
		}
		// Drained after the hub has stopped publishing.
		defer publisher.Close()
		opts = append(opts, campus.WithPublisher(publisher))
		slog.Info("mirroring presence snapshots", "url", cfg.NATSURL, "subject", cfg.NATSSubject)
	}

	var authService *auth.Service
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer pool.Close()

		if err := db.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}

		authService = auth.NewService(db.NewUserStore(pool), cfg.JWTSecret, cfg.TokenTTL)
	} else {
		slog.Warn("DATABASE_URL not set, account routes disabled")
	}

	hub := campus.NewHub(presence.NewTable(), opts...)
	go hub.Run()

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(cfg, hub, authService),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			hub.Stop()
			return err
		}
	case sig := <-sigCh:
		slog.Info("shutting down server", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()

	// Upgraded sockets are hijacked, so Shutdown does not wait for them. The hub closes them.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	if err := hub.Shutdown(shutdownCtx); err != nil {
		slog.Warn("hub shutdown", "error", err)
	}

	slog.Info("server stopped")
	return nil
}

// newRouter mounts every route; account routes only when authService is set. CORS wraps the
// whole router: mux runs r.Use middleware on matched routes only, and preflights match none.
func newRouter(cfg *config.Config, hub *campus.Hub, authService *auth.Service) http.Handler {
	r := mux.NewRouter()

	r.Use(mw.Recovery)
	r.Use(mw.Logger)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	r.HandleFunc("/campus", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Campus socket server running"))
	}).Methods("GET")

	r.HandleFunc("/ws", hub.ServeWS)
	r.HandleFunc("/api/presence", hub.ServePresence).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	if authService != nil {
		authHandler := auth.NewHandler(authService)

		r.HandleFunc("/api/auth/register", authHandler.Register).Methods("POST")
		r.HandleFunc("/api/auth/login", authHandler.Login).Methods("POST")

		protected := r.PathPrefix("/api/auth").Subrouter()
		protected.Use(authService.AuthMiddleware)
		protected.HandleFunc("/update-avatar", authHandler.UpdateAvatar).Methods("PUT")
		protected.HandleFunc("/me", authHandler.Me).Methods("GET")
	}

	return mw.CORS(cfg.Origins())(r)
}
