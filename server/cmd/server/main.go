package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/fileshare/fileshare/server/internal/alloc"
	"github.com/fileshare/fileshare/server/internal/api"
	"github.com/fileshare/fileshare/server/internal/config"
	"github.com/fileshare/fileshare/server/internal/entity"
	"github.com/fileshare/fileshare/server/internal/metrics"
	"github.com/fileshare/fileshare/server/internal/rpc"
	"github.com/fileshare/fileshare/server/internal/store"
	"github.com/fileshare/fileshare/server/internal/ws"
)

// shutdownTimeout bounds graceful shutdown of listeners and actors.
const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	watch := flag.Bool("watch", true, "reload TTL, log level and allocator limits when the config file changes")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("fileshare-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(cfg.Server.Level())

	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"grpc_port", cfg.Server.GRPCPort,
		"backend", cfg.Storage.Backend,
		"ttl", cfg.Storage.TTL,
		"max_attempts", cfg.Allocator.MaxAttempts,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *configPath, *watch, level); err != nil {
		slog.Error("fileshare-server stopped", "err", err)
		os.Exit(1)
	}
	slog.Info("fileshare-server stopped")
}

func run(ctx context.Context, cfg *config.Config, configPath string, watch bool, level *slog.LevelVar) error {
	st, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer st.Close()

	reg := metrics.NewRegistry()
	set := metrics.NewSet(reg)

	mgr := entity.NewManager(st, set, entity.Options{
		TTL:         cfg.Storage.TTL,
		IdleTimeout: cfg.Actors.IdleTimeout,
	})
	if _, err := mgr.Recover(ctx); err != nil {
		slog.Warn("startup recovery incomplete", "err", err)
	}

	allocator := alloc.New(mgr, st, alloc.Options{
		MaxAttempts:    cfg.Allocator.MaxAttempts,
		Backoff:        cfg.Allocator.RetryBackoff,
		ReservationTTL: cfg.Allocator.ReservationTTL,
		Metrics:        set,
	})

	hub := ws.New(mgr)
	handler := api.New(mgr, allocator, api.Options{MaxPayloadBytes: cfg.Storage.MaxPayloadBytes})

	reg.GaugeFunc("fileshare_active_actors", "Entity actors currently in memory.",
		func() float64 { return float64(mgr.ActiveActors()) })
	reg.GaugeFunc("fileshare_observers", "Connected WebSocket observers.",
		func() float64 { return float64(hub.Count()) })
	reg.GaugeFunc("fileshare_ttl_seconds", "Lifetime given to stored and renewed entities.",
		func() float64 { return mgr.TTL().Seconds() })
	if mem, ok := st.(*store.Memory); ok {
		reg.GaugeFunc("fileshare_stored_entities", "Entities held by the in-memory store.",
			func() float64 { return float64(mem.Count()) })
	}

	// gRPC entity service for the caller-facing tier.
	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(rpc.LoggingInterceptor()))
	rpc.Register(grpcSrv, rpc.New(mgr, allocator))

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen on gRPC port %d: %w", cfg.Server.GRPCPort, err)
	}

	// Combined HTTP server: entity routes, WebSocket observers and metrics.
	httpMux := http.NewServeMux()
	httpMux.Handle("/", handler)
	httpMux.Handle(ws.PathPrefix, hub)
	httpMux.Handle("/metrics", reg)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("gRPC entity service listening", "port", cfg.Server.GRPCPort)
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	if watch {
		current := cfg
		g.Go(func() error {
			err := config.Watch(gctx, configPath, func(next *config.Config) {
				if fields := config.RestartRequired(current, next); len(fields) > 0 {
					slog.Warn("config change needs a restart to apply", "fields", fields)
				}
				level.Set(next.Server.Level())
				mgr.SetTTL(next.Storage.TTL)
				handler.SetMaxPayload(next.Storage.MaxPayloadBytes)
				allocator.SetLimits(next.Allocator.MaxAttempts, next.Allocator.RetryBackoff, next.Allocator.ReservationTTL)
				current = next
			})
			if err != nil {
				slog.Error("config watcher stopped", "err", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("fileshare-server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		grpcSrv.GracefulStop()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("HTTP shutdown", "err", err)
		}
		return mgr.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// openStore builds the configured backend.
func openStore(ctx context.Context, cfg config.StorageConfig) (store.Backend, error) {
	switch cfg.Backend {
	case "redis":
		opts := store.DefaultRedisOptions()
		opts.Address = cfg.Redis.Address
		opts.Password = cfg.Redis.Password()
		opts.DB = cfg.Redis.DB
		opts.Grace = cfg.Redis.Grace
		r := store.NewRedis(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := r.Ping(pingCtx); err != nil {
			r.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.Redis.Address, err)
		}
		slog.Info("using redis store", "address", cfg.Redis.Address, "db", cfg.Redis.DB)
		return r, nil
	default:
		slog.Info("using in-memory store")
		return store.NewMemory(nil), nil
	}
}
