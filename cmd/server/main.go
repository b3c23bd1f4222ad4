package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/joho/godotenv"
	"github.com/prudhvinik1/ussync/internal/config"
	"github.com/prudhvinik1/ussync/internal/database"
	"github.com/prudhvinik1/ussync/internal/handlers"
	"github.com/prudhvinik1/ussync/internal/metrics"
	"github.com/prudhvinik1/ussync/internal/repositories"
	"github.com/prudhvinik1/ussync/internal/services"
	"golang.org/x/sync/errgroup"
)

func main() {
	flag.Parse()
	defer glog.Flush()

	godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		glog.Exitf("[server]%s\n", err)
	}
	glog.Infof("[server]stopped gracefully\n")
}

func run(ctx context.Context) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	pairing, err := config.LoadPairing(cfg.PairingFile)
	if err != nil {
		return err
	}

	repo, closeRepo, err := openPresenceRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRepo()

	metrics.MustRegister()

	tokens := services.NewTokenService(pairing, cfg.PairCodeHash, cfg.JWTSecret, cfg.JWTExpiry)
	router := handlers.NewRouter(handlers.RouterOptions{
		Repo:        repo,
		Tokens:      tokens,
		CORSOrigins: cfg.CORSOrigins,
		RateLimit:   cfg.RateLimit,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		glog.Infof("[server]listening on :%s (backend=%s, pairing=%s/%s)\n", cfg.ServerPort, cfg.PresenceBackend, pairing.SelfID, pairing.PartnerID)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		glog.Infof("[server]shutting down\n")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openPresenceRepository(ctx context.Context, cfg *config.Config) (repositories.PresenceRepository, func(), error) {
	switch cfg.PresenceBackend {
	case config.BackendRedis:
		client, err := database.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create redis client: %w", err)
		}
		return repositories.NewRedisPresenceRepository(client), func() { client.Close() }, nil

	case config.BackendPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		repo := repositories.NewPostgresPresenceRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return repo, pool.Close, nil

	default:
		glog.Warningf("[server]using in-memory presence, documents are lost on restart\n")
		return repositories.NewMemoryPresenceRepository(), func() {}, nil
	}
}
