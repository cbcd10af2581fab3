// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/quizsync/internal/auth"
	"github.com/jason-s-yu/quizsync/internal/cache"
	"github.com/jason-s-yu/quizsync/internal/config"
	"github.com/jason-s-yu/quizsync/internal/database"
	"github.com/jason-s-yu/quizsync/internal/handlers"
	"github.com/jason-s-yu/quizsync/internal/room"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()

	logger := logrus.New()
	logger.SetLevel(cfg.LogLevel)

	if err := initAuth(cfg); err != nil {
		logger.Fatalf("auth: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("store: %v", err)
	}
	defer closeStore()

	recorder := cache.Recorder(cache.NopRecorder{})
	if cfg.RedisAddr != "" {
		rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			logger.Fatalf("redis: %v", err)
		}
		defer rdb.Close()
		recorder = cache.NewRedisRecorder(rdb, cfg.EventQueue)
		logger.Infof("recording session events to redis queue %q", cfg.EventQueue)
	}

	rooms := room.NewManager(room.Options{
		Store:    store,
		Recorder: recorder,
		Log:      logger,
		Tick:     cfg.TickInterval,
	})
	gs := handlers.NewGameServer(rooms, logger, cfg.PingInterval)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           gs.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("Running on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Fatalf("server exited: %v", err)
	}
}

func initAuth(cfg config.Server) error {
	if cfg.JWTPublicKeyPath == "" {
		return auth.Init()
	}
	return auth.InitFromPath(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath)
}

// openStore picks Postgres when DATABASE_URL is set and the in-memory store otherwise.
func openStore(ctx context.Context, cfg config.Server, logger *logrus.Logger) (database.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		mem := database.NewMemoryStore()
		if cfg.SeedDemoQuiz {
			mem.SeedQuiz(demoQuizID, demoQuestions)
			logger.Infof("seeded demo quiz %s", demoQuizID)
		}
		logger.Warn("DATABASE_URL not set; games live in memory only")
		return mem, func() {}, nil
	}

	pool, err := database.ConnectDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	pg := database.NewPgStore(pool)
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, nil, err
	}
	if cfg.SeedDemoQuiz {
		if err := pg.SeedQuiz(ctx, demoQuizID, demoQuestions); err != nil {
			pg.Close()
			return nil, nil, err
		}
		logger.Infof("seeded demo quiz %s", demoQuizID)
	}
	logger.Info("connected to postgres")
	return pg, pg.Close, nil
}
