package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wuwenbin0122/mortgage-advisor/internal/api"
	"github.com/wuwenbin0122/mortgage-advisor/internal/auth"
	"github.com/wuwenbin0122/mortgage-advisor/internal/db"
	"github.com/wuwenbin0122/mortgage-advisor/internal/dialogue"
	"github.com/wuwenbin0122/mortgage-advisor/internal/llm"
	"github.com/wuwenbin0122/mortgage-advisor/internal/lock"
	"github.com/wuwenbin0122/mortgage-advisor/internal/store"
	"github.com/wuwenbin0122/mortgage-advisor/internal/utils"
)

const version = "1.0.0"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("config: no .env file loaded: %v", err)
	}

	cfg, err := utils.LoadConfig()
	if err != nil {
		log.Fatalf("config: failed to load: %v", err)
	}

	logger, err := utils.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("logger: failed to build: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
	logger.Info("server stopped cleanly")
}

func run(cfg *utils.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	logger.Info("conversation store ready", zap.String("driver", cfg.Store.Driver))

	locker, closeLocker, err := openLocker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	var archiver dialogue.Archiver
	if cfg.Mongo.Enabled {
		mongoStore, err := db.NewMongo(ctx, cfg.Mongo)
		if err != nil {
			return fmt.Errorf("mongo: failed to connect: %w", err)
		}
		defer func() {
			if err := mongoStore.Close(context.Background()); err != nil {
				logger.Warn("mongo: close error", zap.Error(err))
			}
		}()
		if err := mongoStore.EnsureCollections(ctx); err != nil {
			return fmt.Errorf("mongo: ensure collections: %w", err)
		}
		archiver = mongoStore
		logger.Info("assessment archive enabled", zap.String("database", cfg.Mongo.Database))
	}

	interpreter, err := llm.NewInterpreter(cfg.LLM)
	if err != nil {
		return err
	}

	authService, err := auth.NewService(cfg.JWTSecret, 24*time.Hour, st)
	if err != nil {
		return fmt.Errorf("failed to initialise auth service: %w", err)
	}

	chat := dialogue.NewService(st, interpreter, locker, archiver, logger.Named("dialogue"))

	var limiter *api.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = api.NewRateLimiter(cfg.RateLimit.RequestsPerMinute)
	}

	router := setupRouter(api.NewHandler(authService, chat, limiter, logger.Named("api")), logger)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.LLM.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server crashed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *utils.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case utils.StoreMemory:
		return store.NewMemory(), nil
	case utils.StorePostgres:
		postgres, err := db.NewPostgres(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to connect: %w", err)
		}
		if err := postgres.Ping(ctx); err != nil {
			postgres.Close()
			return nil, fmt.Errorf("postgres: ping failed: %w", err)
		}
		return store.NewPostgresStore(postgres), nil
	default:
		st, err := store.NewSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite: open %s: %w", cfg.Store.SQLitePath, err)
		}
		return st, nil
	}
}

func openLocker(ctx context.Context, cfg *utils.Config, logger *zap.Logger) (lock.Locker, func(), error) {
	if cfg.Redis.Addr == "" {
		return lock.NewLocal(), func() {}, nil
	}
	client, err := db.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("conversation locks backed by redis", zap.String("addr", cfg.Redis.Addr))
	return lock.NewRedis(client, cfg.Redis.LockTTL, logger.Named("lock")), func() { _ = client.Close() }, nil
}

func setupRouter(handler *api.Handler, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(utils.RequestLogger(logger), gin.Recovery(), api.CORS())

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "Mortgage Advisor API",
			"version": version,
		})
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	handler.RegisterRoutes(router)

	return router
}
