package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"thoth/internal/api"
	"thoth/internal/assets"
	"thoth/internal/auth"
	"thoth/internal/chat"
	"thoth/internal/config"
	"thoth/internal/logging"
	"thoth/internal/page"
	"thoth/internal/redis"
	"thoth/internal/session"
	"thoth/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("warning: failed to load .env file: %v", err)
	}

	cfg, err := config.Load(os.Getenv("THOTH_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if addr := os.Getenv("THOTH_ADDR"); addr != "" {
		cfg.BasicConfig.ServerAddress = addr
	}
	logger := logging.New(os.Stdout, cfg.BasicConfig.LogLevel, cfg.BasicConfig.LogFormat)

	dbType := os.Getenv("THOTH_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		logging.Fatal(ctx, logger, "open database", "driver", dbType, "error", err)
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		logging.Fatal(ctx, logger, "migrate database", "driver", dbType, "error", err)
	}

	var store session.Store
	switch cfg.BasicConfig.SessionStore {
	case "redis":
		rdb, err := redis.NewRedisClient(ctx, cfg)
		if err != nil {
			logging.Fatal(ctx, logger, "create redis client", "error", err)
		}
		defer rdb.Close()
		store = session.NewRedisStore(rdb, cfg.BasicConfig.SessionTTL())
	default:
		mem := session.NewMemoryStore(cfg.BasicConfig.SessionTTL())
		mem.StartJanitor(ctx, session.DefaultCleanupInterval)
		store = mem
	}

	loader := assets.NewLoader(cfg.BasicConfig.AssetsDir)
	for _, name := range []string{assets.Background, assets.Sample} {
		if _, err := loader.DataURI(name); err != nil {
			logger.Warn(ctx, "asset unavailable, pages using it will fail", "asset", name, "error", err)
		}
	}

	authService := auth.NewService(storage.NewUserStore(db), cfg.BasicConfig.BcryptCost)
	responder := chat.NewStub(chat.WithDelay(cfg.BasicConfig.TokenDelay()))
	handlers := api.NewHandler(
		page.NewController(authService, responder),
		authService,
		session.NewManager(store, logger),
		loader,
		db,
		logger,
	)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	logger.Info(ctx, "thoth listening", "addr", srv.Addr, "db", dbType, "session_store", cfg.BasicConfig.SessionStore)
	if err := runServer(ctx, srv); err != nil {
		logging.Fatal(ctx, logger, "server stopped", "error", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
