// README: Entry point; loads config, builds the engine, serves the API.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"haulmatch/internal/config"
	"haulmatch/internal/engine"
	"haulmatch/internal/httpapi"
	"haulmatch/internal/infra"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := infra.NewLogger()
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()
	logr := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Firebase.ProjectID == "" {
		logr.Fatal("HAUL_FIREBASE_PROJECT_ID is required")
	}
	fb, err := infra.NewFirebase(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		logr.Fatalw("firebase init failed", "error", err)
	}

	db, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		logr.Fatalw("postgres connect failed", "error", err)
	}
	defer db.Close()

	rdb := infra.NewRedis(cfg.Redis.Addr)
	defer func() { _ = rdb.Close() }()

	core := engine.New(cfg, engine.Deps{
		Log:   logr,
		DB:    db,
		Redis: rdb,
		Push:  fb.Messaging,
	})
	if err := core.Run(ctx); err != nil {
		logr.Fatalw("engine start failed", "error", err)
	}
	defer core.Close()

	router := httpapi.NewRouter(httpapi.RouterDeps{
		Log:      logr,
		Verifier: fb,
		Orders:   core.Orders,
		Holds:    core.Holds,
		Trips:    core.Trips,
		Fleet:    core.Fleet,
		Hub:      core.Hub,
	})
	server := httpapi.NewServer(cfg.HTTP.Addr, router, logr)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logr.Fatalw("http server failed", "error", err)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Warnw("http shutdown was not clean", "error", err)
	}
	logr.Infow("shutdown complete")
}
