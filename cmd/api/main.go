package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"shopez/internal/cart"
	"shopez/internal/catalog"
	"shopez/internal/config"
	"shopez/internal/db"
	"shopez/internal/httpserver"
	"shopez/internal/localstore"
	"shopez/internal/provider"
	"shopez/internal/remotestore"
	"shopez/internal/session"
)

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.LUTC|log.Lshortfile)

	ctx := context.Background()
	dbpool, err := db.Connect(ctx, cfg.DBConnString)
	if err != nil {
		logger.Fatalf("connect to db: %v", err)
	}
	defer dbpool.Close()

	local, err := localstore.Open(cfg.LocalDBPath)
	if err != nil {
		logger.Fatalf("open local store: %v", err)
	}

	var remote remotestore.Client
	switch cfg.RemoteStore {
	case "firestore":
		remote, err = remotestore.NewFirestore(ctx, cfg.FirestoreProjectID, cfg.FirestoreCredentialsFile, logger)
		if err != nil {
			logger.Fatalf("init firestore: %v", err)
		}
	default:
		remote = remotestore.NewPostgres(dbpool, logger)
	}

	authProvider := provider.NewPostgres(dbpool, local, logger)
	// Restore before anyone subscribes, so the first auth-state fire
	// reports the persisted session instead of guest.
	authProvider.RestoreSession(ctx)

	sessionStore := session.New(authProvider, local, logger)
	cartStore := cart.New(remote, local, logger)
	// The cart must be observing before the session publishes its restore.
	if err := cartStore.Bind(sessionStore); err != nil {
		logger.Fatalf("bind cart to session: %v", err)
	}
	if err := sessionStore.Initialize(ctx); err != nil {
		logger.Fatalf("init session: %v", err)
	}
	defer sessionStore.Close()
	defer cartStore.Close()

	srv := httpserver.New(cfg.HTTPAddr, logger, httpserver.Deps{
		Session: sessionStore,
		Cart:    cartStore,
		Catalog: catalog.New(cfg.CatalogBaseURL, nil),
		DB:      dbpool,
	})

	serverErr := make(chan error, 1)
	go func() {
		logger.Printf("starting http server on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stopCh:
		logger.Printf("received signal %s, shutting down", sig)
	case err := <-serverErr:
		logger.Printf("server error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	} else {
		logger.Printf("server stopped")
	}
}
