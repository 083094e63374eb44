package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dukerupert/recipes/internal/logging"
	"github.com/dukerupert/recipes/internal/server"
)

func main() {
	logger := logging.Setup(os.Getenv("RECIPES_LOG_LEVEL"))

	port := os.Getenv("RECIPES_PORT")
	if port == "" {
		port = "3000"
	}

	apiURL := os.Getenv("RECIPES_API_URI")
	if apiURL == "" {
		apiURL = "http://localhost:3040/api/"
	}

	staticDir := os.Getenv("RECIPES_STATIC_DIR")
	if staticDir == "" {
		staticDir = "../client/dist"
	}

	secret := os.Getenv("RECIPES_EXPRESS_SECRET")
	if secret == "" {
		slog.Warn("RECIPES_EXPRESS_SECRET not set, recipe previews will likely fail")
	}

	previewLimit := 0
	if v := os.Getenv("RECIPES_PREVIEW_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			slog.Error("invalid RECIPES_PREVIEW_LIMIT", "value", v, "error", err)
			os.Exit(1)
		}
		previewLimit = n
	}

	srv, err := server.New(server.Config{
		APIURL:            apiURL,
		StaticDir:         staticDir,
		Secret:            secret,
		ShoppingListLabel: os.Getenv("RECIPES_SHOPPING_LABEL"),
		PreviewLimit:      previewLimit,
	}, logger)
	if err != nil {
		slog.Error("failed to configure server", "error", err)
		os.Exit(1)
	}

	// WriteTimeout stays zero so proxied event streams are not cut off.
	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				srv.RateLimiter().Cleanup()
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	go func() {
		slog.Info("recipes web server starting", "addr", ":"+port, "api", apiURL, "static", staticDir)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	cleanupCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
