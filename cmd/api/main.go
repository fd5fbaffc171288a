package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobarin/fragment/internal/api"
	"github.com/bobarin/fragment/internal/app"
	"github.com/bobarin/fragment/internal/config"
)

func main() {
	log.Printf("Starting Fragment API %s...", app.Version)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Build the pipeline
	a, err := app.New(cfg, app.Options{Journal: true})
	if err != nil {
		log.Fatalf("Failed to initialize pipeline: %v", err)
	}
	defer a.Close()

	// Create API handler
	handler := api.NewHandler(a.Orchestrator, a.Registry, api.Info{
		Version:     app.Version,
		Environment: cfg.Environment,
	})
	router := api.NewRouter(handler, api.RouterConfig{
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
		OutputDir:          a.Store.Root(),
		PublicBasePath:     cfg.PublicBasePath,
		RequestTimeout:     60 * time.Second,
	})

	// Start HTTP server
	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Shutdown HTTP server
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// Give a running job the rest of the grace period
	if err := a.Orchestrator.Shutdown(ctx); err != nil {
		log.Printf("WARNING: %v (it will be marked interrupted on next start)", err)
	}

	log.Println("Server exited")
}
