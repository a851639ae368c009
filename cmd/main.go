// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stagepass/stagepass/internal/blob"
	"github.com/stagepass/stagepass/internal/cache"
	"github.com/stagepass/stagepass/internal/database"
	"github.com/stagepass/stagepass/internal/handler"
	"github.com/stagepass/stagepass/internal/repository"
	"github.com/stagepass/stagepass/internal/service"
	"github.com/stagepass/stagepass/internal/ticket"
)

func main() {
	ctx := context.Background()

	// ── 1. Connect to PostgreSQL and apply the schema ─────────────────────
	pool, err := database.NewPool(ctx)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Println("connected to PostgreSQL")

	// ── 2. Optional Redis availability cache ──────────────────────────────
	stats, err := cache.OpenFromEnv(ctx)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	if stats != nil {
		defer stats.Close()
		log.Println("availability cache enabled")
	}

	// ── 3. Blob store for issued tickets ──────────────────────────────────
	blobStore, err := blob.Open(ctx)
	if err != nil {
		log.Fatalf("blob store: %v", err)
	}
	log.Printf("ticket store using %s driver", blobStore.Driver())

	// ── 4. Wire up layers ──────────────────────────────────────────────────
	eventRepo := repository.NewEventRepository(pool)
	regRepo := repository.NewRegistrationRepository(pool)
	issuer := ticket.NewIssuer(blobStore)
	svc := service.NewTicketingService(eventRepo, regRepo, stats, issuer)
	r := handler.NewRouter(handler.NewTicketingHandler(svc))

	// ── 5. Start server with graceful shutdown ────────────────────────────
	port := getEnv("PORT", "8080")
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Run in background goroutine so we can listen for shutdown signal.
	go func() {
		log.Printf("server listening on http://localhost:%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Block until SIGINT or SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("graceful shutdown failed: %v", err)
	}
	log.Println("server stopped")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
