/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the Warp Compensation Engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (optional) and parse command-line flags
  2. Initialize SQLite store
  3. Load the active plan (seeding the default plan on first boot)
  4. Wire the run orchestrator and API handler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080, env PORT)
  -db      SQLite database path (default: compensation.db, env DATABASE_PATH)
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/warp.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Run on different port
  ./server -port=3000

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - orchestrator/orchestrator.go: Monthly run pipeline
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/warp/compensation-engine/api"
	"github.com/warp/compensation-engine/commission"
	"github.com/warp/compensation-engine/engine"
	"github.com/warp/compensation-engine/factory"
	"github.com/warp/compensation-engine/orchestrator"
	"github.com/warp/compensation-engine/store/sqlite"
)

func main() {
	// .env is optional; flags win over environment.
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envString("DATABASE_PATH", "compensation.db"), "SQLite database path")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Load the active plan, seeding the default on first boot.
	plan, err := loadPlan(context.Background(), store)
	if err != nil {
		log.Fatalf("Failed to load plan: %v", err)
	}
	log.Printf("[Plan] Using %s v%d (%s)", plan.ID, plan.Version, plan.Name)

	// Wire the run pipeline
	orch := orchestrator.New(orchestrator.Options{
		Graph:     store,
		Orders:    store.Orders(),
		Snapshots: store.Snapshots(),
		Records:   store.Records(),
		Batches:   store.Batches(),
		Runs:      store.Runs(),
		Plan:      plan,
		Registry:  commission.DefaultRegistry(),
	})

	// Initialize handler and router
	handler := api.NewHandler(store, store, orch, plan)
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d", *port)
		log.Printf("📊 API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// loadPlan returns the latest persisted plan, writing the default plan
// on an empty database so every run records a stored plan version.
func loadPlan(ctx context.Context, store *sqlite.Store) (*engine.Plan, error) {
	def := factory.DefaultPlan()
	plan, err := store.LatestPlan(ctx, def.ID)
	if err == nil {
		return plan, nil
	}
	if !errors.Is(err, engine.ErrNotFound) {
		return nil, err
	}
	if err := store.SavePlan(ctx, def); err != nil {
		return nil, err
	}
	log.Printf("[Plan] Seeded default plan %s v%d", def.ID, def.Version)
	return def, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
