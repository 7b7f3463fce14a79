package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/gapscan/internal/api"
	"github.com/wonny/gapscan/internal/api/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the monitoring API server",
	Long: `Starts the JSON monitoring server.

Endpoints:
  GET  /health                  - Health check
  GET  /api/scan/report         - Discoveries and day status for a date
  GET  /api/scan/retry-queue    - Days still flagged for a re-scan
  GET  /api/provider/health     - Terminal reachability and request tallies

Example:
  go run ./cmd/gapscan serve
  go run ./cmd/gapscan serve --port 8091`,
	RunE: runServe,
}

var servePort string

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&servePort, "port", "", "server port (default: PORT from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	deps, err := initDeps(ctx)
	if err != nil {
		return err
	}
	defer deps.Close()

	if servePort != "" {
		deps.cfg.Port = servePort
	}

	scanHandler := handlers.NewScanHandler(deps.hits, deps.completeness, deps.log)
	providerHandler := handlers.NewProviderHandler(deps.provider, deps.completeness, deps.log)
	router := api.NewRouter(scanHandler, providerHandler, deps.log)
	server := api.New(deps.cfg, deps.log, router)

	go func() {
		if err := server.Start(); err != nil {
			deps.log.WithError(err).Fatal("Failed to start server")
		}
	}()

	fmt.Printf("\n✅ Server running on http://localhost:%s\n", deps.cfg.Port)
	fmt.Println("\nAvailable endpoints:")
	fmt.Println("  GET  /health")
	fmt.Println("  GET  /api/scan/report?date=YYYY-MM-DD")
	fmt.Println("  GET  /api/scan/retry-queue")
	fmt.Println("  GET  /api/provider/health?date=YYYY-MM-DD")
	fmt.Println("\nPress Ctrl+C to stop")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
