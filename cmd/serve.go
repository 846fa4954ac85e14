package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/wipfli/immich/internal/config"
	"github.com/wipfli/immich/internal/database"
	"github.com/wipfli/immich/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Start the immich search and people API.

Requests are scoped to the owner named in the X-Immich-User-Id header.
Prometheus metrics are served on /metrics.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (default WEB_PORT or 2283)")
	serveCmd.Flags().String("host", "", "Host to bind to (default WEB_HOST or 0.0.0.0)")
}

// resolveServeHostPort lets flags override the environment.
func resolveServeHostPort(cmd *cobra.Command, cfg *config.Config) {
	if port := mustGetInt(cmd, "port"); port != 0 {
		cfg.Server.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Server.Host = host
	}
}

// printHNSWStatus reports the in-memory index state of a repository.
func printHNSWStatus(name string, rebuilder database.HNSWRebuilder) {
	if rebuilder == nil {
		return
	}
	if rebuilder.IsHNSWEnabled() {
		fmt.Printf("%s HNSW index ready with %d entries\n", name, rebuilder.HNSWCount())
	} else {
		fmt.Printf("%s search uses PostgreSQL queries\n", name)
	}
}

// saveHNSWIndexes saves the enabled HNSW indexes to disk, reporting to w.
func saveHNSWIndexes(w io.Writer) {
	if rebuilder := database.GetFaceHNSWRebuilder(); rebuilder != nil && rebuilder.IsHNSWEnabled() {
		if err := rebuilder.SaveHNSWIndex(); err != nil {
			fmt.Fprintf(w, "Warning: failed to save face HNSW index: %v\n", err)
		} else {
			fmt.Fprintln(w, "Face HNSW index saved to disk")
		}
	}
	if rebuilder := database.GetSmartInfoHNSWRebuilder(); rebuilder != nil && rebuilder.IsHNSWEnabled() {
		if err := rebuilder.SaveHNSWIndex(); err != nil {
			fmt.Fprintf(w, "Warning: failed to save smart info HNSW index: %v\n", err)
		} else {
			fmt.Fprintln(w, "Smart info HNSW index saved to disk")
		}
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	resolveServeHostPort(cmd, cfg)
	setupLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Printf("Connecting to PostgreSQL database...\n")
	if err := initDatabase(ctx, cfg); err != nil {
		return err
	}
	defer closeDatabase()

	printHNSWStatus("Smart info", database.GetSmartInfoHNSWRebuilder())
	printHNSWStatus("Face", database.GetFaceHNSWRebuilder())

	svc, closeCache, err := newSearchService(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	persons, err := database.GetPersonWriter(ctx)
	if err != nil {
		return err
	}

	server := web.NewServer(cfg, web.Deps{
		Search:  svc,
		Persons: persons,
		Health:  database.GetHealthChecker(),
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		saveHNSWIndexes(os.Stdout)

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting immich API on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
