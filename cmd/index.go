package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/wipfli/immich/internal/config"
	"github.com/wipfli/immich/internal/database"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the in-memory HNSW indexes",
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the persisted HNSW indexes from PostgreSQL",
	Long: `Build the smart info and face HNSW indexes from PostgreSQL and save them
to HNSW_SMART_INFO_INDEX_PATH and HNSW_INDEX_PATH, so the next server start
loads them instead of building.

An index file whose content stamp (row count and latest update) matches the
database is reused unless --force is set.`,
	Args: cobra.NoArgs,
	RunE: runIndexRebuild,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexRebuildCmd)

	indexRebuildCmd.Flags().Bool("force", false, "Ignore existing index files")
}

// removeIndexFile deletes a stale index file; a missing file is fine.
func removeIndexFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}

func runIndexRebuild(cmd *cobra.Command, args []string) error {
	force := mustGetBool(cmd, "force")

	cfg := config.Load()
	if cfg.Database.HNSWIndexPath == "" && cfg.Database.HNSWSmartInfoIndexPath == "" {
		return errors.New("HNSW_INDEX_PATH or HNSW_SMART_INFO_INDEX_PATH is required")
	}
	if force {
		if err := removeIndexFile(cfg.Database.HNSWSmartInfoIndexPath); err != nil {
			return err
		}
		if err := removeIndexFile(cfg.Database.HNSWIndexPath); err != nil {
			return err
		}
	}

	// Initialize loads or builds the indexes when HNSW is on.
	cfg.Database.HNSW = true
	ctx := context.Background()
	fmt.Println("Building HNSW indexes from PostgreSQL...")
	if err := initDatabase(ctx, cfg); err != nil {
		return err
	}
	defer closeDatabase()

	indexes := []struct {
		name      string
		path      string
		rebuilder database.HNSWRebuilder
	}{
		{"smart info", cfg.Database.HNSWSmartInfoIndexPath, database.GetSmartInfoHNSWRebuilder()},
		{"face", cfg.Database.HNSWIndexPath, database.GetFaceHNSWRebuilder()},
	}

	bar := progressbar.NewOptions(len(indexes),
		progressbar.OptionSetDescription("Saving indexes"),
		progressbar.OptionShowCount(),
		progressbar.OptionFullWidth(),
	)

	var failed []string
	for _, idx := range indexes {
		_ = bar.Add(1)
		if idx.path == "" || idx.rebuilder == nil {
			continue
		}
		if !idx.rebuilder.IsHNSWEnabled() {
			failed = append(failed, idx.name)
			continue
		}
		if err := idx.rebuilder.SaveHNSWIndex(); err != nil {
			fmt.Printf("\nWarning: %v\n", err)
			failed = append(failed, idx.name)
			continue
		}
		fmt.Printf("\n%s index: %d entries saved to %s\n", idx.name, idx.rebuilder.HNSWCount(), idx.path)
	}

	if len(failed) > 0 {
		return fmt.Errorf("failed to build indexes: %v", failed)
	}
	return nil
}
