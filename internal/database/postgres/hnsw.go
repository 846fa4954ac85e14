package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wipfli/immich/internal/database"
)

// accelerator is the optional in-memory HNSW index shared by the smart info and
// face repositories. When enabled, searches are answered from memory and
// upserts keep the graph current.
type accelerator struct {
	name       string
	dim        int
	pool       *Pool
	countQuery string
	stampQuery string // returns the row count and the latest updated_at
	entries    func(ctx context.Context) ([]database.IndexEntry, error)

	mu        sync.RWMutex
	index     *database.HNSWIndex
	enabled   bool
	indexPath string // optional persistence path
}

// active returns the index when enabled, nil otherwise.
func (a *accelerator) active() *database.HNSWIndex {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.enabled {
		return nil
	}
	return a.index
}

func (a *accelerator) dbCount(ctx context.Context) (int, error) {
	var n int
	if err := a.pool.QueryRow(ctx, a.countQuery).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s embeddings: %w", a.name, err)
	}
	return n, nil
}

// dbStamp identifies the current vector contents. A replaced vector moves
// the latest updated_at even when the count stays the same.
func (a *accelerator) dbStamp(ctx context.Context) (string, error) {
	var (
		n      int
		latest sql.NullTime
	)
	if err := a.pool.QueryRow(ctx, a.stampQuery).Scan(&n, &latest); err != nil {
		return "", fmt.Errorf("stamp %s embeddings: %w", a.name, err)
	}
	return contentStamp(n, latest), nil
}

func contentStamp(n int, latest sql.NullTime) string {
	if !latest.Valid {
		return fmt.Sprintf("%d@-", n)
	}
	return fmt.Sprintf("%d@%s", n, latest.Time.UTC().Format(time.RFC3339Nano))
}

// tryLoad restores a persisted index when its stamp still matches the database.
func (a *accelerator) tryLoad(indexPath, stamp string) *database.HNSWIndex {
	meta, err := database.LoadHNSWMetadata(indexPath)
	if err != nil {
		slog.Debug("no persisted HNSW index", "index", a.name, "path", indexPath, "error", err)
		return nil
	}
	if meta.Stamp != stamp {
		slog.Info("persisted HNSW index is stale, rebuilding",
			"index", a.name, "indexed", meta.Stamp, "database", stamp)
		return nil
	}

	idx := database.NewHNSWIndex(a.dim)
	if err := idx.Load(indexPath); err != nil {
		slog.Warn("failed to load HNSW index, rebuilding", "index", a.name, "path", indexPath, "error", err)
		return nil
	}
	return idx
}

// EnableHNSW loads or builds the in-memory index. If indexPath is set it is
// tried first, and a freshly built index is saved there.
func (a *accelerator) EnableHNSW(ctx context.Context, indexPath string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.indexPath = indexPath

	stamp, err := a.dbStamp(ctx)
	if err != nil {
		return err
	}

	if indexPath != "" {
		if idx := a.tryLoad(indexPath, stamp); idx != nil {
			a.index = idx
			a.enabled = true
			slog.Info("loaded HNSW index", "index", a.name, "entries", idx.Count())
			return nil
		}
	}

	entries, err := a.entries(ctx)
	if err != nil {
		return fmt.Errorf("failed to load %s embeddings: %w", a.name, err)
	}

	idx := database.NewHNSWIndex(a.dim)
	if err := idx.Build(entries); err != nil {
		return fmt.Errorf("failed to build %s HNSW index: %w", a.name, err)
	}

	if indexPath != "" && len(entries) > 0 {
		if err := idx.Save(indexPath, stamp); err != nil {
			slog.Warn("failed to save HNSW index to disk", "index", a.name, "error", err)
		}
	}

	a.index = idx
	a.enabled = true
	slog.Info("built HNSW index", "index", a.name, "entries", len(entries))
	return nil
}

// DisableHNSW drops the in-memory index; searches go to pgvector again.
func (a *accelerator) DisableHNSW() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = false
	a.index = nil
}

// IsHNSWEnabled returns whether the in-memory HNSW index is enabled
func (a *accelerator) IsHNSWEnabled() bool {
	return a.active() != nil
}

// HNSWCount returns the number of entries in the HNSW index
func (a *accelerator) HNSWCount() int {
	if idx := a.active(); idx != nil {
		return idx.Count()
	}
	return 0
}

// RebuildHNSW rebuilds the HNSW index from PostgreSQL data
func (a *accelerator) RebuildHNSW(ctx context.Context) error {
	a.mu.RLock()
	indexPath := a.indexPath
	a.mu.RUnlock()
	return a.EnableHNSW(ctx, indexPath)
}

// SaveHNSWIndex saves the current HNSW index to disk (if path configured).
// The stamp is read before the graph is written, so a concurrent upsert can
// only make the saved index look stale, never fresh.
func (a *accelerator) SaveHNSWIndex() error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.indexPath == "" || a.index == nil {
		slog.Debug("HNSW index save skipped", "index", a.name)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveStampTimeout)
	defer cancel()
	stamp, err := a.dbStamp(ctx)
	if err != nil {
		return err
	}

	if err := a.index.Save(a.indexPath, stamp); err != nil {
		return fmt.Errorf("saving %s HNSW index: %w", a.name, err)
	}
	slog.Info("saved HNSW index", "index", a.name, "path", a.indexPath, "entries", a.index.Count())
	return nil
}

const saveStampTimeout = 30 * time.Second
