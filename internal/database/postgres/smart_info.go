package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/wipfli/immich/internal/database"
	apperrors "github.com/wipfli/immich/internal/errors"
)

// SmartInfoRepository provides PostgreSQL-backed CLIP embedding storage with
// an optional in-memory HNSW index.
type SmartInfoRepository struct {
	*accelerator
	pool *Pool
	dim  int
}

// NewSmartInfoRepository creates a smart info repository for vectors of length dim.
func NewSmartInfoRepository(pool *Pool, dim int) *SmartInfoRepository {
	r := &SmartInfoRepository{pool: pool, dim: dim}
	r.accelerator = &accelerator{
		name:       "smart_info",
		dim:        dim,
		pool:       pool,
		countQuery: "SELECT COUNT(*) FROM smart_info WHERE clip_embedding IS NOT NULL",
		stampQuery: "SELECT COUNT(*), MAX(updated_at) FROM smart_info WHERE clip_embedding IS NOT NULL",
		entries:    r.indexEntries,
	}
	return r
}

// Dimension returns the accepted CLIP vector length.
func (r *SmartInfoRepository) Dimension() int {
	return r.dim
}

// SearchByEmbedding finds the owner's assets closest to the query vector.
// Uses the in-memory HNSW index if enabled, otherwise pgvector.
func (r *SmartInfoRepository) SearchByEmbedding(ctx context.Context, search database.EmbeddingSearch) ([]database.SearchMatch, error) {
	if err := database.CheckDimension(r.dim, search.Embedding); err != nil {
		return nil, err
	}
	if search.NumResults <= 0 {
		return []database.SearchMatch{}, nil
	}
	if idx := r.active(); idx != nil {
		return idx.Search(search)
	}

	query := `
		SELECT s.asset_id, s.clip_embedding <=> $1::vector AS distance
		FROM smart_info s
		JOIN assets a ON a.id = s.asset_id
		WHERE a.owner_id = $2 AND s.clip_embedding IS NOT NULL
		  AND s.clip_embedding <=> $1::vector <= $3
		ORDER BY distance, s.asset_id
		LIMIT $4
	`
	return searchMatches(ctx, r.pool, query, search, func(rows *sql.Rows) (database.SearchMatch, error) {
		var m database.SearchMatch
		err := rows.Scan(&m.ID, &m.Distance)
		m.AssetID = m.ID
		return m, err
	})
}

// searchMatches runs an exact nearest neighbour query over the owner's rows.
// The query takes the vector, owner, cutoff and limit as $1 to $4.
func searchMatches(
	ctx context.Context, pool *Pool, query string, search database.EmbeddingSearch,
	scan func(*sql.Rows) (database.SearchMatch, error),
) ([]database.SearchMatch, error) {
	rows, err := pool.Query(ctx, query,
		pgvector.NewVector(search.Embedding), search.OwnerID, search.MaxDistance, search.NumResults)
	if err != nil {
		return nil, fmt.Errorf("query nearest neighbours: %w", err)
	}
	defer rows.Close()

	matches := []database.SearchMatch{}
	for rows.Next() {
		m, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate matches: %w", err)
	}
	return matches, nil
}

// Upsert creates or replaces the smart info of an asset in one statement.
// A nil CLIPEmbedding keeps the stored vector.
func (r *SmartInfoRepository) Upsert(ctx context.Context, ownerID string, info database.SmartInfo) error {
	var vec any
	if info.CLIPEmbedding != nil {
		if err := database.CheckDimension(r.dim, info.CLIPEmbedding); err != nil {
			return err
		}
		vec = pgvector.NewVector(info.CLIPEmbedding)
	}

	query := `
		INSERT INTO smart_info (asset_id, tags, objects, clip_embedding)
		SELECT a.id, $2, $3, $4::vector
		FROM assets a
		WHERE a.id = $1 AND a.owner_id = $5
		ON CONFLICT (asset_id) DO UPDATE SET
			tags = EXCLUDED.tags,
			objects = EXCLUDED.objects,
			clip_embedding = COALESCE(EXCLUDED.clip_embedding, smart_info.clip_embedding),
			updated_at = clock_timestamp()
	`
	res, err := r.pool.Exec(ctx, query,
		info.AssetID, pq.Array(nonNil(info.Tags)), pq.Array(nonNil(info.Objects)), vec, ownerID)
	if err != nil {
		return fmt.Errorf("upsert smart info: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.NotFound("asset", info.AssetID)
	}

	if idx := r.active(); idx != nil && info.CLIPEmbedding != nil {
		if err := idx.Add(database.IndexEntry{
			ID: info.AssetID, OwnerID: ownerID, AssetID: info.AssetID, Embedding: info.CLIPEmbedding,
		}); err != nil {
			return fmt.Errorf("update HNSW index: %w", err)
		}
	}
	return nil
}

// Get returns the smart info for an asset, nil if missing.
func (r *SmartInfoRepository) Get(ctx context.Context, assetID string) (*database.SmartInfo, error) {
	var (
		info database.SmartInfo
		vec  *pgvector.Vector
	)
	err := r.pool.QueryRow(ctx,
		"SELECT asset_id, tags, objects, clip_embedding FROM smart_info WHERE asset_id = $1", assetID,
	).Scan(&info.AssetID, pq.Array(&info.Tags), pq.Array(&info.Objects), &vec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get smart info: %w", err)
	}
	if vec != nil {
		info.CLIPEmbedding = vec.Slice()
	}
	return &info, nil
}

// Count returns the number of stored image embeddings.
func (r *SmartInfoRepository) Count(ctx context.Context) (int, error) {
	return r.dbCount(ctx)
}

// indexEntries loads every stored vector with its owner for the HNSW index.
func (r *SmartInfoRepository) indexEntries(ctx context.Context) ([]database.IndexEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.asset_id, a.owner_id, s.clip_embedding
		FROM smart_info s
		JOIN assets a ON a.id = s.asset_id
		WHERE s.clip_embedding IS NOT NULL
		ORDER BY s.asset_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query smart info embeddings: %w", err)
	}
	defer rows.Close()

	var entries []database.IndexEntry
	for rows.Next() {
		var (
			e   database.IndexEntry
			vec pgvector.Vector
		)
		if err := rows.Scan(&e.ID, &e.OwnerID, &vec); err != nil {
			return nil, fmt.Errorf("scan smart info embedding: %w", err)
		}
		e.AssetID = e.ID
		e.Embedding = vec.Slice()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate smart info embeddings: %w", err)
	}
	return entries, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Verify interface compliance
var _ database.SmartInfoStore = (*SmartInfoRepository)(nil)
var _ database.HNSWRebuilder = (*SmartInfoRepository)(nil)
