package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/wipfli/immich/internal/database"
	apperrors "github.com/wipfli/immich/internal/errors"
)

// FaceRepository provides PostgreSQL-backed face storage with optional in-memory HNSW index.
type FaceRepository struct {
	*accelerator
	pool *Pool
	dim  int
}

// NewFaceRepository creates a face repository for vectors of length dim.
func NewFaceRepository(pool *Pool, dim int) *FaceRepository {
	r := &FaceRepository{pool: pool, dim: dim}
	r.accelerator = &accelerator{
		name:       "faces",
		dim:        dim,
		pool:       pool,
		countQuery: "SELECT COUNT(*) FROM asset_faces",
		stampQuery: "SELECT COUNT(*), MAX(updated_at) FROM asset_faces",
		entries:    r.indexEntries,
	}
	return r
}

// Dimension returns the accepted face vector length.
func (r *FaceRepository) Dimension() int {
	return r.dim
}

// SearchByEmbedding finds the owner's faces closest to the query vector.
func (r *FaceRepository) SearchByEmbedding(ctx context.Context, search database.EmbeddingSearch) ([]database.SearchMatch, error) {
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
		SELECT f.id, f.asset_id, f.embedding <=> $1::vector AS distance
		FROM asset_faces f
		JOIN assets a ON a.id = f.asset_id
		WHERE a.owner_id = $2 AND f.embedding <=> $1::vector <= $3
		ORDER BY distance, f.id
		LIMIT $4
	`
	return searchMatches(ctx, r.pool, query, search, func(rows *sql.Rows) (database.SearchMatch, error) {
		var m database.SearchMatch
		err := rows.Scan(&m.ID, &m.AssetID, &m.Distance)
		return m, err
	})
}

// UpsertFace creates or replaces a face on an asset owned by ownerID.
// An empty face id gets a new UUID.
func (r *FaceRepository) UpsertFace(ctx context.Context, ownerID string, face database.Face) error {
	if err := database.CheckDimension(r.dim, face.Embedding); err != nil {
		return err
	}
	if face.ID == "" {
		face.ID = uuid.NewString()
	}

	var personID any
	if face.HasPerson() {
		personID = *face.PersonID
	}

	b := face.BoundingBox
	query := `
		INSERT INTO asset_faces (id, asset_id, person_id, bbox_x1, bbox_y1, bbox_x2, bbox_y2,
		                         image_width, image_height, embedding)
		SELECT $1, a.id, $3, $4, $5, $6, $7, $8, $9, $10::vector
		FROM assets a
		WHERE a.id = $2 AND a.owner_id = $11
		ON CONFLICT (id) DO UPDATE SET
			asset_id = EXCLUDED.asset_id,
			person_id = EXCLUDED.person_id,
			bbox_x1 = EXCLUDED.bbox_x1,
			bbox_y1 = EXCLUDED.bbox_y1,
			bbox_x2 = EXCLUDED.bbox_x2,
			bbox_y2 = EXCLUDED.bbox_y2,
			image_width = EXCLUDED.image_width,
			image_height = EXCLUDED.image_height,
			embedding = EXCLUDED.embedding,
			updated_at = clock_timestamp()
	`
	res, err := r.pool.Exec(ctx, query,
		face.ID, face.AssetID, personID,
		b.X1, b.Y1, b.X2, b.Y2, b.ImageWidth, b.ImageHeight,
		pgvector.NewVector(face.Embedding), ownerID)
	switch sqlState(err) {
	case sqlStateUniqueViolation:
		return apperrors.Wrap(err, apperrors.CodeInvalidInput, "person already has a face on this asset",
			apperrors.Field("asset_id", face.AssetID), apperrors.Field("person_id", personID))
	case sqlStateForeignKeyViolation:
		return apperrors.Wrap(err, apperrors.CodeNotFound, "person not found", apperrors.Field("person_id", personID))
	}
	if err != nil {
		return fmt.Errorf("upsert face: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.NotFound("asset", face.AssetID)
	}

	if idx := r.active(); idx != nil {
		if err := idx.Add(database.IndexEntry{
			ID: face.ID, OwnerID: ownerID, AssetID: face.AssetID, Embedding: face.Embedding,
		}); err != nil {
			return fmt.Errorf("update HNSW index: %w", err)
		}
	}
	return nil
}

const faceColumns = `f.id, f.asset_id, f.person_id, f.bbox_x1, f.bbox_y1, f.bbox_x2, f.bbox_y2,
	f.image_width, f.image_height, f.embedding`

func scanFaces(rows *sql.Rows) ([]database.Face, error) {
	faces := []database.Face{}
	for rows.Next() {
		var (
			f        database.Face
			personID sql.NullString
			vec      pgvector.Vector
		)
		b := &f.BoundingBox
		if err := rows.Scan(&f.ID, &f.AssetID, &personID,
			&b.X1, &b.Y1, &b.X2, &b.Y2, &b.ImageWidth, &b.ImageHeight, &vec); err != nil {
			return nil, fmt.Errorf("scan face: %w", err)
		}
		if personID.Valid {
			f.PersonID = &personID.String
		}
		f.Embedding = vec.Slice()
		faces = append(faces, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate faces: %w", err)
	}
	return faces, nil
}

// indexEntries loads every face vector with its owner for the HNSW index.
func (r *FaceRepository) indexEntries(ctx context.Context) ([]database.IndexEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT f.id, f.asset_id, a.owner_id, f.embedding
		FROM asset_faces f
		JOIN assets a ON a.id = f.asset_id
		ORDER BY f.id
	`)
	if err != nil {
		return nil, fmt.Errorf("query face embeddings: %w", err)
	}
	defer rows.Close()

	var entries []database.IndexEntry
	for rows.Next() {
		var (
			e   database.IndexEntry
			vec pgvector.Vector
		)
		if err := rows.Scan(&e.ID, &e.AssetID, &e.OwnerID, &vec); err != nil {
			return nil, fmt.Errorf("scan face embedding: %w", err)
		}
		e.Embedding = vec.Slice()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate face embeddings: %w", err)
	}
	return entries, nil
}

// Verify interface compliance
var _ database.FaceStore = (*FaceRepository)(nil)
var _ database.HNSWRebuilder = (*FaceRepository)(nil)
