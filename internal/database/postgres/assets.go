package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/wipfli/immich/internal/database"
	apperrors "github.com/wipfli/immich/internal/errors"
)

// AssetRepository serves the asset metadata lookups of search and explore.
type AssetRepository struct {
	pool *Pool
}

// NewAssetRepository creates an asset repository.
func NewAssetRepository(pool *Pool) *AssetRepository {
	return &AssetRepository{pool: pool}
}

const assetColumns = "a.id, a.owner_id, a.original_file_name, COALESCE(a.city, ''), a.file_created_at, a.is_archived"

func scanAssets(rows *sql.Rows) ([]database.Asset, error) {
	assets := []database.Asset{}
	for rows.Next() {
		var a database.Asset
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.OriginalFileName, &a.City, &a.FileCreatedAt, &a.IsArchived); err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assets: %w", err)
	}
	return assets, nil
}

// UpsertAsset creates or replaces an asset.
func (r *AssetRepository) UpsertAsset(ctx context.Context, asset database.Asset) error {
	if asset.ID == "" || asset.OwnerID == "" {
		return apperrors.New(apperrors.CodeInvalidInput, "asset id and owner are required")
	}

	var city any
	if asset.City != "" {
		city = asset.City
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO assets (id, owner_id, original_file_name, city, file_created_at, is_archived)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			original_file_name = EXCLUDED.original_file_name,
			city = EXCLUDED.city,
			file_created_at = EXCLUDED.file_created_at,
			is_archived = EXCLUDED.is_archived
	`, asset.ID, asset.OwnerID, asset.OriginalFileName, city, asset.FileCreatedAt, asset.IsArchived)
	if err != nil {
		return fmt.Errorf("upsert asset: %w", err)
	}
	return nil
}

// GetByIDs returns the assets that exist among ids, in the order given.
func (r *AssetRepository) GetByIDs(ctx context.Context, ids []string) ([]database.Asset, error) {
	if len(ids) == 0 {
		return []database.Asset{}, nil
	}

	rows, err := r.pool.Query(ctx, "SELECT "+assetColumns+" FROM assets a WHERE a.id = ANY($1)", pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query assets by ids: %w", err)
	}
	defer rows.Close()

	found, err := scanAssets(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]database.Asset, len(found))
	for _, a := range found {
		byID[a.ID] = a
	}
	out := make([]database.Asset, 0, len(found))
	for _, id := range ids {
		if a, ok := byID[id]; ok {
			out = append(out, a)
			delete(byID, id)
		}
	}
	return out, nil
}

// GetAssetIDsByCity groups the owner's assets by city. Each value carries the
// id of its most recent asset.
func (r *AssetRepository) GetAssetIDsByCity(ctx context.Context, ownerID string, opts database.ExploreOptions) (database.SearchExploreField[string], error) {
	return r.exploreField(ctx, "exifInfo.city", `
		SELECT a.city AS value, (ARRAY_AGG(a.id ORDER BY a.file_created_at DESC, a.id COLLATE "C"))[1]
		FROM assets a
		WHERE a.owner_id = $1 AND NOT a.is_archived AND a.city IS NOT NULL AND a.city <> ''
		GROUP BY a.city
		HAVING COUNT(*) >= $2
		ORDER BY COUNT(*) DESC, a.city COLLATE "C"
		LIMIT $3
	`, ownerID, opts)
}

// GetAssetIDsByTag groups the owner's assets by smart info tag.
func (r *AssetRepository) GetAssetIDsByTag(ctx context.Context, ownerID string, opts database.ExploreOptions) (database.SearchExploreField[string], error) {
	return r.exploreField(ctx, "smartInfo.tags", `
		SELECT t.tag AS value, (ARRAY_AGG(a.id ORDER BY a.file_created_at DESC, a.id COLLATE "C"))[1]
		FROM smart_info s
		JOIN assets a ON a.id = s.asset_id
		CROSS JOIN LATERAL (SELECT DISTINCT UNNEST(s.tags) AS tag) t
		WHERE a.owner_id = $1 AND NOT a.is_archived
		GROUP BY t.tag
		HAVING COUNT(*) >= $2
		ORDER BY COUNT(*) DESC, t.tag COLLATE "C"
		LIMIT $3
	`, ownerID, opts)
}

func (r *AssetRepository) exploreField(ctx context.Context, fieldName, query, ownerID string, opts database.ExploreOptions) (database.SearchExploreField[string], error) {
	field := database.SearchExploreField[string]{FieldName: fieldName, Items: []database.SearchExploreItem[string]{}}

	rows, err := r.pool.Query(ctx, query, ownerID, opts.MinAssetsPerField, sqlLimit(opts.MaxFields))
	if err != nil {
		return field, fmt.Errorf("query %s groups: %w", fieldName, err)
	}
	defer rows.Close()

	for rows.Next() {
		var item database.SearchExploreItem[string]
		if err := rows.Scan(&item.Value, &item.Data); err != nil {
			return field, fmt.Errorf("scan %s group: %w", fieldName, err)
		}
		field.Items = append(field.Items, item)
	}
	if err := rows.Err(); err != nil {
		return field, fmt.Errorf("iterate %s groups: %w", fieldName, err)
	}
	return field, nil
}

// SearchText matches an already normalized query against file name, city,
// tags and objects, most recent first. "*" matches everything.
func (r *AssetRepository) SearchText(ctx context.Context, ownerID, query string, limit int) ([]database.Asset, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if query == "*" {
		rows, err = r.pool.Query(ctx, `
			SELECT `+assetColumns+`
			FROM assets a
			WHERE a.owner_id = $1 AND NOT a.is_archived
			ORDER BY a.file_created_at DESC, a.id COLLATE "C"
			LIMIT $2
		`, ownerID, sqlLimit(limit))
	} else {
		rows, err = r.pool.Query(ctx, `
			SELECT `+assetColumns+`
			FROM assets a
			LEFT JOIN smart_info s ON s.asset_id = a.id
			WHERE a.owner_id = $1 AND NOT a.is_archived AND (
				immich_normalize(a.original_file_name) LIKE $2
				OR immich_normalize(COALESCE(a.city, '')) LIKE $2
				OR EXISTS (
					SELECT 1 FROM UNNEST(COALESCE(s.tags, '{}') || COALESCE(s.objects, '{}')) v
					WHERE immich_normalize(v) LIKE $2
				)
			)
			ORDER BY a.file_created_at DESC, a.id COLLATE "C"
			LIMIT $3
		`, ownerID, likePattern(query), sqlLimit(limit))
	}
	if err != nil {
		return nil, fmt.Errorf("search assets by text: %w", err)
	}
	defer rows.Close()

	return scanAssets(rows)
}

// sqlLimit maps a non-positive limit to NULL, which PostgreSQL treats as no limit.
func sqlLimit(n int) any {
	if n <= 0 {
		return nil
	}
	return n
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern builds a substring LIKE pattern with wildcards escaped.
func likePattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

// Verify interface compliance
var _ database.AssetWriter = (*AssetRepository)(nil)
