//go:build integration

package postgres

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/wipfli/immich/internal/config"
	"github.com/wipfli/immich/internal/database"
	apperrors "github.com/wipfli/immich/internal/errors"
)

const testDim = 512

func setupTestContainer(t *testing.T) (*Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}
	if container == nil {
		t.Skip("Docker not available, skipping integration test")
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	cfg := &config.DatabaseConfig{
		URL:          fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port()),
		MaxOpenConns: 10,
		MaxIdleConns: 2,
	}

	pool, err := NewPool(cfg)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to create pool: %v", err)
	}

	if _, err := pool.Migrate(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		container.Terminate(ctx)
	}

	return pool, cleanup
}

// unitVector returns a testDim vector pointing mostly along axis i.
func unitVector(i int, noise float32) []float32 {
	v := make([]float32, testDim)
	v[i%testDim] = 1
	v[(i+1)%testDim] = noise
	return v
}

func seedAssets(t *testing.T, ctx context.Context, assets *AssetRepository, owner string, ids ...string) {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range ids {
		err := assets.UpsertAsset(ctx, database.Asset{
			ID: id, OwnerID: owner, OriginalFileName: id + ".jpg", FileCreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("Failed to seed asset %s: %v", id, err)
		}
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	applied, err := pool.Migrate(context.Background())
	if err != nil {
		t.Fatalf("Second migrate failed: %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("Expected no pending migrations, got %v", applied)
	}
}

func TestSmartInfoRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	assets := NewAssetRepository(pool)
	repo := NewSmartInfoRepository(pool, testDim)

	seedAssets(t, ctx, assets, "u1", "a1", "a2", "a3")
	seedAssets(t, ctx, assets, "u2", "b1")

	for id, vec := range map[string][]float32{
		"a1": unitVector(0, 0),
		"a2": unitVector(0, 0.2),
		"a3": unitVector(5, 0),
	} {
		if err := repo.Upsert(ctx, "u1", database.SmartInfo{AssetID: id, Tags: []string{"beach"}, CLIPEmbedding: vec}); err != nil {
			t.Fatalf("Failed to upsert %s: %v", id, err)
		}
	}
	if err := repo.Upsert(ctx, "u2", database.SmartInfo{AssetID: "b1", CLIPEmbedding: unitVector(0, 0)}); err != nil {
		t.Fatalf("Failed to upsert b1: %v", err)
	}

	t.Run("SearchIsOwnerScopedOrderedAndCut", func(t *testing.T) {
		matches, err := repo.SearchByEmbedding(ctx, database.EmbeddingSearch{
			OwnerID: "u1", Embedding: unitVector(0, 0), NumResults: 10, MaxDistance: 0.25,
		})
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if len(matches) != 2 {
			t.Fatalf("Expected 2 matches, got %d: %+v", len(matches), matches)
		}
		if matches[0].ID != "a1" || matches[1].ID != "a2" {
			t.Errorf("Unexpected order: %+v", matches)
		}
		for i, m := range matches {
			if m.Distance > 0.25 {
				t.Errorf("Match %d beyond cutoff: %f", i, m.Distance)
			}
		}
	})

	t.Run("EmptyOwner", func(t *testing.T) {
		matches, err := repo.SearchByEmbedding(ctx, database.EmbeddingSearch{
			OwnerID: "nobody", Embedding: unitVector(0, 0), NumResults: 10, MaxDistance: 2,
		})
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if len(matches) != 0 {
			t.Errorf("Expected empty result, got %+v", matches)
		}
	})

	t.Run("DimensionMismatchKeepsPriorState", func(t *testing.T) {
		err := repo.Upsert(ctx, "u1", database.SmartInfo{AssetID: "a1", CLIPEmbedding: []float32{1, 2, 3}})
		if !apperrors.HasCode(err, apperrors.CodeDimensionMismatch) {
			t.Fatalf("Expected DimensionMismatch, got %v", err)
		}
		got, err := repo.Get(ctx, "a1")
		if err != nil || got == nil {
			t.Fatalf("Failed to get a1: %v", err)
		}
		if len(got.CLIPEmbedding) != testDim || got.CLIPEmbedding[0] != 1 {
			t.Error("Prior embedding changed")
		}
	})

	t.Run("OwnerMismatchIsNotFound", func(t *testing.T) {
		err := repo.Upsert(ctx, "u2", database.SmartInfo{AssetID: "a1", CLIPEmbedding: unitVector(1, 0)})
		if !apperrors.HasCode(err, apperrors.CodeNotFound) {
			t.Fatalf("Expected NotFound, got %v", err)
		}
	})

	t.Run("HNSWMatchesPgvector", func(t *testing.T) {
		search := database.EmbeddingSearch{OwnerID: "u1", Embedding: unitVector(0, 0.1), NumResults: 2, MaxDistance: 1}
		want, err := repo.SearchByEmbedding(ctx, search)
		if err != nil {
			t.Fatalf("pgvector search failed: %v", err)
		}

		indexPath := filepath.Join(t.TempDir(), "smart_info.hnsw")
		if err := repo.EnableHNSW(ctx, indexPath); err != nil {
			t.Fatalf("EnableHNSW failed: %v", err)
		}
		defer repo.DisableHNSW()

		if repo.HNSWCount() != 4 {
			t.Errorf("Expected 4 indexed entries, got %d", repo.HNSWCount())
		}

		got, err := repo.SearchByEmbedding(ctx, search)
		if err != nil {
			t.Fatalf("HNSW search failed: %v", err)
		}
		if len(got) != len(want) {
			t.Fatalf("HNSW returned %d matches, pgvector %d", len(got), len(want))
		}
		for i := range got {
			if got[i].ID != want[i].ID {
				t.Errorf("Match %d: HNSW %s, pgvector %s", i, got[i].ID, want[i].ID)
			}
		}
	})
}

func TestSmartInfoSearchOwnerOutrankedByOthers(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	assets := NewAssetRepository(pool)
	repo := NewSmartInfoRepository(pool, testDim)

	crowd := make([]string, 300)
	for i := range crowd {
		crowd[i] = fmt.Sprintf("crowd-%03d", i)
	}
	seedAssets(t, ctx, assets, "u1", crowd...)
	seedAssets(t, ctx, assets, "u2", "lone")

	for i, id := range crowd {
		if err := repo.Upsert(ctx, "u1", database.SmartInfo{AssetID: id, CLIPEmbedding: unitVector(0, float32(i)*0.0001)}); err != nil {
			t.Fatalf("Failed to upsert %s: %v", id, err)
		}
	}
	if err := repo.Upsert(ctx, "u2", database.SmartInfo{AssetID: "lone", CLIPEmbedding: unitVector(0, 0.3)}); err != nil {
		t.Fatalf("Failed to upsert lone: %v", err)
	}

	search := database.EmbeddingSearch{OwnerID: "u2", Embedding: unitVector(0, 0), NumResults: 10, MaxDistance: 0.5}
	check := func(t *testing.T) {
		matches, err := repo.SearchByEmbedding(ctx, search)
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if len(matches) != 1 || matches[0].ID != "lone" {
			t.Fatalf("Expected the lone u2 match, got %+v", matches)
		}
	}

	t.Run("Pgvector", check)
	t.Run("HNSW", func(t *testing.T) {
		if err := repo.EnableHNSW(ctx, ""); err != nil {
			t.Fatalf("EnableHNSW failed: %v", err)
		}
		defer repo.DisableHNSW()
		check(t)
	})
}

func TestSmartInfoPersistedIndexTracksReplacedVectors(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	assets := NewAssetRepository(pool)
	seedAssets(t, ctx, assets, "u1", "a1", "a2")

	indexPath := filepath.Join(t.TempDir(), "smart_info.hnsw")
	first := NewSmartInfoRepository(pool, testDim)
	for id, vec := range map[string][]float32{"a1": unitVector(0, 0), "a2": unitVector(5, 0)} {
		if err := first.Upsert(ctx, "u1", database.SmartInfo{AssetID: id, CLIPEmbedding: vec}); err != nil {
			t.Fatalf("Failed to upsert %s: %v", id, err)
		}
	}
	if err := first.EnableHNSW(ctx, indexPath); err != nil {
		t.Fatalf("EnableHNSW failed: %v", err)
	}
	first.DisableHNSW()

	// Another process replaces a1 without touching the index file.
	if err := NewSmartInfoRepository(pool, testDim).Upsert(ctx, "u1",
		database.SmartInfo{AssetID: "a1", CLIPEmbedding: unitVector(9, 0)}); err != nil {
		t.Fatalf("Failed to replace a1: %v", err)
	}

	second := NewSmartInfoRepository(pool, testDim)
	if err := second.EnableHNSW(ctx, indexPath); err != nil {
		t.Fatalf("EnableHNSW failed: %v", err)
	}
	defer second.DisableHNSW()

	matches, err := second.SearchByEmbedding(ctx, database.EmbeddingSearch{
		OwnerID: "u1", Embedding: unitVector(9, 0), NumResults: 1, MaxDistance: 0.1,
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "a1" || matches[0].Distance > 1e-6 {
		t.Fatalf("Expected a1 at distance 0 after replacement, got %+v", matches)
	}
}

func TestAssetRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	assets := NewAssetRepository(pool)
	smartInfo := NewSmartInfoRepository(pool, testDim)

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, a := range []database.Asset{
		{ID: "a1", City: "Nice", OriginalFileName: "Plage-été.jpg"},
		{ID: "a2", City: "Nice", OriginalFileName: "IMG_0002.jpg"},
		{ID: "a3", City: "Paris", OriginalFileName: "IMG_0003.jpg"},
	} {
		a.OwnerID = "u1"
		a.FileCreatedAt = base.Add(time.Duration(i) * time.Hour)
		if err := assets.UpsertAsset(ctx, a); err != nil {
			t.Fatalf("Failed to upsert asset: %v", err)
		}
	}
	if err := smartInfo.Upsert(ctx, "u1", database.SmartInfo{AssetID: "a3", Tags: []string{"tower"}, Objects: []string{"Eiffel Tower"}}); err != nil {
		t.Fatalf("Failed to upsert smart info: %v", err)
	}

	t.Run("GetByIDsKeepsOrder", func(t *testing.T) {
		got, err := assets.GetByIDs(ctx, []string{"a3", "missing", "a1"})
		if err != nil {
			t.Fatalf("GetByIDs failed: %v", err)
		}
		if len(got) != 2 || got[0].ID != "a3" || got[1].ID != "a1" {
			t.Errorf("Unexpected assets: %+v", got)
		}
	})

	t.Run("CityGroups", func(t *testing.T) {
		field, err := assets.GetAssetIDsByCity(ctx, "u1", database.ExploreOptions{MaxFields: 12, MinAssetsPerField: 2})
		if err != nil {
			t.Fatalf("GetAssetIDsByCity failed: %v", err)
		}
		if len(field.Items) != 1 || field.Items[0].Value != "Nice" || field.Items[0].Data != "a2" {
			t.Errorf("Unexpected city groups: %+v", field)
		}
	})

	t.Run("TagGroups", func(t *testing.T) {
		field, err := assets.GetAssetIDsByTag(ctx, "u1", database.ExploreOptions{MaxFields: 12, MinAssetsPerField: 1})
		if err != nil {
			t.Fatalf("GetAssetIDsByTag failed: %v", err)
		}
		if field.FieldName != "smartInfo.tags" || len(field.Items) != 1 || field.Items[0].Data != "a3" {
			t.Errorf("Unexpected tag groups: %+v", field)
		}
	})

	t.Run("SearchText", func(t *testing.T) {
		tests := []struct {
			query string
			want  []string
		}{
			{"plage ete", []string{"a1"}},
			{"eiffel", []string{"a3"}},
			{"nice", []string{"a2", "a1"}},
			{"*", []string{"a3", "a2", "a1"}},
			{"100%", nil},
		}
		for _, tc := range tests {
			got, err := assets.SearchText(ctx, "u1", tc.query, 100)
			if err != nil {
				t.Fatalf("SearchText(%q) failed: %v", tc.query, err)
			}
			var ids []string
			for _, a := range got {
				ids = append(ids, a.ID)
			}
			if fmt.Sprint(ids) != fmt.Sprint(tc.want) {
				t.Errorf("SearchText(%q) = %v, want %v", tc.query, ids, tc.want)
			}
		}
	})
}

func TestPersonRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	assets := NewAssetRepository(pool)
	faces := NewFaceRepository(pool, testDim)
	persons := NewPersonRepository(pool)

	seedAssets(t, ctx, assets, "u1", "a1", "a2", "a3", "a4", "a5")

	mkPerson := func(id, name string) {
		if _, err := persons.CreatePerson(ctx, database.Person{ID: id, OwnerID: "u1", Name: name}); err != nil {
			t.Fatalf("Failed to create person %s: %v", id, err)
		}
	}
	link := func(faceID, assetID, personID string) {
		var pid *string
		if personID != "" {
			pid = &personID
		}
		if err := faces.UpsertFace(ctx, "u1", database.Face{ID: faceID, AssetID: assetID, PersonID: pid, Embedding: unitVector(len(faceID), 0)}); err != nil {
			t.Fatalf("Failed to upsert face %s: %v", faceID, err)
		}
	}

	mkPerson("old", "")
	mkPerson("new", "Bob")
	mkPerson("empty", "")
	link("f1", "a1", "old")
	link("f2", "a1", "new")
	link("f3", "a2", "old")
	link("f4", "a3", "")

	t.Run("UniquePersonPerAsset", func(t *testing.T) {
		pid := "new"
		err := faces.UpsertFace(ctx, "u1", database.Face{ID: "dup", AssetID: "a1", PersonID: &pid, Embedding: unitVector(9, 0)})
		if !apperrors.HasCode(err, apperrors.CodeInvalidInput) {
			t.Fatalf("Expected InvalidInput, got %v", err)
		}
	})

	t.Run("Ranking", func(t *testing.T) {
		ranked, err := persons.PersonsRankedForOwner(ctx, "u1", database.PersonSearchOptions{})
		if err != nil {
			t.Fatalf("Ranking failed: %v", err)
		}
		if len(ranked) != 2 || ranked[0].ID != "new" || ranked[1].ID != "old" {
			t.Errorf("Unexpected ranking: %+v", ranked)
		}
	})

	t.Run("Projections", func(t *testing.T) {
		orphans, err := persons.PersonsWithoutFaces(ctx)
		if err != nil || len(orphans) != 1 || orphans[0].ID != "empty" {
			t.Errorf("Unexpected orphans: %+v, %v", orphans, err)
		}
		unclustered, err := persons.FacesWithoutPerson(ctx, "u1")
		if err != nil || len(unclustered) != 1 || unclustered[0].ID != "f4" {
			t.Errorf("Unexpected unclustered faces: %+v, %v", unclustered, err)
		}
	})

	t.Run("Reassign", func(t *testing.T) {
		res, err := persons.ReassignFaces(ctx, "old", "new")
		if err != nil {
			t.Fatalf("Reassign failed: %v", err)
		}
		if res.Moved != 1 || res.Detached != 1 || len(res.ConflictAssetIDs) != 1 || res.ConflictAssetIDs[0] != "a1" {
			t.Errorf("Unexpected result: %+v", res)
		}

		again, err := persons.ReassignFaces(ctx, "old", "new")
		if err != nil {
			t.Fatalf("Second reassign failed: %v", err)
		}
		if again.Moved != 0 || again.Detached != 0 {
			t.Errorf("Reassign is not idempotent: %+v", again)
		}
	})

	t.Run("ConcurrentReassignsKeepUniqueness", func(t *testing.T) {
		mkPerson("x", "")
		mkPerson("y", "")
		link("fx", "a4", "x")
		link("fy", "a5", "y")

		var wg sync.WaitGroup
		errs := make([]error, 2)
		wg.Add(2)
		go func() { defer wg.Done(); _, errs[0] = persons.ReassignFaces(ctx, "x", "new") }()
		go func() { defer wg.Done(); _, errs[1] = persons.ReassignFaces(ctx, "y", "new") }()
		wg.Wait()

		for _, err := range errs {
			if err != nil && !apperrors.HasCode(err, apperrors.CodeTransactionAborted) {
				t.Errorf("Unexpected error: %v", err)
			}
		}

		var dups int
		err := pool.QueryRow(ctx, `
			SELECT COUNT(*) FROM (
				SELECT asset_id, person_id FROM asset_faces
				WHERE person_id IS NOT NULL
				GROUP BY asset_id, person_id HAVING COUNT(*) > 1
			) d`).Scan(&dups)
		if err != nil {
			t.Fatalf("Failed to count duplicates: %v", err)
		}
		if dups != 0 {
			t.Errorf("Found %d assets with a duplicated person", dups)
		}
	})

	t.Run("DeleteAllKeepsFaces", func(t *testing.T) {
		n, err := persons.DeleteAll(ctx)
		if err != nil {
			t.Fatalf("DeleteAll failed: %v", err)
		}
		if n == 0 {
			t.Error("Expected persons to be deleted")
		}
		unclustered, err := persons.FacesWithoutPerson(ctx, "u1")
		if err != nil {
			t.Fatalf("FacesWithoutPerson failed: %v", err)
		}
		if len(unclustered) != 6 {
			t.Errorf("Expected 6 unlinked faces, got %d", len(unclustered))
		}
	})
}
