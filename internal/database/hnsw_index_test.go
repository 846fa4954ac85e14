package database

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	apperrors "github.com/wipfli/immich/internal/errors"
)

func testIndexEntries() []IndexEntry {
	return []IndexEntry{
		{ID: "a1", OwnerID: "alice", AssetID: "a1", Embedding: []float32{1, 0, 0}},
		{ID: "a2", OwnerID: "alice", AssetID: "a2", Embedding: []float32{0.9, 0.1, 0}},
		{ID: "a3", OwnerID: "alice", AssetID: "a3", Embedding: []float32{0, 1, 0}},
		{ID: "b1", OwnerID: "bob", AssetID: "b1", Embedding: []float32{1, 0, 0}},
	}
}

func TestHNSWIndex_SearchScopesByOwner(t *testing.T) {
	idx := NewHNSWIndex(3)
	if err := idx.Build(testIndexEntries()); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	got, err := idx.Search(EmbeddingSearch{OwnerID: "alice", Embedding: []float32{1, 0, 0}, NumResults: 10, MaxDistance: 0.5})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d: %+v", len(got), got)
	}
	if got[0].ID != "a1" || got[1].ID != "a2" {
		t.Errorf("unexpected order: %+v", got)
	}
	for _, m := range got {
		if m.ID == "b1" {
			t.Error("search leaked another owner's vector")
		}
	}
}

func TestHNSWIndex_EmptyOwner(t *testing.T) {
	idx := NewHNSWIndex(3)
	if err := idx.Build(testIndexEntries()); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	got, err := idx.Search(EmbeddingSearch{OwnerID: "carol", Embedding: []float32{1, 0, 0}, NumResults: 10, MaxDistance: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty result, got %+v", got)
	}
}

func TestHNSWIndex_OwnerOutrankedByOthers(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	query := []float32{1, 0, 0, 0, 0, 0, 0, 0}

	var entries []IndexEntry
	for i := 0; i < 500; i++ {
		vec := make([]float32, len(query))
		vec[0] = 1
		for j := 1; j < len(vec); j++ {
			vec[j] = float32(rng.NormFloat64() * 0.01)
		}
		id := fmt.Sprintf("alice-%03d", i)
		entries = append(entries, IndexEntry{ID: id, OwnerID: "alice", AssetID: id, Embedding: vec})
	}
	entries = append(entries, IndexEntry{
		ID: "bob-1", OwnerID: "bob", AssetID: "bob-1", Embedding: []float32{1, 0.3, 0, 0, 0, 0, 0, 0},
	})

	idx := NewHNSWIndex(len(query))
	if err := idx.Build(entries); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	got, err := idx.Search(EmbeddingSearch{OwnerID: "bob", Embedding: query, NumResults: 10, MaxDistance: 0.5})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "bob-1" {
		t.Fatalf("expected bob-1, got %+v", got)
	}
	want := CosineDistance(query, entries[len(entries)-1].Embedding)
	if got[0].Distance != want {
		t.Errorf("distance = %v, want %v", got[0].Distance, want)
	}

	// alice fills the candidate list on her own; the result stays capped
	got, err = idx.Search(EmbeddingSearch{OwnerID: "alice", Embedding: query, NumResults: 5, MaxDistance: 0.5})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 5 {
		t.Errorf("expected 5 matches for alice, got %d", len(got))
	}
}

func TestHNSWIndex_DimensionMismatch(t *testing.T) {
	idx := NewHNSWIndex(3)

	err := idx.Add(IndexEntry{ID: "x", Embedding: []float32{1, 2}})
	if !apperrors.HasCode(err, apperrors.CodeDimensionMismatch) {
		t.Errorf("Add: expected DimensionMismatch, got %v", err)
	}

	_, err = idx.Search(EmbeddingSearch{Embedding: []float32{1}, NumResults: 1, MaxDistance: 1})
	if !apperrors.HasCode(err, apperrors.CodeDimensionMismatch) {
		t.Errorf("Search: expected DimensionMismatch, got %v", err)
	}
}

func TestHNSWIndex_AddReplacesAndDelete(t *testing.T) {
	idx := NewHNSWIndex(3)
	if err := idx.Build(testIndexEntries()); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if err := idx.Add(IndexEntry{ID: "a3", OwnerID: "alice", AssetID: "a3", Embedding: []float32{1, 0, 0}}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if idx.Count() != 4 {
		t.Errorf("expected 4 entries after replace, got %d", idx.Count())
	}

	got, _ := idx.Search(EmbeddingSearch{OwnerID: "alice", Embedding: []float32{1, 0, 0}, NumResults: 10, MaxDistance: 0.01})
	if len(got) != 2 || got[0].ID != "a1" || got[1].ID != "a3" {
		t.Errorf("expected a1 and a3 at distance 0, got %+v", got)
	}

	idx.Delete("a3")
	idx.Delete("missing")
	if idx.Count() != 3 {
		t.Errorf("expected 3 entries after delete, got %d", idx.Count())
	}
}

func TestHNSWIndex_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "smart_info.hnsw")

	idx := NewHNSWIndex(3)
	if err := idx.Build(testIndexEntries()); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if err := idx.Save(path, "4@2024-01-01T00:00:00Z"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	meta, err := LoadHNSWMetadata(path)
	if err != nil {
		t.Fatalf("LoadHNSWMetadata() error = %v", err)
	}
	if meta.EntryCount != 4 || meta.Dimension != 3 || meta.Stamp != "4@2024-01-01T00:00:00Z" {
		t.Errorf("unexpected metadata: %+v", meta)
	}

	loaded := NewHNSWIndex(3)
	if err := loaded.Load(path); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Count() != 4 {
		t.Errorf("expected 4 entries, got %d", loaded.Count())
	}

	if err := NewHNSWIndex(4).Load(path); err == nil {
		t.Error("expected dimension error when loading into a 4-d index")
	}
}
