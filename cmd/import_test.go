package cmd

import (
	"context"
	"strings"
	"testing"

	"github.com/wipfli/immich/internal/database/mock"
)

const sampleImport = `{
  "assets": [
    {"id": "a1", "ownerId": "u1", "originalFileName": "beach.jpg", "city": "Nice", "fileCreatedAt": "2024-07-01T10:00:00Z"},
    {"id": "a2", "ownerId": "u1", "originalFileName": "office.jpg", "fileCreatedAt": "2024-07-02T10:00:00Z"}
  ],
  "smartInfo": [
    {"assetId": "a1", "ownerId": "u1", "tags": ["beach"], "clipEmbedding": [1, 0]},
    {"assetId": "a2", "ownerId": "u2", "tags": ["desk"], "clipEmbedding": [0, 1]},
    {"assetId": "a2", "ownerId": "u1", "clipEmbedding": [0, 1, 0]}
  ],
  "persons": [
    {"id": "p1", "ownerId": "u1", "name": "Alice"}
  ],
  "faces": [
    {"assetId": "a1", "ownerId": "u1", "personId": "p1", "embedding": [1, 0],
     "boundingBox": {"X1": 1, "Y1": 2, "X2": 30, "Y2": 40, "ImageWidth": 100, "ImageHeight": 100}},
    {"id": "f2", "assetId": "a2", "ownerId": "u1", "embedding": [0, 1]}
  ]
}`

func newImportStores(store *mock.MockStore) importStores {
	return importStores{
		assets:    store,
		smartInfo: store.SmartInfo(),
		persons:   store,
		faces:     store.FaceStore(),
	}
}

func TestReadImportFile(t *testing.T) {
	f, err := readImportFile(strings.NewReader(sampleImport))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.total() != 8 {
		t.Errorf("expected 8 rows, got %d", f.total())
	}
	if f.Faces[0].BoundingBox.X2 != 30 {
		t.Errorf("bounding box not parsed: %+v", f.Faces[0].BoundingBox)
	}
}

func TestReadImportFile_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", "assets:"},
		{"unknown field", `{"albums": []}`},
		{"wrong type", `{"assets": {}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := readImportFile(strings.NewReader(tt.input)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestRunImport(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockStore(2, 2)

	f, err := readImportFile(strings.NewReader(sampleImport))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result := runImport(ctx, newImportStores(store), f, nil)

	if result.Assets != 2 || result.SmartInfo != 1 || result.Persons != 1 || result.Faces != 2 {
		t.Errorf("unexpected counts: %+v", result)
	}
	// foreign owner and wrong dimension
	if len(result.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %v", result.Errors)
	}
	for _, e := range result.Errors {
		if !strings.HasPrefix(e, "smart info a2:") {
			t.Errorf("unexpected error %q", e)
		}
	}

	faces := store.Faces()
	if len(faces) != 2 {
		t.Fatalf("expected 2 faces, got %d", len(faces))
	}
	generated := 0
	for _, face := range faces {
		if face.ID != "f2" {
			generated++
			if !face.HasPerson() || *face.PersonID != "p1" {
				t.Errorf("face %s should belong to p1", face.ID)
			}
		}
	}
	if generated != 1 {
		t.Errorf("expected one face with a generated id, got %d", generated)
	}
}

func TestImportPersonRow(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockStore(2, 2)

	if err := importPersonRow(ctx, store, importPerson{ID: "p1", OwnerID: "u1", Name: "Alice"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := importPersonRow(ctx, store, importPerson{ID: "p1", OwnerID: "u1", Name: "Alice B.", IsHidden: true}); err != nil {
		t.Fatalf("update: %v", err)
	}
	p, _ := store.GetPerson(ctx, "p1")
	if p == nil || p.Name != "Alice B." || !p.IsHidden {
		t.Errorf("person not updated: %+v", p)
	}

	if err := importPersonRow(ctx, store, importPerson{ID: "p1", OwnerID: "u2"}); err == nil {
		t.Error("expected an error for another owner's person")
	}

	if err := importPersonRow(ctx, store, importPerson{OwnerID: "u1", Name: "Bob"}); err != nil {
		t.Fatalf("create without id: %v", err)
	}
	people, _ := store.PersonsWithoutFaces(ctx)
	if len(people) != 2 {
		t.Errorf("expected 2 people, got %d", len(people))
	}
}
