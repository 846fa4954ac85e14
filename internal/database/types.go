package database

import (
	"time"
)

// Asset is a photo or video owned by exactly one user.
type Asset struct {
	ID               string
	OwnerID          string
	OriginalFileName string
	City             string
	FileCreatedAt    time.Time
	IsArchived       bool
}

// SmartInfo holds the image-level ML output for an asset.
// CLIPEmbedding is replaced wholesale on re-computation.
type SmartInfo struct {
	AssetID       string
	Tags          []string
	Objects       []string
	CLIPEmbedding []float32
}

// BoundingBox is a face region in raw pixel coordinates.
type BoundingBox struct {
	X1, Y1, X2, Y2 int
	ImageWidth     int
	ImageHeight    int
}

// Face is a detected face region of an asset.
// PersonID is nil while the face is not clustered.
type Face struct {
	ID          string
	AssetID     string
	PersonID    *string
	BoundingBox BoundingBox
	Embedding   []float32
}

// HasPerson reports whether the face is linked to a person.
func (f Face) HasPerson() bool {
	return f.PersonID != nil && *f.PersonID != ""
}

// Person is a named or unnamed identity clustering faces.
type Person struct {
	ID        string
	OwnerID   string
	Name      string
	IsHidden  bool
	FaceCount int // populated by ranking queries only
	CreatedAt time.Time
}

// PersonSearchOptions configures PersonsRankedForOwner.
type PersonSearchOptions struct {
	MinimumFaceCount int // defaults to 1 when <= 0
	WithHidden       bool
}

// EmbeddingSearch is an owner-scoped nearest neighbour query.
// MaxDistance is inclusive.
type EmbeddingSearch struct {
	OwnerID     string
	Embedding   []float32
	NumResults  int
	MaxDistance float64
}

// SearchMatch is one ranked search hit.
// ID is the entity id (asset id for smart info, face id for faces).
type SearchMatch struct {
	ID       string
	AssetID  string
	Distance float64
}

// ReassignResult reports what ReassignFaces did.
type ReassignResult struct {
	// ConflictAssetIDs are assets that had faces of both persons.
	ConflictAssetIDs []string `json:"conflictAssetIds"`
	// Detached is the number of faces of the old person unlinked on conflict assets.
	Detached int `json:"detached"`
	// Moved is the number of faces repointed to the new person.
	Moved int `json:"moved"`
}

// ExploreOptions bounds the discovery groupings.
type ExploreOptions struct {
	MaxFields         int
	MinAssetsPerField int
}

// SearchExploreItem is one value of an explore field with its payload.
type SearchExploreItem[T any] struct {
	Value string `json:"value"`
	Data  T      `json:"data"`
}

// SearchExploreField groups explore items under a field name (e.g. "exifInfo.city").
type SearchExploreField[T any] struct {
	FieldName string                 `json:"fieldName"`
	Items     []SearchExploreItem[T] `json:"items"`
}
