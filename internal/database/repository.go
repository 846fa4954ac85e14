package database

import (
	"context"
)

// EmbeddingStore is the owner-scoped vector search contract shared by
// smart info (image) embeddings and face embeddings.
type EmbeddingStore interface {
	// SearchByEmbedding returns matches with distance <= MaxDistance, ordered by
	// distance then entity id, at most NumResults long.
	SearchByEmbedding(ctx context.Context, search EmbeddingSearch) ([]SearchMatch, error)
	// Dimension returns the vector length this store accepts
	Dimension() int
}

// SmartInfoStore stores image embeddings keyed by asset.
type SmartInfoStore interface {
	EmbeddingStore

	// Upsert creates or replaces the smart info row for an asset owned by ownerID
	Upsert(ctx context.Context, ownerID string, info SmartInfo) error
	// Get returns the smart info for an asset, nil if missing
	Get(ctx context.Context, assetID string) (*SmartInfo, error)
	// Count returns the number of stored image embeddings
	Count(ctx context.Context) (int, error)
}

// PersonReader provides read-only projections over persons and faces
type PersonReader interface {
	// GetPerson returns a person by id, nil if missing
	GetPerson(ctx context.Context, personID string) (*Person, error)
	// PersonsRankedForOwner lists persons ordered for display
	PersonsRankedForOwner(ctx context.Context, ownerID string, opts PersonSearchOptions) ([]Person, error)
	// PersonsWithoutFaces returns persons with no linked faces
	PersonsWithoutFaces(ctx context.Context) ([]Person, error)
	// FacesWithoutPerson returns the owner's faces that are not clustered
	FacesWithoutPerson(ctx context.Context, ownerID string) ([]Face, error)
	// GetFacesByPerson returns the faces linked to a person
	GetFacesByPerson(ctx context.Context, personID string) ([]Face, error)
}

// PersonWriter mutates persons and face links
type PersonWriter interface {
	PersonReader

	CreatePerson(ctx context.Context, person Person) (*Person, error)
	UpdatePerson(ctx context.Context, person Person) (*Person, error)
	DeletePerson(ctx context.Context, personID string) error

	// ReassignFaces moves every face of oldPersonID to newPersonID, detaching the
	// old person's faces on assets where newPersonID already has a face.
	ReassignFaces(ctx context.Context, oldPersonID, newPersonID string) (ReassignResult, error)
	// DeleteAll removes every person; faces survive with a null person link
	DeleteAll(ctx context.Context) (int, error)
}

// FaceStore stores face embeddings and serves face similarity search
type FaceStore interface {
	EmbeddingStore

	// UpsertFace creates or replaces a face for an asset owned by ownerID
	UpsertFace(ctx context.Context, ownerID string, face Face) error
}

// AssetReader provides the metadata lookups search needs.
// Owner scoping of GetByIDs is the caller's job.
type AssetReader interface {
	GetByIDs(ctx context.Context, ids []string) ([]Asset, error)
	GetAssetIDsByCity(ctx context.Context, ownerID string, opts ExploreOptions) (SearchExploreField[string], error)
	GetAssetIDsByTag(ctx context.Context, ownerID string, opts ExploreOptions) (SearchExploreField[string], error)
	// SearchText is the literal search used by the text strategy.
	// A "*" query returns the owner's most recent assets.
	SearchText(ctx context.Context, ownerID, query string, limit int) ([]Asset, error)
}

// AssetWriter adds asset rows for imports.
type AssetWriter interface {
	AssetReader

	// UpsertAsset creates or replaces an asset
	UpsertAsset(ctx context.Context, asset Asset) error
}
