package database

import (
	"context"
	"fmt"
)

// HNSWRebuilder is an interface for repositories that support HNSW index rebuilding
type HNSWRebuilder interface {
	// RebuildHNSW rebuilds the in-memory HNSW index
	RebuildHNSW(ctx context.Context) error
	// HNSWCount returns the number of items in the HNSW index
	HNSWCount() int
	// IsHNSWEnabled returns whether HNSW is enabled
	IsHNSWEnabled() bool
	// SaveHNSWIndex saves the current index to disk (if path configured)
	SaveHNSWIndex() error
}

// HealthChecker reports whether the backend is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

var (
	postgresSmartInfoStore func() SmartInfoStore
	postgresFaceStore      func() FaceStore
	postgresPersonWriter   func() PersonWriter
	postgresAssetWriter    func() AssetWriter
	postgresSmartInfoHNSW  HNSWRebuilder
	postgresFaceHNSW       HNSWRebuilder
	postgresHealth         HealthChecker
	postgresInitialized    bool
)

// RegisterPostgresBackend registers PostgreSQL repository constructors.
// This is called by the postgres package to avoid import cycles.
func RegisterPostgresBackend(
	smartInfo func() SmartInfoStore,
	faces func() FaceStore,
	persons func() PersonWriter,
	assets func() AssetWriter,
) {
	postgresSmartInfoStore = smartInfo
	postgresFaceStore = faces
	postgresPersonWriter = persons
	postgresAssetWriter = assets
	postgresInitialized = true
}

// RegisterSmartInfoHNSWRebuilder registers the HNSW rebuilder for smart info embeddings.
func RegisterSmartInfoHNSWRebuilder(rebuilder HNSWRebuilder) {
	postgresSmartInfoHNSW = rebuilder
}

// GetSmartInfoHNSWRebuilder returns the registered smart info rebuilder, or nil if not registered.
func GetSmartInfoHNSWRebuilder() HNSWRebuilder {
	return postgresSmartInfoHNSW
}

// RegisterFaceHNSWRebuilder registers the HNSW rebuilder for the face repository.
func RegisterFaceHNSWRebuilder(rebuilder HNSWRebuilder) {
	postgresFaceHNSW = rebuilder
}

// GetFaceHNSWRebuilder returns the registered face HNSW rebuilder, or nil if not registered.
func GetFaceHNSWRebuilder() HNSWRebuilder {
	return postgresFaceHNSW
}

// RegisterHealthChecker registers the backend health probe.
func RegisterHealthChecker(h HealthChecker) {
	postgresHealth = h
}

// GetHealthChecker returns the registered health probe, or nil.
func GetHealthChecker() HealthChecker {
	return postgresHealth
}

// IsInitialized returns whether the PostgreSQL backend has been initialized.
func IsInitialized() bool {
	return postgresInitialized
}

func notInitialized(what string, registered bool) error {
	if !postgresInitialized {
		return fmt.Errorf("PostgreSQL backend not initialized: DATABASE_URL is required")
	}
	if !registered {
		return fmt.Errorf("PostgreSQL %s not registered", what)
	}
	return nil
}

// GetSmartInfoStore returns the smart info store from the PostgreSQL backend
func GetSmartInfoStore(ctx context.Context) (SmartInfoStore, error) {
	if err := notInitialized("smart info store", postgresSmartInfoStore != nil); err != nil {
		return nil, err
	}
	return postgresSmartInfoStore(), nil
}

// GetFaceStore returns the face store from the PostgreSQL backend
func GetFaceStore(ctx context.Context) (FaceStore, error) {
	if err := notInitialized("face store", postgresFaceStore != nil); err != nil {
		return nil, err
	}
	return postgresFaceStore(), nil
}

// GetPersonWriter returns the person repository from the PostgreSQL backend
func GetPersonWriter(ctx context.Context) (PersonWriter, error) {
	if err := notInitialized("person repository", postgresPersonWriter != nil); err != nil {
		return nil, err
	}
	return postgresPersonWriter(), nil
}

// GetPersonReader returns the read side of the person repository
func GetPersonReader(ctx context.Context) (PersonReader, error) {
	return GetPersonWriter(ctx)
}

// GetAssetWriter returns the asset repository from the PostgreSQL backend
func GetAssetWriter(ctx context.Context) (AssetWriter, error) {
	if err := notInitialized("asset repository", postgresAssetWriter != nil); err != nil {
		return nil, err
	}
	return postgresAssetWriter(), nil
}

// GetAssetReader returns the read side of the asset repository
func GetAssetReader(ctx context.Context) (AssetReader, error) {
	return GetAssetWriter(ctx)
}
