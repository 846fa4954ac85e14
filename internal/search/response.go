package search

import (
	"time"

	"github.com/wipfli/immich/internal/database"
)

// SearchResponse is the search envelope. Albums is always empty.
type SearchResponse struct {
	Albums SearchResult[AlbumResponse] `json:"albums"`
	Assets SearchResult[AssetResponse] `json:"assets"`
}

type SearchResult[T any] struct {
	Total  int           `json:"total"`
	Count  int           `json:"count"`
	Items  []T           `json:"items"`
	Facets []SearchFacet `json:"facets"`
}

type SearchFacet struct {
	FieldName string       `json:"fieldName"`
	Counts    []FacetCount `json:"counts"`
}

type FacetCount struct {
	Count int    `json:"count"`
	Value string `json:"value"`
}

type AlbumResponse struct {
	ID        string `json:"id"`
	AlbumName string `json:"albumName"`
}

type AssetResponse struct {
	ID               string    `json:"id"`
	OwnerID          string    `json:"ownerId"`
	OriginalFileName string    `json:"originalFileName"`
	FileCreatedAt    time.Time `json:"fileCreatedAt"`
	IsArchived       bool      `json:"isArchived"`
	ExifInfo         *ExifInfo `json:"exifInfo,omitempty"`
	// Distance is set for embedding matches only.
	Distance *float64 `json:"distance,omitempty"`
}

type ExifInfo struct {
	City string `json:"city,omitempty"`
}

func newAssetResponse(a database.Asset) AssetResponse {
	r := AssetResponse{
		ID:               a.ID,
		OwnerID:          a.OwnerID,
		OriginalFileName: a.OriginalFileName,
		FileCreatedAt:    a.FileCreatedAt,
		IsArchived:       a.IsArchived,
	}
	if a.City != "" {
		r.ExifInfo = &ExifInfo{City: a.City}
	}
	return r
}

func newSearchResponse(items []AssetResponse) *SearchResponse {
	if items == nil {
		items = []AssetResponse{}
	}
	return &SearchResponse{
		Albums: SearchResult[AlbumResponse]{Items: []AlbumResponse{}, Facets: []SearchFacet{}},
		Assets: SearchResult[AssetResponse]{
			Total:  len(items),
			Count:  len(items),
			Items:  items,
			Facets: []SearchFacet{},
		},
	}
}
