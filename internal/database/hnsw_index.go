package database

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/coder/hnsw"
)

// HNSWIndexMetadata stores metadata for validating cached HNSW indexes.
// Stamp identifies the database contents the index was built from.
type HNSWIndexMetadata struct {
	EntryCount int       `json:"entry_count"`
	Dimension  int       `json:"dimension"`
	BuildTime  time.Time `json:"build_time"`
	Version    int       `json:"version"`
	Stamp      string    `json:"stamp"`
}

const hnswMetadataVersion = 3

// IndexEntry is one vector in an HNSWIndex along with what search needs to
// scope and report it.
type IndexEntry struct {
	ID        string
	OwnerID   string
	AssetID   string
	Embedding []float32
}

// HNSWIndex is an in-memory approximate nearest neighbour index over
// smart info or face embeddings, keyed by entity id.
type HNSWIndex struct {
	graph   *hnsw.Graph[string]
	entries map[string]*IndexEntry
	dim     int
	mu      sync.RWMutex
}

// NewHNSWIndex creates an empty index for vectors of length dim.
func NewHNSWIndex(dim int) *HNSWIndex {
	return &HNSWIndex{
		graph:   newGraph(),
		entries: make(map[string]*IndexEntry),
		dim:     dim,
	}
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors)
	g.Distance = hnsw.CosineDistance
	return g
}

// Build replaces the index contents.
func (h *HNSWIndex) Build(entries []IndexEntry) error {
	g := newGraph()
	m := make(map[string]*IndexEntry, len(entries))

	for i := range entries {
		e := &entries[i]
		if err := CheckDimension(h.dim, e.Embedding); err != nil {
			return fmt.Errorf("index entry %s: %w", e.ID, err)
		}
		if _, dup := m[e.ID]; dup {
			g.Delete(e.ID)
		}
		g.Add(hnsw.MakeNode(e.ID, e.Embedding))
		m[e.ID] = e
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.graph = g
	h.entries = m
	return nil
}

// Add inserts or replaces a single entry.
func (h *HNSWIndex) Add(entry IndexEntry) error {
	if err := CheckDimension(h.dim, entry.Embedding); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.entries[entry.ID]; ok {
		h.graph.Delete(entry.ID)
	}
	h.graph.Add(hnsw.MakeNode(entry.ID, entry.Embedding))
	h.entries[entry.ID] = &entry
	return nil
}

// Delete removes an entry. Missing ids are ignored.
func (h *HNSWIndex) Delete(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.entries[id]; !ok {
		return
	}
	h.graph.Delete(id)
	delete(h.entries, id)
}

// Update changes the scoping fields of an entry without touching its vector.
func (h *HNSWIndex) Update(id, ownerID, assetID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.entries[id]
	if !ok {
		return false
	}
	e.OwnerID = ownerID
	e.AssetID = assetID
	return true
}

// Search runs an owner-scoped search. The graph is over-fetched, exact cosine
// distances are recomputed and RankMatches applies cutoff, order and cap.
func (h *HNSWIndex) Search(search EmbeddingSearch) ([]SearchMatch, error) {
	if err := CheckDimension(h.dim, search.Embedding); err != nil {
		return nil, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if search.NumResults <= 0 || h.graph.Len() == 0 {
		return []SearchMatch{}, nil
	}

	k := max(search.NumResults*HNSWSearchMultiplier, HNSWMinCandidates)
	neighbors := h.graph.Search(search.Embedding, k)

	candidates := make([]SearchMatch, 0, len(neighbors))
	within := 0
	for _, n := range neighbors {
		e, ok := h.entries[n.Key]
		if !ok || e.OwnerID != search.OwnerID {
			continue
		}
		m := scoreEntry(e, search.Embedding)
		if m.Distance <= search.MaxDistance {
			within++
		}
		candidates = append(candidates, m)
	}

	// The graph spans every owner. When other owners crowded the truncated
	// neighbour list, score this owner's entries exactly instead.
	if within < search.NumResults && len(neighbors) < h.graph.Len() {
		candidates = h.scanOwner(search)
	}

	return RankMatches(candidates, search), nil
}

// scanOwner computes the exact distance of every entry of the search owner.
func (h *HNSWIndex) scanOwner(search EmbeddingSearch) []SearchMatch {
	var out []SearchMatch
	for _, e := range h.entries {
		if e.OwnerID == search.OwnerID {
			out = append(out, scoreEntry(e, search.Embedding))
		}
	}
	return out
}

func scoreEntry(e *IndexEntry, query []float32) SearchMatch {
	return SearchMatch{ID: e.ID, AssetID: e.AssetID, Distance: CosineDistance(query, e.Embedding)}
}

// Count returns the number of indexed entries.
func (h *HNSWIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Save persists the graph to path, the entries to path.entries and
// metadata to path.meta. stamp is stored in the metadata as is.
func (h *HNSWIndex) Save(path, stamp string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.entries) == 0 {
		// Nothing to persist; drop stale files (best-effort cleanup).
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		_ = os.Remove(path + ".entries")
		return nil
	}

	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	if err := h.graph.Export(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to export HNSW graph: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close HNSW index file: %w", err)
	}

	entries := make([]IndexEntry, 0, len(h.entries))
	for _, e := range h.entries {
		entries = append(entries, *e)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entries); err != nil {
		return fmt.Errorf("failed to encode index entries: %w", err)
	}
	if err := os.WriteFile(path+".entries", buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write index entries: %w", err)
	}

	metaData, err := json.Marshal(HNSWIndexMetadata{
		EntryCount: len(entries),
		Dimension:  h.dim,
		BuildTime:  time.Now(),
		Version:    hnswMetadataVersion,
		Stamp:      stamp,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", metaData, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	return nil
}

// LoadHNSWMetadata loads metadata from a separate .meta file.
func LoadHNSWMetadata(path string) (HNSWIndexMetadata, error) {
	var metadata HNSWIndexMetadata

	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return metadata, nil
}

// Load restores an index written by Save. The stored dimension must match.
func (h *HNSWIndex) Load(path string) error {
	meta, err := LoadHNSWMetadata(path)
	if err != nil {
		return err
	}
	if meta.Version != hnswMetadataVersion {
		return fmt.Errorf("HNSW index version %d, expected %d", meta.Version, hnswMetadataVersion)
	}
	if meta.Dimension != h.dim {
		return fmt.Errorf("HNSW index has dimension %d, expected %d", meta.Dimension, h.dim)
	}

	saved, err := hnsw.LoadSavedGraph[string](path)
	if err != nil {
		return fmt.Errorf("failed to load HNSW index: %w", err)
	}

	data, err := os.ReadFile(path + ".entries") //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to read index entries: %w", err)
	}
	var entries []IndexEntry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&entries); err != nil {
		return fmt.Errorf("failed to decode index entries: %w", err)
	}

	m := make(map[string]*IndexEntry, len(entries))
	for i := range entries {
		m[entries[i].ID] = &entries[i]
	}

	saved.Graph.M = HNSWMaxNeighbors
	saved.Graph.Ml = 1.0 / float64(HNSWMaxNeighbors)
	saved.Graph.Distance = hnsw.CosineDistance

	h.mu.Lock()
	defer h.mu.Unlock()
	h.graph = saved.Graph
	h.entries = m
	return nil
}
