// Package mock provides an in-memory implementation of the database interfaces for testing.
package mock

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/wipfli/immich/internal/database"
	apperrors "github.com/wipfli/immich/internal/errors"
	"github.com/wipfli/immich/internal/textnorm"
)

// MockStore keeps assets, smart info, faces and persons in memory and
// enforces the same invariants as the PostgreSQL schema.
type MockStore struct {
	mu        sync.RWMutex
	assets    map[string]database.Asset
	smartInfo map[string]database.SmartInfo
	faces     map[string]database.Face
	persons   map[string]database.Person
	clipDim   int
	faceDim   int

	// Error injection
	SearchError     error
	UpsertError     error
	GetByIDsError   error
	GroupingError   error
	SearchTextError error
	MoveFacesError  error
	DeleteAllError  error

	// MoveConflicts makes the next n MoveFaces calls report a concurrent conflict.
	MoveConflicts int
	// MoveAborts makes the next n MoveFaces calls fail as serialization failures.
	MoveAborts int
	// DeleteFailures makes the next n DeletePerson calls fail.
	DeleteFailures int

	// GetByIDsCalls records every id batch passed to GetByIDs.
	GetByIDsCalls [][]string
}

// NewMockStore creates an empty store accepting clipDim image vectors and faceDim face vectors.
func NewMockStore(clipDim, faceDim int) *MockStore {
	return &MockStore{
		assets:    make(map[string]database.Asset),
		smartInfo: make(map[string]database.SmartInfo),
		faces:     make(map[string]database.Face),
		persons:   make(map[string]database.Person),
		clipDim:   clipDim,
		faceDim:   faceDim,
	}
}

// AddAsset adds or replaces an asset.
func (m *MockStore) AddAsset(asset database.Asset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assets[asset.ID] = asset
}

// UpsertAsset adds or replaces an asset.
func (m *MockStore) UpsertAsset(ctx context.Context, asset database.Asset) error {
	if asset.ID == "" || asset.OwnerID == "" {
		return apperrors.New(apperrors.CodeInvalidInput, "asset id and owner are required")
	}
	m.AddAsset(asset)
	return nil
}

// DeleteAsset removes an asset with its smart info and faces.
func (m *MockStore) DeleteAsset(assetID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.assets, assetID)
	delete(m.smartInfo, assetID)
	for id, f := range m.faces {
		if f.AssetID == assetID {
			delete(m.faces, id)
		}
	}
}

// Face returns a stored face by id.
func (m *MockStore) Face(id string) (database.Face, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.faces[id]
	return f, ok
}

// Faces returns every stored face ordered by id.
func (m *MockStore) Faces() []database.Face {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedFaces(m.faces, func(database.Face) bool { return true })
}

// SmartInfo returns the smart info embedding store view.
func (m *MockStore) SmartInfo() *MockSmartInfoStore {
	return &MockSmartInfoStore{store: m}
}

// FaceStore returns the face embedding store view.
func (m *MockStore) FaceStore() *MockFaceStore {
	return &MockFaceStore{store: m}
}

// MockSmartInfoStore is the smart info view of a MockStore.
type MockSmartInfoStore struct {
	store *MockStore
}

// Dimension returns the accepted CLIP vector length.
func (s *MockSmartInfoStore) Dimension() int {
	return s.store.clipDim
}

// SearchByEmbedding scans the owner's smart info vectors.
func (s *MockSmartInfoStore) SearchByEmbedding(ctx context.Context, search database.EmbeddingSearch) ([]database.SearchMatch, error) {
	m := s.store
	if m.SearchError != nil {
		return nil, m.SearchError
	}
	if err := database.CheckDimension(m.clipDim, search.Embedding); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var candidates []database.SearchMatch
	for assetID, info := range m.smartInfo {
		asset, ok := m.assets[assetID]
		if !ok || asset.OwnerID != search.OwnerID || len(info.CLIPEmbedding) == 0 {
			continue
		}
		candidates = append(candidates, database.SearchMatch{
			ID:       assetID,
			AssetID:  assetID,
			Distance: database.CosineDistance(search.Embedding, info.CLIPEmbedding),
		})
	}
	return database.RankMatches(candidates, search), nil
}

// Upsert replaces the smart info row of an owner's asset.
func (s *MockSmartInfoStore) Upsert(ctx context.Context, ownerID string, info database.SmartInfo) error {
	m := s.store
	if m.UpsertError != nil {
		return m.UpsertError
	}
	if info.CLIPEmbedding != nil {
		if err := database.CheckDimension(m.clipDim, info.CLIPEmbedding); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if asset, ok := m.assets[info.AssetID]; !ok || asset.OwnerID != ownerID {
		return apperrors.NotFound("asset", info.AssetID)
	}

	row := database.SmartInfo{
		AssetID: info.AssetID,
		Tags:    slices.Clone(info.Tags),
		Objects: slices.Clone(info.Objects),
	}
	if info.CLIPEmbedding != nil {
		row.CLIPEmbedding = slices.Clone(info.CLIPEmbedding)
	} else if prev, ok := m.smartInfo[info.AssetID]; ok {
		row.CLIPEmbedding = prev.CLIPEmbedding
	}
	m.smartInfo[info.AssetID] = row
	return nil
}

// Get returns a copy of the smart info for an asset, nil if missing.
func (s *MockSmartInfoStore) Get(ctx context.Context, assetID string) (*database.SmartInfo, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	info, ok := s.store.smartInfo[assetID]
	if !ok {
		return nil, nil
	}
	info.CLIPEmbedding = slices.Clone(info.CLIPEmbedding)
	return &info, nil
}

// Count returns the number of stored image embeddings.
func (s *MockSmartInfoStore) Count(ctx context.Context) (int, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	n := 0
	for _, info := range s.store.smartInfo {
		if len(info.CLIPEmbedding) > 0 {
			n++
		}
	}
	return n, nil
}

// MockFaceStore is the face embedding view of a MockStore.
type MockFaceStore struct {
	store *MockStore
}

// Dimension returns the accepted face vector length.
func (s *MockFaceStore) Dimension() int {
	return s.store.faceDim
}

// SearchByEmbedding scans the owner's face vectors.
func (s *MockFaceStore) SearchByEmbedding(ctx context.Context, search database.EmbeddingSearch) ([]database.SearchMatch, error) {
	m := s.store
	if m.SearchError != nil {
		return nil, m.SearchError
	}
	if err := database.CheckDimension(m.faceDim, search.Embedding); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var candidates []database.SearchMatch
	for _, f := range m.faces {
		asset, ok := m.assets[f.AssetID]
		if !ok || asset.OwnerID != search.OwnerID || len(f.Embedding) == 0 {
			continue
		}
		candidates = append(candidates, database.SearchMatch{
			ID:       f.ID,
			AssetID:  f.AssetID,
			Distance: database.CosineDistance(search.Embedding, f.Embedding),
		})
	}
	return database.RankMatches(candidates, search), nil
}

// UpsertFace creates or replaces a face on an owner's asset.
func (s *MockFaceStore) UpsertFace(ctx context.Context, ownerID string, face database.Face) error {
	m := s.store
	if m.UpsertError != nil {
		return m.UpsertError
	}
	if err := database.CheckDimension(m.faceDim, face.Embedding); err != nil {
		return err
	}
	if face.ID == "" {
		face.ID = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if asset, ok := m.assets[face.AssetID]; !ok || asset.OwnerID != ownerID {
		return apperrors.NotFound("asset", face.AssetID)
	}
	if face.HasPerson() {
		if _, ok := m.persons[*face.PersonID]; !ok {
			return apperrors.NotFound("person", *face.PersonID)
		}
		for id, other := range m.faces {
			if id != face.ID && other.AssetID == face.AssetID && samePerson(other.PersonID, face.PersonID) {
				return apperrors.New(apperrors.CodeInvalidInput, "person already has a face on this asset",
					apperrors.Field("asset_id", face.AssetID), apperrors.Field("person_id", *face.PersonID))
			}
		}
	}

	face.Embedding = slices.Clone(face.Embedding)
	face.PersonID = clonePersonID(face.PersonID)
	m.faces[face.ID] = face
	return nil
}

// GetPerson returns a person by id, nil if missing.
func (m *MockStore) GetPerson(ctx context.Context, personID string) (*database.Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.persons[personID]
	if !ok {
		return nil, nil
	}
	p.FaceCount = m.faceCountLocked(p.ID)
	return &p, nil
}

// PersonsRankedForOwner ranks the owner's persons for display.
func (m *MockStore) PersonsRankedForOwner(ctx context.Context, ownerID string, opts database.PersonSearchOptions) ([]database.Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var persons []database.Person
	for _, p := range m.persons {
		if p.OwnerID != ownerID {
			continue
		}
		p.FaceCount = m.faceCountLocked(p.ID)
		persons = append(persons, p)
	}
	return database.RankPersons(persons, opts), nil
}

// PersonsWithoutFaces returns persons with no linked faces ordered by id.
func (m *MockStore) PersonsWithoutFaces(ctx context.Context) ([]database.Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []database.Person{}
	for _, p := range m.persons {
		if m.faceCountLocked(p.ID) == 0 {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b database.Person) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// FacesWithoutPerson returns the owner's unclustered faces ordered by id.
func (m *MockStore) FacesWithoutPerson(ctx context.Context, ownerID string) ([]database.Face, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedFaces(m.faces, func(f database.Face) bool {
		return !f.HasPerson() && m.assets[f.AssetID].OwnerID == ownerID
	}), nil
}

// GetFacesByPerson returns a person's faces ordered by id.
func (m *MockStore) GetFacesByPerson(ctx context.Context, personID string) ([]database.Face, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedFaces(m.faces, func(f database.Face) bool {
		return f.HasPerson() && *f.PersonID == personID
	}), nil
}

// CreatePerson stores a new person, generating an id when empty.
func (m *MockStore) CreatePerson(ctx context.Context, person database.Person) (*database.Person, error) {
	if person.OwnerID == "" {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "person owner is required")
	}
	if person.ID == "" {
		person.ID = uuid.NewString()
	}
	if person.CreatedAt.IsZero() {
		person.CreatedAt = time.Now()
	}
	person.FaceCount = 0

	m.mu.Lock()
	defer m.mu.Unlock()
	m.persons[person.ID] = person
	return &person, nil
}

// UpdatePerson changes the name and hidden flag of a person.
func (m *MockStore) UpdatePerson(ctx context.Context, person database.Person) (*database.Person, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.persons[person.ID]
	if !ok {
		return nil, apperrors.NotFound("person", person.ID)
	}
	p.Name = person.Name
	p.IsHidden = person.IsHidden
	m.persons[p.ID] = p
	p.FaceCount = m.faceCountLocked(p.ID)
	return &p, nil
}

// DeletePerson removes a person and clears its faces' person link.
func (m *MockStore) DeletePerson(ctx context.Context, personID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.DeleteFailures > 0 {
		m.DeleteFailures--
		return errors.New("delete person: connection reset")
	}
	if _, ok := m.persons[personID]; !ok {
		return apperrors.NotFound("person", personID)
	}
	delete(m.persons, personID)
	m.unlinkLocked(func(p string) bool { return p == personID })
	return nil
}

// DeleteAll removes every person; faces survive unlinked.
func (m *MockStore) DeleteAll(ctx context.Context) (int, error) {
	if m.DeleteAllError != nil {
		return 0, m.DeleteAllError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.persons)
	m.persons = make(map[string]database.Person)
	m.unlinkLocked(func(string) bool { return true })
	return n, nil
}

// ReassignFaces moves faces between persons in one all-or-nothing step.
func (m *MockStore) ReassignFaces(ctx context.Context, oldPersonID, newPersonID string) (database.ReassignResult, error) {
	r := database.Reassigner{
		Begin:      m.beginReassign,
		NewBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	}
	return r.Reassign(ctx, oldPersonID, newPersonID)
}

func (m *MockStore) faceCountLocked(personID string) int {
	n := 0
	for _, f := range m.faces {
		if f.HasPerson() && *f.PersonID == personID {
			n++
		}
	}
	return n
}

func (m *MockStore) unlinkLocked(match func(personID string) bool) {
	for id, f := range m.faces {
		if f.HasPerson() && match(*f.PersonID) {
			f.PersonID = nil
			m.faces[id] = f
		}
	}
}

// GetByIDs returns the assets that exist among ids, in the order given.
func (m *MockStore) GetByIDs(ctx context.Context, ids []string) ([]database.Asset, error) {
	m.mu.Lock()
	m.GetByIDsCalls = append(m.GetByIDsCalls, slices.Clone(ids))
	m.mu.Unlock()

	if m.GetByIDsError != nil {
		return nil, m.GetByIDsError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]database.Asset, 0, len(ids))
	for _, id := range ids {
		if a, ok := m.assets[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

// GetAssetIDsByCity groups the owner's assets by city.
func (m *MockStore) GetAssetIDsByCity(ctx context.Context, ownerID string, opts database.ExploreOptions) (database.SearchExploreField[string], error) {
	if m.GroupingError != nil {
		return database.SearchExploreField[string]{}, m.GroupingError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	groups := map[string][]database.Asset{}
	for _, a := range m.assets {
		if a.OwnerID == ownerID && !a.IsArchived && a.City != "" {
			groups[a.City] = append(groups[a.City], a)
		}
	}
	return exploreField("exifInfo.city", groups, opts), nil
}

// GetAssetIDsByTag groups the owner's assets by smart info tag.
func (m *MockStore) GetAssetIDsByTag(ctx context.Context, ownerID string, opts database.ExploreOptions) (database.SearchExploreField[string], error) {
	if m.GroupingError != nil {
		return database.SearchExploreField[string]{}, m.GroupingError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	groups := map[string][]database.Asset{}
	for assetID, info := range m.smartInfo {
		a, ok := m.assets[assetID]
		if !ok || a.OwnerID != ownerID || a.IsArchived {
			continue
		}
		for _, tag := range uniqueStrings(info.Tags) {
			groups[tag] = append(groups[tag], a)
		}
	}
	return exploreField("smartInfo.tags", groups, opts), nil
}

// SearchText matches the normalized query against file name, city, tags and objects.
func (m *MockStore) SearchText(ctx context.Context, ownerID, query string, limit int) ([]database.Asset, error) {
	if m.SearchTextError != nil {
		return nil, m.SearchTextError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []database.Asset
	for _, a := range m.assets {
		if a.OwnerID != ownerID || a.IsArchived {
			continue
		}
		info := m.smartInfo[a.ID]
		fields := append([]string{a.OriginalFileName, a.City}, info.Tags...)
		fields = append(fields, info.Objects...)
		if query == "*" || textnorm.MatchesAny(query, fields...) {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, compareRecent)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// exploreField keeps values with at least MinAssetsPerField assets, most
// populated first, capped at MaxFields. Each value carries its most recent asset.
func exploreField(name string, groups map[string][]database.Asset, opts database.ExploreOptions) database.SearchExploreField[string] {
	type group struct {
		value  string
		assets []database.Asset
	}

	var kept []group
	for value, assets := range groups {
		if len(assets) >= opts.MinAssetsPerField {
			kept = append(kept, group{value: value, assets: assets})
		}
	}
	slices.SortFunc(kept, func(a, b group) int {
		if c := cmp.Compare(len(b.assets), len(a.assets)); c != 0 {
			return c
		}
		return cmp.Compare(a.value, b.value)
	})
	if opts.MaxFields > 0 && len(kept) > opts.MaxFields {
		kept = kept[:opts.MaxFields]
	}

	field := database.SearchExploreField[string]{FieldName: name, Items: []database.SearchExploreItem[string]{}}
	for _, g := range kept {
		slices.SortFunc(g.assets, compareRecent)
		field.Items = append(field.Items, database.SearchExploreItem[string]{Value: g.value, Data: g.assets[0].ID})
	}
	return field
}

func compareRecent(a, b database.Asset) int {
	if c := b.FileCreatedAt.Compare(a.FileCreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func sortedFaces(faces map[string]database.Face, keep func(database.Face) bool) []database.Face {
	out := []database.Face{}
	for _, f := range faces {
		if keep(f) {
			out = append(out, f)
		}
	}
	slices.SortFunc(out, func(a, b database.Face) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func uniqueStrings(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}

func samePerson(a, b *string) bool {
	return a != nil && b != nil && *a == *b
}

func clonePersonID(p *string) *string {
	if p == nil || *p == "" {
		return nil
	}
	v := *p
	return &v
}

// reassignTx stages person links on a copy and applies them on Commit.
// It holds the store's write lock for its whole life, which serializes reassignments.
type reassignTx struct {
	store  *MockStore
	staged map[string]*string // face id -> person id
	done   bool
}

func (m *MockStore) beginReassign(ctx context.Context) (database.ReassignTx, error) {
	m.mu.Lock()
	staged := make(map[string]*string, len(m.faces))
	for id, f := range m.faces {
		staged[id] = clonePersonID(f.PersonID)
	}
	return &reassignTx{store: m, staged: staged}, nil
}

func (tx *reassignTx) ConflictingAssets(ctx context.Context, oldPersonID, newPersonID string) ([]string, error) {
	hasOld, hasNew := map[string]bool{}, map[string]bool{}
	for id, p := range tx.staged {
		if p == nil {
			continue
		}
		asset := tx.store.faces[id].AssetID
		switch *p {
		case oldPersonID:
			hasOld[asset] = true
		case newPersonID:
			hasNew[asset] = true
		}
	}

	var out []string
	for asset := range hasOld {
		if hasNew[asset] {
			out = append(out, asset)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (tx *reassignTx) DetachFaces(ctx context.Context, personID string, assetIDs []string) (int, error) {
	n := 0
	for id, p := range tx.staged {
		if p != nil && *p == personID && slices.Contains(assetIDs, tx.store.faces[id].AssetID) {
			tx.staged[id] = nil
			n++
		}
	}
	return n, nil
}

func (tx *reassignTx) MoveFaces(ctx context.Context, oldPersonID, newPersonID string) (int, error) {
	m := tx.store
	if m.MoveFacesError != nil {
		return 0, m.MoveFacesError
	}
	if m.MoveAborts > 0 {
		m.MoveAborts--
		return 0, apperrors.New(apperrors.CodeTransactionAborted, "could not serialize access, try again")
	}
	if m.MoveConflicts > 0 {
		m.MoveConflicts--
		return 0, apperrors.New(apperrors.CodeConflictDuringReassign, "duplicate person on asset")
	}

	conflicts, _ := tx.ConflictingAssets(ctx, oldPersonID, newPersonID)
	if len(conflicts) > 0 {
		return 0, apperrors.New(apperrors.CodeConflictDuringReassign, "duplicate person on asset",
			apperrors.Field("asset_ids", conflicts))
	}

	n := 0
	for id, p := range tx.staged {
		if p != nil && *p == oldPersonID {
			v := newPersonID
			tx.staged[id] = &v
			n++
		}
	}
	return n, nil
}

func (tx *reassignTx) Commit() error {
	if tx.done {
		return sql.ErrTxDone
	}
	tx.done = true
	defer tx.store.mu.Unlock()

	for id, p := range tx.staged {
		f := tx.store.faces[id]
		f.PersonID = p
		tx.store.faces[id] = f
	}
	return nil
}

func (tx *reassignTx) Rollback() error {
	if tx.done {
		return sql.ErrTxDone
	}
	tx.done = true
	tx.store.mu.Unlock()
	return nil
}

// Compile-time interface checks
var (
	_ database.SmartInfoStore = (*MockSmartInfoStore)(nil)
	_ database.FaceStore      = (*MockFaceStore)(nil)
	_ database.PersonWriter   = (*MockStore)(nil)
	_ database.AssetWriter    = (*MockStore)(nil)
)
