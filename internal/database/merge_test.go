package database_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wipfli/immich/internal/database"
	"github.com/wipfli/immich/internal/database/mock"
	apperrors "github.com/wipfli/immich/internal/errors"
)

func TestMergePersons(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockStore(2, 2)
	store.AddAsset(database.Asset{ID: "a1", OwnerID: "u1"})
	store.AddAsset(database.Asset{ID: "a2", OwnerID: "u1"})
	store.AddAsset(database.Asset{ID: "b1", OwnerID: "u2"})

	for _, p := range []database.Person{
		{ID: "target", OwnerID: "u1", Name: "Alice"},
		{ID: "dup1", OwnerID: "u1"},
		{ID: "dup2", OwnerID: "u1"},
		{ID: "foreign", OwnerID: "u2"},
	} {
		_, err := store.CreatePerson(ctx, p)
		require.NoError(t, err)
	}

	link := func(faceID, assetID, ownerID, personID string) {
		require.NoError(t, store.FaceStore().UpsertFace(ctx, ownerID, database.Face{
			ID: faceID, AssetID: assetID, PersonID: &personID, Embedding: []float32{1, 0},
		}))
	}
	link("f1", "a1", "u1", "target")
	link("f2", "a1", "u1", "dup1")
	link("f3", "a2", "u1", "dup2")
	link("f4", "b1", "u2", "foreign")

	results, err := database.MergePersons(ctx, store, "target", []string{"dup1", "dup2", "missing", "foreign", "target"})
	require.NoError(t, err)
	require.Len(t, results, 5)

	assert.True(t, results[0].Success)
	assert.Equal(t, 1, results[0].Detached)
	assert.Equal(t, []string{"a1"}, results[0].ConflictAssetIDs)

	assert.True(t, results[1].Success)
	assert.Equal(t, 1, results[1].Moved)

	for _, r := range results[2:] {
		assert.False(t, r.Success, r.SourceID)
		assert.NotEmpty(t, r.Error)
	}

	for _, id := range []string{"dup1", "dup2"} {
		p, err := store.GetPerson(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, p, "%s should be deleted", id)
	}

	target, err := store.GetPerson(ctx, "target")
	require.NoError(t, err)
	assert.Equal(t, 2, target.FaceCount)

	foreign, err := store.GetPerson(ctx, "foreign")
	require.NoError(t, err)
	assert.NotNil(t, foreign)
}

func TestMergePersons_MissingTarget(t *testing.T) {
	store := mock.NewMockStore(2, 2)
	_, err := database.MergePersons(context.Background(), store, "nobody", []string{"p1"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

func TestMergePersons_DeleteRetried(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) *mock.MockStore {
		store := mock.NewMockStore(2, 2)
		store.AddAsset(database.Asset{ID: "a1", OwnerID: "u1"})
		for _, id := range []string{"target", "dup"} {
			_, err := store.CreatePerson(ctx, database.Person{ID: id, OwnerID: "u1"})
			require.NoError(t, err)
		}
		dup := "dup"
		require.NoError(t, store.FaceStore().UpsertFace(ctx, "u1", database.Face{
			ID: "f1", AssetID: "a1", PersonID: &dup, Embedding: []float32{1, 0},
		}))
		return store
	}

	t.Run("transient failure", func(t *testing.T) {
		store := setup(t)
		store.DeleteFailures = 1

		results, err := database.MergePersons(ctx, store, "target", []string{"dup"})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.True(t, results[0].Success, results[0].Error)

		p, err := store.GetPerson(ctx, "dup")
		require.NoError(t, err)
		assert.Nil(t, p)
	})

	t.Run("persistent failure", func(t *testing.T) {
		store := setup(t)
		store.DeleteFailures = 10

		results, err := database.MergePersons(ctx, store, "target", []string{"dup"})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.False(t, results[0].Success)
		assert.Equal(t, 1, results[0].Moved)
		assert.Contains(t, results[0].Error, "people orphans --delete")

		// the emptied source is left behind as an orphan
		orphans, err := store.PersonsWithoutFaces(ctx)
		require.NoError(t, err)
		require.Len(t, orphans, 1)
		assert.Equal(t, "dup", orphans[0].ID)
	})
}
