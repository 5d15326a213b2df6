package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"listing-studio-backend/internal/models"
	"listing-studio-backend/internal/services"
	"listing-studio-backend/internal/storagekey"
)

func seedProjectBlobs(store *memStore, project *models.Project, n int) []string {
	var keys []string
	for i := 0; i < n; i++ {
		id := uuid.New()
		for _, kind := range []storagekey.Kind{storagekey.KindOriginal, storagekey.KindResult} {
			key := storagekey.Key(project.WorkspaceID, project.ID, kind, id, "image/jpeg")
			store.objects[key] = []byte("x")
			keys = append(keys, key)
		}
	}
	return keys
}

func TestProjectCleaner_DeletesBlobsAndRows(t *testing.T) {
	ledger, store := newMemLedger(), newMemStore()
	project := ledger.addProject(2)
	other := ledger.addProject(1)
	ledger.addImage(models.Image{ProjectID: project.ID})
	ledger.addImage(models.Image{ProjectID: project.ID})
	keep := ledger.addImage(models.Image{ProjectID: other.ID})

	keys := seedProjectBlobs(store, project, 2)
	otherKeys := seedProjectBlobs(store, other, 1)

	cleaner := services.NewProjectCleaner(ledger, store, zerolog.Nop())
	require.NoError(t, cleaner.Delete(context.Background(), project))

	assert.ElementsMatch(t, keys, store.deleted)
	for _, key := range otherKeys {
		assert.Contains(t, store.objects, key)
	}

	_, err := ledger.GetProjectByID(context.Background(), project.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	remaining := ledger.allImages()
	require.Len(t, remaining, 1)
	assert.Equal(t, keep.ID, remaining[0].ID)
}

func TestProjectCleaner_StorageFailureDoesNotBlockDelete(t *testing.T) {
	ledger, store := newMemLedger(), newMemStore()
	project := ledger.addProject(1)
	ledger.addImage(models.Image{ProjectID: project.ID})
	keys := seedProjectBlobs(store, project, 3)
	store.deleteErr = errors.New("storage unavailable")

	cleaner := services.NewProjectCleaner(ledger, store, zerolog.Nop())
	err := cleaner.Delete(context.Background(), project)

	require.NoError(t, err)
	assert.ElementsMatch(t, keys, store.deleted)
	assert.Empty(t, ledger.allImages())
	_, err = ledger.GetProjectByID(context.Background(), project.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestProjectCleaner_ListFailureStillDeletesOtherPrefix(t *testing.T) {
	ledger, store := newMemLedger(), newMemStore()
	project := ledger.addProject(1)
	seedProjectBlobs(store, project, 2)
	store.listErr[storagekey.KindPrefix(project.WorkspaceID, project.ID, storagekey.KindOriginal)] = errors.New("list failed")

	cleaner := services.NewProjectCleaner(ledger, store, zerolog.Nop())
	require.NoError(t, cleaner.Delete(context.Background(), project))

	assert.Len(t, store.deleted, 2)
	for _, key := range store.deleted {
		assert.Contains(t, key, "/result/")
	}
}

func TestProjectCleaner_LedgerErrorSurfaces(t *testing.T) {
	ledger, store := newMemLedger(), newMemStore()
	project := ledger.addProject(1)
	ledger.deleteErr = errors.New("connection reset")

	cleaner := services.NewProjectCleaner(ledger, store, zerolog.Nop())
	err := cleaner.Delete(context.Background(), project)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}
