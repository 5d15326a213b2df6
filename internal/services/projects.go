package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"listing-studio-backend/internal/models"
	"listing-studio-backend/internal/storagekey"
)

// ProjectCleaner deletes projects together with their stored blobs.
type ProjectCleaner struct {
	ledger Ledger
	store  ObjectStore
	log    zerolog.Logger
}

func NewProjectCleaner(ledger Ledger, store ObjectStore, log zerolog.Logger) *ProjectCleaner {
	return &ProjectCleaner{
		ledger: ledger,
		store:  store,
		log:    log.With().Str("component", "project_cleaner").Logger(),
	}
}

// Delete removes every blob under the project's original and result prefixes,
// then deletes the project row, which cascades to its images. Storage errors
// are logged and never prevent the relational delete.
func (c *ProjectCleaner) Delete(ctx context.Context, project *models.Project) error {
	log := c.log.With().Str("project_id", project.ID.String()).Logger()

	keys := c.listKeys(ctx, log, project)
	if len(keys) > 0 {
		if err := c.store.Delete(ctx, keys); err != nil {
			log.Error().Err(err).Int("keys", len(keys)).Msg("storage cleanup failed, blobs may be orphaned")
		} else {
			log.Info().Int("keys", len(keys)).Msg("deleted project blobs")
		}
	}

	if err := c.ledger.DeleteProject(ctx, project.ID); err != nil {
		return fmt.Errorf("failed to delete project %s: %w", project.ID, err)
	}
	return nil
}

func (c *ProjectCleaner) listKeys(ctx context.Context, log zerolog.Logger, project *models.Project) []string {
	var (
		mu   sync.Mutex
		keys []string
		g    errgroup.Group
	)

	for _, kind := range []storagekey.Kind{storagekey.KindOriginal, storagekey.KindResult} {
		prefix := storagekey.KindPrefix(project.WorkspaceID, project.ID, kind)
		g.Go(func() error {
			found, err := c.store.List(ctx, prefix)
			if err != nil {
				log.Error().Err(err).Str("prefix", prefix).Msg("failed to list project blobs")
				return nil
			}
			mu.Lock()
			keys = append(keys, found...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return keys
}
