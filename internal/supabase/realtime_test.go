package supabase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"listing-studio-backend/internal/models"
	"listing-studio-backend/internal/supabase"
)

func TestRealtimeClient_PublishImageEvent(t *testing.T) {
	var table string
	var row interface{}
	client := supabase.NewRealtimeClientWithInserter(func(tb string, r interface{}) error {
		table, row = tb, r
		return nil
	})

	img := &models.Image{ID: uuid.New(), ProjectID: uuid.New()}
	err := client.PublishImageEvent(context.Background(), models.NewCompletedEvent(img, "https://cdn/x.png"))

	require.NoError(t, err)
	assert.Equal(t, "image_events", table)
	event := row.(models.ImageEvent)
	assert.Equal(t, models.EventImageCompleted, event.Event)
	assert.Equal(t, img.ID, event.ImageID)
	assert.Equal(t, "https://cdn/x.png", event.ResultImageURL)
}

func TestRealtimeClient_PublishError(t *testing.T) {
	client := supabase.NewRealtimeClientWithInserter(func(string, interface{}) error {
		return errors.New("postgrest down")
	})

	img := &models.Image{ID: uuid.New(), ProjectID: uuid.New()}
	err := client.PublishImageEvent(context.Background(), models.NewFailedEvent(img, "boom"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "image.failed")
}
