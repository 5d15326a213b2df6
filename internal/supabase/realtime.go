package supabase

import (
	"context"
	"fmt"

	"github.com/supabase-community/supabase-go"
	"listing-studio-backend/internal/models"
)

const imageEventsTable = "image_events"

// RealtimeClient publishes image transitions. The Go client has no direct
// Realtime broadcast, so events are inserted into a table that Realtime
// replicates to subscribers of the project channel.
type RealtimeClient struct {
	insert func(table string, row interface{}) error
}

func NewRealtimeClient(client *supabase.Client) *RealtimeClient {
	return &RealtimeClient{
		insert: func(table string, row interface{}) error {
			_, _, err := client.From(table).Insert(row, false, "", "minimal", "").Execute()
			return err
		},
	}
}

func (r *RealtimeClient) PublishImageEvent(ctx context.Context, event models.ImageEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := r.insert(imageEventsTable, event); err != nil {
		return fmt.Errorf("failed to publish %s for image %s: %w", event.Event, event.ImageID, err)
	}
	return nil
}
