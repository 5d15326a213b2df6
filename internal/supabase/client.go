package supabase

import (
	"github.com/supabase-community/supabase-go"
	"listing-studio-backend/internal/config"
)

type Client struct {
	Supabase *supabase.Client
	Config   *config.Config
}

// NewClient builds a service-role client; it bypasses row level security.
func NewClient(cfg *config.Config) (*Client, error) {
	client, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, nil)
	if err != nil {
		return nil, err
	}

	return &Client{
		Supabase: client,
		Config:   cfg,
	}, nil
}
