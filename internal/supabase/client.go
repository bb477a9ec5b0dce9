package supabase

import (
	"fmt"

	"citysnap-backend/internal/config"
	"github.com/supabase-community/supabase-go"
)

// NewClient builds the PostgREST-backed Supabase client used for realtime events.
func NewClient(cfg *config.Config) (*supabase.Client, error) {
	client, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return client, nil
}
