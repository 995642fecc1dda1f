package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/namikmesic/varys/internal/settings"
)

const defaultProfile = "default"

// SettingsCache is the local copy of the backend settings used when the
// backend cannot be reached.
type SettingsCache struct {
	pool    *pgxpool.Pool
	profile string
}

func NewSettingsCache(pool *pgxpool.Pool, profile string) *SettingsCache {
	if profile == "" {
		profile = defaultProfile
	}
	return &SettingsCache{pool: pool, profile: profile}
}

var _ settings.Cache = (*SettingsCache)(nil)

// Load returns nil, nil when nothing has been cached yet.
func (c *SettingsCache) Load(ctx context.Context) ([]byte, error) {
	var data []byte
	err := c.pool.QueryRow(ctx, `SELECT data FROM settings_cache WHERE profile = $1`, c.profile).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cached settings: %w", err)
	}
	return data, nil
}

func (c *SettingsCache) Save(ctx context.Context, data []byte) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO settings_cache (profile, data) VALUES ($1, $2)
		ON CONFLICT (profile) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		c.profile, data,
	)
	if err != nil {
		return fmt.Errorf("save cached settings: %w", err)
	}
	return nil
}
