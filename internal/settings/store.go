package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Remote is the backend settings endpoint.
type Remote interface {
	GetSettings(ctx context.Context) (Settings, error)
	UpdateSettings(ctx context.Context, s Settings) (Settings, error)
	ResetSettings(ctx context.Context) (Settings, error)
}

// Cache keeps the last known settings as raw JSON. Load returns nil, nil
// when nothing has been cached yet.
type Cache interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

// Store resolves settings remote-first and falls back to the cache, then
// to defaults.
type Store struct {
	remote Remote
	cache  Cache

	mu      sync.Mutex
	current Settings
	lastErr error
}

func NewStore(remote Remote, cache Cache) *Store {
	if cache == nil {
		cache = nopCache{}
	}
	return &Store{remote: remote, cache: cache, current: Default()}
}

// Load refreshes the settings. It only fails when the context is done;
// remote failures are kept in LastError and the fallback chain is used.
func (s *Store) Load(ctx context.Context) (Settings, error) {
	remote, err := s.remote.GetSettings(ctx)
	if err == nil {
		s.save(ctx, remote)
		s.setCurrent(remote, nil)
		return remote, nil
	}
	if ctx.Err() != nil {
		return Settings{}, ctx.Err()
	}
	log.Warn().Err(err).Msg("failed to load remote settings, using local copy")

	fallback := Default()
	if cached, ok := s.loadCached(ctx); ok {
		fallback = cached
	}
	s.setCurrent(fallback, fmt.Errorf("load settings: %w", err))
	return fallback, nil
}

func (s *Store) Update(ctx context.Context, next Settings) (Settings, error) {
	if err := next.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	if _, err := s.remote.UpdateSettings(ctx, next); err != nil {
		s.setLastError(fmt.Errorf("update settings: %w", err))
		return Settings{}, fmt.Errorf("update settings: %w", err)
	}
	s.save(ctx, next)
	s.setCurrent(next, nil)
	return next, nil
}

func (s *Store) Reset(ctx context.Context) (Settings, error) {
	if _, err := s.remote.ResetSettings(ctx); err != nil {
		s.setLastError(fmt.Errorf("reset settings: %w", err))
		return Settings{}, fmt.Errorf("reset settings: %w", err)
	}
	def := Default()
	s.save(ctx, def)
	s.setCurrent(def, nil)
	return def, nil
}

func (s *Store) Current() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Store) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Store) setCurrent(cur Settings, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = cur
	s.lastErr = err
}

func (s *Store) setLastError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
}

func (s *Store) save(ctx context.Context, cur Settings) {
	data, err := json.Marshal(cur)
	if err != nil {
		return
	}
	if err := s.cache.Save(ctx, data); err != nil {
		log.Warn().Err(err).Msg("failed to cache settings")
	}
}

func (s *Store) loadCached(ctx context.Context) (Settings, bool) {
	data, err := s.cache.Load(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read cached settings")
		return Settings{}, false
	}
	if len(data) == 0 {
		return Settings{}, false
	}
	var cached Settings
	if err := json.Unmarshal(data, &cached); err != nil {
		log.Warn().Err(err).Msg("discarding corrupt cached settings")
		return Settings{}, false
	}
	return cached, true
}

type nopCache struct{}

func (nopCache) Load(context.Context) ([]byte, error) { return nil, nil }
func (nopCache) Save(context.Context, []byte) error   { return nil }
