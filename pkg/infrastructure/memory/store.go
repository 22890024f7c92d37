package memory

import (
	"context"
	"sync"

	"storefront/pkg/domain/model"
)

type SettingsRepository struct {
	mu       sync.RWMutex
	settings model.Settings
}

func NewSettingsRepository(initial model.Settings) *SettingsRepository {
	return &SettingsRepository{settings: initial}
}

func (r *SettingsRepository) Get(context.Context) (model.Settings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings, nil
}

func (r *SettingsRepository) Save(_ context.Context, settings model.Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings = settings
	return nil
}

// CartStorage keeps serialized carts per session.
type CartStorage struct {
	mu    sync.RWMutex
	carts map[string][]byte
}

func NewCartStorage() *CartStorage {
	return &CartStorage{carts: make(map[string][]byte)}
}

func (s *CartStorage) Load(_ context.Context, session string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.carts[session]
	if !ok {
		return nil, model.ErrCartNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *CartStorage) Save(_ context.Context, session string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts[session] = append([]byte(nil), data...)
	return nil
}

func (s *CartStorage) Delete(_ context.Context, session string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, session)
	return nil
}
