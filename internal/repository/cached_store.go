package repository

import (
	"context"
	"errors"

	"github.com/Dhoini/purchase-lifecycle/pkg/logger"
)

// CachedStore читает список через кеш, запись идет в основное хранилище
type CachedStore[T any] struct {
	store Store[T]
	cache Cache
	key   string
	log   *logger.Logger
}

// NewCachedStore оборачивает store. name различает списки в кеше.
func NewCachedStore[T any](store Store[T], cache Cache, name string, log *logger.Logger) *CachedStore[T] {
	return &CachedStore[T]{
		store: store,
		cache: cache,
		key:   statusKeyPrefix + name,
		log:   log,
	}
}

// List возвращает записи из кеша, при промахе читает хранилище
func (s *CachedStore[T]) List(ctx context.Context) ([]T, error) {
	var cached []T
	err := s.cache.Get(ctx, s.key, &cached)
	switch {
	case err == nil:
		s.log.Debugw("Statuses found in cache", "key", s.key, "count", len(cached))
		return cached, nil
	case errors.Is(err, ErrCacheMiss):
	default:
		// Продолжаем выполнение при ошибке кеша
		s.log.Warnw("Error getting statuses from cache", "error", err, "key", s.key)
	}

	records, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, s.key, records); err != nil {
		s.log.Warnw("Failed to cache statuses", "error", err, "key", s.key)
	}
	return records, nil
}

// InsertAll пишет в хранилище и инвалидирует кеш
func (s *CachedStore[T]) InsertAll(ctx context.Context, records []T) error {
	if err := s.store.InsertAll(ctx, records); err != nil {
		return err
	}

	if err := s.cache.Delete(ctx, s.key); err != nil {
		s.log.Warnw("Failed to invalidate statuses cache", "error", err, "key", s.key)
	}
	return nil
}
