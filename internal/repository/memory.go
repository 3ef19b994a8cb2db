package repository

import (
	"context"
	"sync"

	"github.com/Dhoini/purchase-lifecycle/internal/domain"
	"github.com/Dhoini/purchase-lifecycle/pkg/logger"
)

// MemoryStore хранилище в памяти, используется без DSN базы данных.
// Порядок записей совпадает с порядком первой вставки.
type MemoryStore[T any] struct {
	mu      sync.RWMutex
	key     func(T) string
	order   []string
	records map[string]T
	log     *logger.Logger
}

// NewMemoryStore создает хранилище с функцией ключа key
func NewMemoryStore[T any](key func(T) string, log *logger.Logger) *MemoryStore[T] {
	return &MemoryStore[T]{
		key:     key,
		records: make(map[string]T),
		log:     log,
	}
}

// NewMemorySubscriptionStore хранилище подписок в памяти
func NewMemorySubscriptionStore(log *logger.Logger) *MemoryStore[domain.SubscriptionStatus] {
	return NewMemoryStore(SubscriptionKey, log)
}

// NewMemoryOneTimeProductStore хранилище разовых покупок в памяти
func NewMemoryOneTimeProductStore(log *logger.Logger) *MemoryStore[domain.OneTimeProductStatus] {
	return NewMemoryStore(OneTimeProductKey, log)
}

// List возвращает все записи
func (s *MemoryStore[T]) List(_ context.Context) ([]T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]T, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.records[k])
	}
	return out, nil
}

// InsertAll заменяет записи с теми же ключами и добавляет новые
func (s *MemoryStore[T]) InsertAll(_ context.Context, records []T) error {
	if err := validateKeys(records, s.key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		k := s.key(r)
		if _, exists := s.records[k]; !exists {
			s.order = append(s.order, k)
		}
		s.records[k] = r
	}
	s.log.Debugw("Records stored in memory", "count", len(records), "total", len(s.order))
	return nil
}
