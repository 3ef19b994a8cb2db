package repository

import (
	"context"
	"sync"

	"github.com/Dhoini/purchase-lifecycle/pkg/logger"
)

// Feed оборачивает Store и рассылает новый список после каждой записи
type Feed[T any] struct {
	store Store[T]
	log   *logger.Logger

	mu     sync.Mutex
	nextID int
	subs   map[int]chan struct{}
}

// NewFeed создает ленту изменений поверх store
func NewFeed[T any](store Store[T], log *logger.Logger) *Feed[T] {
	return &Feed[T]{store: store, log: log, subs: make(map[int]chan struct{})}
}

// List читает текущие записи из хранилища
func (f *Feed[T]) List(ctx context.Context) ([]T, error) {
	return f.store.List(ctx)
}

// InsertAll пишет записи и уведомляет подписчиков
func (f *Feed[T]) InsertAll(ctx context.Context, records []T) error {
	if err := f.store.InsertAll(ctx, records); err != nil {
		return err
	}
	f.notify()
	return nil
}

func (f *Feed[T]) notify() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// GetAll возвращает поток списков: текущий список сразу и новый после каждой
// записи. Поток закрывается при отмене ctx. Медленный читатель получает
// только последний список.
func (f *Feed[T]) GetAll(ctx context.Context) <-chan []T {
	signal := make(chan struct{}, 1)
	signal <- struct{}{}

	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = signal
	f.mu.Unlock()

	out := make(chan []T)
	go func() {
		defer close(out)
		defer func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-signal:
			}

			list, err := f.store.List(ctx)
			if err != nil {
				f.log.Errorw("Failed to read records for feed", "error", err)
				continue
			}

			select {
			case out <- list:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
