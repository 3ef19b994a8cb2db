// Package repository хранит снимки статусов покупок.
package repository

import (
	"context"
	"fmt"

	"github.com/Dhoini/purchase-lifecycle/internal/domain"
)

// Store список записей, заменяемых целиком по purchase token.
// InsertAll делает upsert и никогда не удаляет старые записи.
type Store[T any] interface {
	List(ctx context.Context) ([]T, error)
	InsertAll(ctx context.Context, records []T) error
}

// SubscriptionStore хранилище статусов подписок
type SubscriptionStore = Store[domain.SubscriptionStatus]

// OneTimeProductStore хранилище статусов разовых покупок
type OneTimeProductStore = Store[domain.OneTimeProductStatus]

// SubscriptionKey ключ записи подписки
func SubscriptionKey(s domain.SubscriptionStatus) string { return s.PurchaseToken }

// OneTimeProductKey ключ записи разовой покупки
func OneTimeProductKey(s domain.OneTimeProductStatus) string { return s.PurchaseToken }

// validateKeys проверяет, что у всех записей есть ключ
func validateKeys[T any](records []T, key func(T) string) error {
	for i, r := range records {
		if key(r) == "" {
			return fmt.Errorf("record %d: empty purchase token: %w", i, ErrInvalidData)
		}
	}
	return nil
}
