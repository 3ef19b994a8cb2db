package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/Dhoini/purchase-lifecycle/internal/domain"
	"github.com/Dhoini/purchase-lifecycle/internal/repository"
	"github.com/Dhoini/purchase-lifecycle/pkg/logger"
)

const (
	upsertSubscriptionQuery = `
        INSERT INTO subscription_statuses (
            purchase_token, product, is_local_purchase, sub_already_owned,
            is_entitlement_active, will_renew, is_acknowledged,
            is_grace_period, is_account_hold, is_paused, updated_at
        ) VALUES (
            :purchase_token, :product, :is_local_purchase, :sub_already_owned,
            :is_entitlement_active, :will_renew, :is_acknowledged,
            :is_grace_period, :is_account_hold, :is_paused, NOW()
        )
        ON CONFLICT (purchase_token) DO UPDATE SET
            product = EXCLUDED.product,
            is_local_purchase = EXCLUDED.is_local_purchase,
            sub_already_owned = EXCLUDED.sub_already_owned,
            is_entitlement_active = EXCLUDED.is_entitlement_active,
            will_renew = EXCLUDED.will_renew,
            is_acknowledged = EXCLUDED.is_acknowledged,
            is_grace_period = EXCLUDED.is_grace_period,
            is_account_hold = EXCLUDED.is_account_hold,
            is_paused = EXCLUDED.is_paused,
            updated_at = NOW()`

	listSubscriptionsQuery = `
        SELECT purchase_token, product, is_local_purchase, sub_already_owned,
               is_entitlement_active, will_renew, is_acknowledged,
               is_grace_period, is_account_hold, is_paused
        FROM subscription_statuses
        ORDER BY product, purchase_token`

	upsertOneTimeProductQuery = `
        INSERT INTO one_time_product_statuses (
            purchase_token, product, is_local_purchase, is_already_owned,
            is_entitlement_active, is_acknowledged, is_consumed, quantity, updated_at
        ) VALUES (
            :purchase_token, :product, :is_local_purchase, :is_already_owned,
            :is_entitlement_active, :is_acknowledged, :is_consumed, :quantity, NOW()
        )
        ON CONFLICT (purchase_token) DO UPDATE SET
            product = EXCLUDED.product,
            is_local_purchase = EXCLUDED.is_local_purchase,
            is_already_owned = EXCLUDED.is_already_owned,
            is_entitlement_active = EXCLUDED.is_entitlement_active,
            is_acknowledged = EXCLUDED.is_acknowledged,
            is_consumed = EXCLUDED.is_consumed,
            quantity = EXCLUDED.quantity,
            updated_at = NOW()`

	listOneTimeProductsQuery = `
        SELECT purchase_token, product, is_local_purchase, is_already_owned,
               is_entitlement_active, is_acknowledged, is_consumed, quantity
        FROM one_time_product_statuses
        ORDER BY product, purchase_token`
)

// statusStore общая реализация хранилища статусов для одной таблицы
type statusStore[T any] struct {
	db     *sqlx.DB
	log    *logger.Logger
	table  string
	upsert string
	list   string
	key    func(T) string
}

var (
	_ repository.SubscriptionStore   = (*SubscriptionStore)(nil)
	_ repository.OneTimeProductStore = (*OneTimeProductStore)(nil)
)

// SubscriptionStore хранит статусы подписок в subscription_statuses
type SubscriptionStore struct {
	statusStore[domain.SubscriptionStatus]
}

// NewSubscriptionStore создает хранилище статусов подписок
func NewSubscriptionStore(db *sqlx.DB, log *logger.Logger) *SubscriptionStore {
	return &SubscriptionStore{statusStore[domain.SubscriptionStatus]{
		db:     db,
		log:    log,
		table:  "subscription_statuses",
		upsert: upsertSubscriptionQuery,
		list:   listSubscriptionsQuery,
		key:    func(s domain.SubscriptionStatus) string { return s.PurchaseToken },
	}}
}

// OneTimeProductStore хранит статусы разовых покупок в one_time_product_statuses
type OneTimeProductStore struct {
	statusStore[domain.OneTimeProductStatus]
}

// NewOneTimeProductStore создает хранилище статусов разовых покупок
func NewOneTimeProductStore(db *sqlx.DB, log *logger.Logger) *OneTimeProductStore {
	return &OneTimeProductStore{statusStore[domain.OneTimeProductStatus]{
		db:     db,
		log:    log,
		table:  "one_time_product_statuses",
		upsert: upsertOneTimeProductQuery,
		list:   listOneTimeProductsQuery,
		key:    func(s domain.OneTimeProductStatus) string { return s.PurchaseToken },
	}}
}

// List возвращает все записи таблицы
func (s *statusStore[T]) List(ctx context.Context) ([]T, error) {
	records := []T{}
	if err := s.db.SelectContext(ctx, &records, s.list); err != nil {
		s.log.Errorw("Failed to list statuses from DB", "error", err, "table", s.table)
		return nil, fmt.Errorf("repository: failed to list %s: %w", s.table, err)
	}

	s.log.Debugw("Successfully retrieved statuses", "table", s.table, "count", len(records))
	return records, nil
}

// InsertAll делает upsert всех записей в одной транзакции
func (s *statusStore[T]) InsertAll(ctx context.Context, records []T) (err error) {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		if s.key(r) == "" {
			return fmt.Errorf("repository: empty purchase token for %s: %w", s.table, repository.ErrInvalidData)
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.log.Errorw("Failed to rollback transaction", "error", rbErr, "table", s.table)
			}
		}
	}()

	for _, r := range records {
		if _, err = tx.NamedExecContext(ctx, s.upsert, r); err != nil {
			s.log.Errorw("Failed to upsert status", "error", err, "table", s.table, "purchaseToken", s.key(r))
			return fmt.Errorf("repository: failed to upsert into %s: %w", s.table, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("repository: failed to commit %s: %w", s.table, err)
	}

	s.log.Debugw("Successfully stored statuses", "table", s.table, "count", len(records))
	return nil
}
