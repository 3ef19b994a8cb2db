package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dhoini/purchase-lifecycle/internal/domain"
	"github.com/Dhoini/purchase-lifecycle/internal/repository"
	"github.com/Dhoini/purchase-lifecycle/pkg/logger"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return sqlx.NewDb(db, "pgx"), mock
}

func TestSubscriptionStore_InsertAll(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewSubscriptionStore(db, logger.NewNop())

	records := []domain.SubscriptionStatus{
		{PurchaseToken: "t1", Product: domain.BasicProduct, IsLocalPurchase: true, IsEntitlementActive: true},
		{PurchaseToken: "t2", Product: domain.PremiumProduct, IsAcknowledged: true},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO subscription_statuses").
		WithArgs("t1", domain.BasicProduct, true, false, true, false, false, false, false, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO subscription_statuses").
		WithArgs("t2", domain.PremiumProduct, false, false, false, false, true, false, false, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.InsertAll(context.Background(), records))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionStore_InsertAllRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewSubscriptionStore(db, logger.NewNop())

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO subscription_statuses").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := store.InsertAll(context.Background(), []domain.SubscriptionStatus{{PurchaseToken: "t1", Product: domain.BasicProduct}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionStore_InsertAllRejectsEmptyToken(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewSubscriptionStore(db, logger.NewNop())

	err := store.InsertAll(context.Background(), []domain.SubscriptionStatus{{Product: domain.BasicProduct}})
	assert.ErrorIs(t, err, repository.ErrInvalidData)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionStore_InsertAllEmpty(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewSubscriptionStore(db, logger.NewNop())

	assert.NoError(t, store.InsertAll(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionStore_List(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewSubscriptionStore(db, logger.NewNop())

	rows := sqlmock.NewRows([]string{
		"purchase_token", "product", "is_local_purchase", "sub_already_owned",
		"is_entitlement_active", "will_renew", "is_acknowledged",
		"is_grace_period", "is_account_hold", "is_paused",
	}).
		AddRow("t1", domain.BasicProduct, true, false, true, true, true, false, false, false).
		AddRow("t2", domain.PremiumProduct, false, false, true, false, true, true, false, false)
	mock.ExpectQuery("SELECT (.+) FROM subscription_statuses").WillReturnRows(rows)

	list, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "t1", list[0].PurchaseToken)
	assert.True(t, list[0].WillRenew)
	assert.True(t, list[1].IsGracePeriod)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionStore_ListEmpty(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewSubscriptionStore(db, logger.NewNop())

	mock.ExpectQuery("SELECT (.+) FROM subscription_statuses").
		WillReturnRows(sqlmock.NewRows([]string{"purchase_token", "product"}))

	list, err := store.List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestOneTimeProductStore_RoundTrip(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewOneTimeProductStore(db, logger.NewNop())

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO one_time_product_statuses").
		WithArgs("o1", domain.OneTimeProduct, true, false, true, true, false, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.InsertAll(context.Background(), []domain.OneTimeProductStatus{{
		PurchaseToken: "o1", Product: domain.OneTimeProduct, IsLocalPurchase: true,
		IsEntitlementActive: true, IsAcknowledged: true, Quantity: 1,
	}}))

	rows := sqlmock.NewRows([]string{
		"purchase_token", "product", "is_local_purchase", "is_already_owned",
		"is_entitlement_active", "is_acknowledged", "is_consumed", "quantity",
	}).AddRow("o1", domain.OneTimeProduct, true, false, true, true, false, 1)
	mock.ExpectQuery("SELECT (.+) FROM one_time_product_statuses").WillReturnRows(rows)

	list, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].Quantity)
	assert.NoError(t, mock.ExpectationsWereMet())
}
