package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/liftbank/operations-engine/internal/model"
	"github.com/liftbank/operations-engine/internal/operation"
)

func seedOperation(t *testing.T, db *gorm.DB, id string, state operation.State, ownerWallet uint64, ownerValue int64, createdAt time.Time) {
	t.Helper()
	m := &model.Operation{
		ID:                id,
		TransactionTypeID: 4,
		CurrencyID:        1,
		RawValue:          ownerValue,
		OwnerValue:        ownerValue,
		State:             string(state),
		CreatedAt:         createdAt,
	}
	if ownerWallet != 0 {
		m.OwnerWalletAccountID = &ownerWallet
	}
	require.NoError(t, db.Create(m).Error)
}

func seedExpiredReservation(t *testing.T, db *gorm.DB, id, operationID string, walletID uint64, value int64, kind operation.ReservationKind) {
	t.Helper()
	require.NoError(t, db.Create(&model.PendingWalletAccountTransaction{
		ID:              id,
		OperationID:     operationID,
		WalletAccountID: walletID,
		Value:           value,
		Kind:            string(kind),
		ExpiresAt:       time.Now().Add(-time.Minute),
	}).Error)
}

func TestReconcileReservations_CommitsForAccepted(t *testing.T) {
	eng, _, db := newTestEngine(t)
	ctx := context.Background()
	seedCatalog(t, db)
	require.NoError(t, db.Create(&model.WalletAccount{
		ID: 1, UUID: "wa-1", WalletID: 1, UserID: 10, CurrencyID: 1, Balance: 1000, PendingAmount: 200,
	}).Error)
	seedOperation(t, db, "op-1", operation.StateAccepted, 1, 200, time.Now())
	seedExpiredReservation(t, db, "res-1", "op-1", 1, 200, operation.ReservationDebit)

	n, err := eng.ReconcileReservations(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	w := reloadWallet(t, db, 1)
	assert.Equal(t, int64(800), w.Balance)
	assert.Equal(t, int64(0), w.PendingAmount)
	assert.Equal(t, int64(0), pendingCount(t, db))
}

func TestReconcileReservations_ReleasesForReverted(t *testing.T) {
	eng, _, db := newTestEngine(t)
	ctx := context.Background()
	seedCatalog(t, db)
	require.NoError(t, db.Create(&model.WalletAccount{
		ID: 1, UUID: "wa-1", WalletID: 1, UserID: 10, CurrencyID: 1, Balance: 1000, PendingAmount: 200,
	}).Error)
	seedOperation(t, db, "op-1", operation.StateReverted, 1, 200, time.Now())
	seedExpiredReservation(t, db, "res-1", "op-1", 1, 200, operation.ReservationDebit)

	n, err := eng.ReconcileReservations(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	w := reloadWallet(t, db, 1)
	assert.Equal(t, int64(1000), w.Balance)
	assert.Equal(t, int64(0), w.PendingAmount)
	assert.Equal(t, int64(0), pendingCount(t, db))
}

func TestReconcileReservations_RevertsAbandonedPending(t *testing.T) {
	eng, r, db := newTestEngine(t)
	ctx := context.Background()
	seedCatalog(t, db)
	require.NoError(t, db.Create(&model.WalletAccount{
		ID: 1, UUID: "wa-1", WalletID: 1, UserID: 10, CurrencyID: 1, Balance: 1000, PendingAmount: 200,
	}).Error)
	seedOperation(t, db, "op-1", operation.StatePending, 1, 200, time.Now())
	seedExpiredReservation(t, db, "res-1", "op-1", 1, 200, operation.ReservationDebit)

	n, err := eng.ReconcileReservations(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	op, err := eng.GetOperation(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, operation.StateReverted, op.State)
	w := reloadWallet(t, db, 1)
	assert.Equal(t, int64(1000), w.Balance)
	assert.Equal(t, int64(0), w.PendingAmount)

	found, err := r.FindOutboxEvent(ctx, "Operation", "op-1", "operation.reverted")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestReconcileReservations_DropsOrphans(t *testing.T) {
	eng, _, db := newTestEngine(t)
	ctx := context.Background()
	seedCatalog(t, db)
	require.NoError(t, db.Create(&model.WalletAccount{
		ID: 1, UUID: "wa-1", WalletID: 1, UserID: 10, CurrencyID: 1, Balance: 1000, PendingAmount: 200,
	}).Error)
	seedExpiredReservation(t, db, "res-1", "op-gone", 1, 200, operation.ReservationDebit)

	n, err := eng.ReconcileReservations(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(0), pendingCount(t, db))
	assert.Equal(t, int64(0), reloadWallet(t, db, 1).PendingAmount)
}

func TestReconcileReservations_InTTLRowsUntouched(t *testing.T) {
	eng, _, db := newTestEngine(t)
	ctx := context.Background()
	seedCatalog(t, db)
	require.NoError(t, db.Create(&model.WalletAccount{
		ID: 1, UUID: "wa-1", WalletID: 1, UserID: 10, CurrencyID: 1, Balance: 1000, PendingAmount: 200,
	}).Error)
	seedOperation(t, db, "op-1", operation.StatePending, 1, 200, time.Now())
	require.NoError(t, db.Create(&model.PendingWalletAccountTransaction{
		ID: "res-1", OperationID: "op-1", WalletAccountID: 1, Value: 200,
		Kind: string(operation.ReservationDebit), ExpiresAt: time.Now().Add(time.Minute),
	}).Error)

	n, err := eng.ReconcileReservations(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, int64(1), pendingCount(t, db))
	assert.Equal(t, int64(200), reloadWallet(t, db, 1).PendingAmount)
}

func TestRefreshTrackers_RecomputesFromAcceptedOperations(t *testing.T) {
	eng, r, db := newTestEngine(t)
	ctx := context.Background()
	seedCatalog(t, db)
	seedWallet(t, db, 1, 10, 0)

	windowStart := time.Now().Add(-time.Hour)
	require.NoError(t, db.Create(&model.UserLimitTracker{
		UserID: 10, LimitTypeID: 2, UsedAmount: 999,
		WindowStart: windowStart, WindowSeconds: 86400,
	}).Error)

	// two accepted inside the window, one reverted, one before the window
	seedOperation(t, db, "op-1", operation.StateAccepted, 1, 300, time.Now().Add(-30*time.Minute))
	seedOperation(t, db, "op-2", operation.StateAccepted, 1, 150, time.Now().Add(-10*time.Minute))
	seedOperation(t, db, "op-3", operation.StateReverted, 1, 500, time.Now().Add(-20*time.Minute))
	seedOperation(t, db, "op-4", operation.StateAccepted, 1, 700, time.Now().Add(-2*time.Hour))

	n, err := eng.RefreshTrackers(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tracker, err := r.GetTracker(ctx, 10, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(450), tracker.UsedAmount)

	// recompute is idempotent
	_, err = eng.RefreshTrackers(ctx, 10)
	require.NoError(t, err)
	tracker, err = r.GetTracker(ctx, 10, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(450), tracker.UsedAmount)
}

func TestResetLimitWindows(t *testing.T) {
	eng, r, db := newTestEngine(t)
	ctx := context.Background()
	seedCatalog(t, db)
	now := time.Now()
	seedUserLimit(t, db, 10, 1, func(l *model.UserLimit) {
		l.UsedDailyLimit = 400
		l.UsedMonthlyLimit = 900
		l.UsedYearlyLimit = 1500
		l.UsedNightlyLimit = 100
		l.DailyResetAt = now.Add(-24 * time.Hour)
		l.MonthlyResetAt = now.AddDate(0, -1, -1)
		l.YearlyResetAt = now.AddDate(-1, 0, -1)
	})
	// a limit reset today stays untouched
	seedUserLimit(t, db, 11, 1, func(l *model.UserLimit) { l.UsedDailyLimit = 250 })

	n, err := eng.ResetLimitWindows(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	reset, err := r.GetUserLimit(ctx, 10, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), reset.UsedDailyLimit)
	assert.Equal(t, int64(0), reset.UsedMonthlyLimit)
	assert.Equal(t, int64(0), reset.UsedYearlyLimit)
	assert.Equal(t, int64(0), reset.UsedNightlyLimit)

	kept, err := r.GetUserLimit(ctx, 11, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(250), kept.UsedDailyLimit)
}
