package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftbank/operations-engine/internal/model"
	"github.com/liftbank/operations-engine/internal/operation"
	"github.com/liftbank/operations-engine/internal/repo"
)

func i64(v int64) *int64 { return &v }

func str(v string) *string { return &v }

func TestUpdateUserLimit_PatchesExistingRow(t *testing.T) {
	eng, r, db := newTestEngine(t)
	ctx := context.Background()
	seedCatalog(t, db)
	seedUserLimit(t, db, 10, 1, func(l *model.UserLimit) { l.UsedDailyLimit = 300 })

	limit, err := eng.UpdateUserLimit(ctx, 10, "TRANSFER", LimitPatch{
		DailyLimit: i64(2000),
		MaxAmount:  i64(800),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2000), limit.DailyLimit)
	assert.Equal(t, int64(800), limit.MaxAmount)
	// untouched fields survive the patch; counters are never reset here
	assert.Equal(t, int64(1), limit.MinAmount)

	stored, err := r.GetUserLimit(ctx, 10, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), stored.DailyLimit)
	assert.Equal(t, int64(300), stored.UsedDailyLimit)
}

func TestUpdateUserLimit_CreatesFromGlobal(t *testing.T) {
	eng, r, db := newTestEngine(t)
	ctx := context.Background()
	seedCatalog(t, db)
	require.NoError(t, db.Create(&model.GlobalLimit{
		LimitTypeID: 1, DailyLimit: 1000, MaxAmount: 500, MinAmount: 1,
	}).Error)

	limit, err := eng.UpdateUserLimit(ctx, 10, "TRANSFER", LimitPatch{DailyLimit: i64(2000)})
	require.NoError(t, err)
	assert.Equal(t, int64(2000), limit.DailyLimit)
	// ceilings not named by the patch are inherited from the global row
	assert.Equal(t, int64(500), limit.MaxAmount)

	stored, err := r.GetUserLimit(ctx, 10, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), stored.DailyLimit)
	assert.Equal(t, int64(500), stored.MaxAmount)
}

func TestUpdateUserLimit_RejectsCrossFieldViolations(t *testing.T) {
	eng, r, db := newTestEngine(t)
	ctx := context.Background()
	seedCatalog(t, db)
	seedUserLimit(t, db, 10, 1, nil)

	tests := []struct {
		name  string
		patch LimitPatch
		code  operation.Code
	}{
		{"max above daily", LimitPatch{MaxAmount: i64(1500)}, operation.CodeMaxAmountAboveDailyLimit},
		{"daily under max", LimitPatch{DailyLimit: i64(400)}, operation.CodeDailyLimitUnderMaxAmount},
		{"min above max", LimitPatch{MinAmount: i64(600)}, operation.CodeMinAmountAboveMaxAmount},
		{"broken nighttime", LimitPatch{NighttimeStart: str("20:00"), NighttimeEnd: str("20:00")}, operation.CodeNighttimeIntervalInvalid},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := eng.UpdateUserLimit(ctx, 10, "TRANSFER", tc.patch)
			var v *operation.Violation
			require.True(t, errors.As(err, &v), "expected violation, got %v", err)
			assert.Equal(t, tc.code, v.Code)
		})
	}

	// nothing was persisted by the rejected patches
	stored, err := r.GetUserLimit(ctx, 10, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), stored.DailyLimit)
	assert.Equal(t, int64(500), stored.MaxAmount)
	assert.Equal(t, int64(1), stored.MinAmount)
}

func TestUpdateUserLimit_UnknownLimitType(t *testing.T) {
	eng, _, db := newTestEngine(t)
	seedCatalog(t, db)

	_, err := eng.UpdateUserLimit(context.Background(), 10, "NOPE", LimitPatch{DailyLimit: i64(100)})
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestUpdateGlobalLimit(t *testing.T) {
	eng, r, db := newTestEngine(t)
	ctx := context.Background()
	seedCatalog(t, db)

	// first patch creates the row
	limit, err := eng.UpdateGlobalLimit(ctx, "TRANSFER", LimitPatch{
		DailyLimit: i64(1000),
		MaxAmount:  i64(500),
	})
	require.NoError(t, err)
	assert.NotZero(t, limit.ID)

	// second patch updates in place
	limit, err = eng.UpdateGlobalLimit(ctx, "TRANSFER", LimitPatch{DailyLimit: i64(3000)})
	require.NoError(t, err)
	assert.Equal(t, int64(3000), limit.DailyLimit)
	assert.Equal(t, int64(500), limit.MaxAmount)

	stored, err := r.GetGlobalLimit(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), stored.DailyLimit)

	_, err = eng.UpdateGlobalLimit(ctx, "TRANSFER", LimitPatch{MaxAmount: i64(5000)})
	var v *operation.Violation
	require.True(t, errors.As(err, &v))
	assert.Equal(t, operation.CodeMaxAmountAboveDailyLimit, v.Code)
}
