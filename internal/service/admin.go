package service

import (
	"context"
	"errors"

	"github.com/liftbank/operations-engine/internal/operation"
	"github.com/liftbank/operations-engine/internal/repo"
)

// LimitPatch is a partial administrative update to a limit row. Nil
// fields are left untouched; the cross-field invariants are re-validated
// against the merged result before anything is persisted.
type LimitPatch struct {
	DailyLimit       *int64
	MonthlyLimit     *int64
	YearlyLimit      *int64
	NightlyLimit     *int64
	MaxAmount        *int64
	MinAmount        *int64
	MaxAmountNightly *int64
	MinAmountNightly *int64
	CreditBalance    *int64
	NighttimeStart   *string
	NighttimeEnd     *string
}

func (p *LimitPatch) apply(dst *limitFields) map[string]bool {
	changed := map[string]bool{}
	set := func(name string, field *int64, v *int64) {
		if v != nil {
			*field = *v
			changed[name] = true
		}
	}
	set("dailyLimit", dst.dailyLimit, p.DailyLimit)
	set("monthlyLimit", dst.monthlyLimit, p.MonthlyLimit)
	set("yearlyLimit", dst.yearlyLimit, p.YearlyLimit)
	set("nightlyLimit", dst.nightlyLimit, p.NightlyLimit)
	set("maxAmount", dst.maxAmount, p.MaxAmount)
	set("minAmount", dst.minAmount, p.MinAmount)
	set("maxAmountNightly", dst.maxAmountNightly, p.MaxAmountNightly)
	set("minAmountNightly", dst.minAmountNightly, p.MinAmountNightly)
	set("creditBalance", dst.creditBalance, p.CreditBalance)
	if p.NighttimeStart != nil {
		*dst.nighttimeStart = *p.NighttimeStart
		changed["nighttimeStart"] = true
	}
	if p.NighttimeEnd != nil {
		*dst.nighttimeEnd = *p.NighttimeEnd
		changed["nighttimeEnd"] = true
	}
	return changed
}

type limitFields struct {
	dailyLimit, monthlyLimit, yearlyLimit, nightlyLimit      *int64
	maxAmount, minAmount, maxAmountNightly, minAmountNightly *int64
	creditBalance                                            *int64
	nighttimeStart, nighttimeEnd                             *string
}

func userLimitFields(l *operation.UserLimit) *limitFields {
	return &limitFields{
		dailyLimit: &l.DailyLimit, monthlyLimit: &l.MonthlyLimit,
		yearlyLimit: &l.YearlyLimit, nightlyLimit: &l.NightlyLimit,
		maxAmount: &l.MaxAmount, minAmount: &l.MinAmount,
		maxAmountNightly: &l.MaxAmountNightly, minAmountNightly: &l.MinAmountNightly,
		creditBalance:  &l.CreditBalance,
		nighttimeStart: &l.NighttimeStart, nighttimeEnd: &l.NighttimeEnd,
	}
}

func globalLimitFields(l *operation.GlobalLimit) *limitFields {
	return &limitFields{
		dailyLimit: &l.DailyLimit, monthlyLimit: &l.MonthlyLimit,
		yearlyLimit: &l.YearlyLimit, nightlyLimit: &l.NightlyLimit,
		maxAmount: &l.MaxAmount, minAmount: &l.MinAmount,
		maxAmountNightly: &l.MaxAmountNightly, minAmountNightly: &l.MinAmountNightly,
		creditBalance:  &l.CreditBalance,
		nighttimeStart: &l.NighttimeStart, nighttimeEnd: &l.NighttimeEnd,
	}
}

// UpdateUserLimit applies an administrative patch to a user's limit for
// the given limit type, creating the row from the global ceilings when
// the user had none. Used counters are never touched here.
func (e *Engine) UpdateUserLimit(ctx context.Context, userID uint64, limitTypeTag string, patch LimitPatch) (*operation.UserLimit, error) {
	lt, err := e.repo.GetLimitTypeByTag(ctx, limitTypeTag)
	if err != nil {
		return nil, err
	}
	limit, err := e.repo.GetUserLimit(ctx, userID, lt.ID)
	if errors.Is(err, repo.ErrNotFound) {
		limit, err = e.resolveLimit(ctx, userID, lt.ID)
		if err != nil {
			return nil, err
		}
		if limit == nil {
			limit = &operation.UserLimit{UserID: userID, LimitTypeID: lt.ID}
		}
		limit.ID = 0
	} else if err != nil {
		return nil, err
	}

	changed := patch.apply(userLimitFields(limit))
	if err := operation.ValidateUserLimit(limit, changed); err != nil {
		return nil, err
	}
	if err := e.repo.SaveUserLimit(ctx, limit); err != nil {
		return nil, err
	}
	return limit, nil
}

// UpdateGlobalLimit applies an administrative patch to the system-wide
// ceiling for a limit type.
func (e *Engine) UpdateGlobalLimit(ctx context.Context, limitTypeTag string, patch LimitPatch) (*operation.GlobalLimit, error) {
	lt, err := e.repo.GetLimitTypeByTag(ctx, limitTypeTag)
	if err != nil {
		return nil, err
	}
	limit, err := e.repo.GetGlobalLimit(ctx, lt.ID)
	if errors.Is(err, repo.ErrNotFound) {
		limit = &operation.GlobalLimit{LimitTypeID: lt.ID}
	} else if err != nil {
		return nil, err
	}

	changed := patch.apply(globalLimitFields(limit))
	if err := operation.ValidateGlobalLimit(limit, changed); err != nil {
		return nil, err
	}
	if err := e.repo.SaveGlobalLimit(ctx, limit); err != nil {
		return nil, err
	}
	return limit, nil
}
