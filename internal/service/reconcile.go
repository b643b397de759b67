package service

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/liftbank/operations-engine/internal/operation"
	"github.com/liftbank/operations-engine/internal/repo"
)

// ReconcileReservations resolves expired reservations against the state
// of their owning operation: ACCEPTED commits, REVERTED releases, and a
// stale PENDING operation is reverted first. No reservation is ever
// silently dropped, or conservation breaks. Returns how many rows were
// reconciled.
func (e *Engine) ReconcileReservations(ctx context.Context, batch int) (int, error) {
	expired, err := e.repo.ListExpiredPending(ctx, time.Now(), batch)
	if err != nil {
		return 0, err
	}
	reconciled := 0
	for i := range expired {
		res := &expired[i]
		op, err := e.repo.GetOperation(ctx, res.OperationID)
		if errors.Is(err, repo.ErrNotFound) {
			// Orphaned row: no operation ever owned it; drop the claim.
			if err := e.release(ctx, &operation.Operation{ID: res.OperationID}, res); err != nil {
				e.log.Errorw("release orphan reservation", "reservation", res.ID, "err", err)
				continue
			}
			reconciled++
			continue
		}
		if err != nil {
			return reconciled, err
		}

		switch op.State {
		case operation.StateAccepted:
			if err := e.commitReservation(ctx, res); err != nil {
				e.log.Errorw("commit expired reservation", "operation", op.ID, "err", err)
				continue
			}
		case operation.StateReverted:
			if err := e.release(ctx, op, res); err != nil {
				e.log.Errorw("release expired reservation", "operation", op.ID, "err", err)
				continue
			}
		case operation.StatePending:
			if err := e.revert(ctx, op, nil); err != nil {
				e.log.Errorw("revert abandoned operation", "operation", op.ID, "err", err)
				continue
			}
			if err := e.release(ctx, op, res); err != nil {
				e.log.Errorw("release abandoned reservation", "operation", op.ID, "err", err)
				continue
			}
		}
		reconciled++
	}
	return reconciled, nil
}

// commitReservation applies a reservation whose operation reached
// ACCEPTED but whose row survived a crash mid-commit. Skips rows that a
// concurrent finisher already removed.
func (e *Engine) commitReservation(ctx context.Context, res *operation.PendingWalletAccountTransaction) error {
	return e.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		taken, err := e.repo.TakePending(ctx, tx, res.ID)
		if err != nil || !taken {
			return err
		}
		w, err := e.repo.GetWalletAccountForUpdate(ctx, tx, res.WalletAccountID)
		if err != nil {
			return err
		}
		balance, pending := w.Balance, w.PendingAmount
		if res.Kind == operation.ReservationDebit {
			balance -= res.Value
			pending -= res.Value
		} else {
			balance += res.Value
		}
		if balance < 0 || pending < 0 {
			return repo.ErrConflict
		}
		return e.repo.UpdateWalletAccount(ctx, tx, w.ID, balance, pending, w.Version)
	})
}

// RefreshTrackers recomputes every rolling-window tracker from the
// ACCEPTED operations inside its current window, advancing windows that
// elapsed. Recompute-not-increment: this is the idempotent backstop
// against clock drift and missed increments.
func (e *Engine) RefreshTrackers(ctx context.Context, pageSize int) (int, error) {
	now := time.Now()
	refreshed := 0
	for offset := 0; ; offset += pageSize {
		trackers, err := e.repo.ListTrackers(ctx, offset, pageSize)
		if err != nil {
			return refreshed, err
		}
		if len(trackers) == 0 {
			return refreshed, nil
		}
		for i := range trackers {
			t := &trackers[i]
			windowStart := t.WindowStart
			if t.WindowElapsed(now) {
				windowStart = now
			}
			sum, err := e.repo.SumAcceptedValues(ctx, t.UserID, t.LimitTypeID, windowStart)
			if err != nil {
				return refreshed, err
			}
			if err := e.repo.SetTrackerUsage(ctx, t.ID, sum, windowStart); err != nil {
				return refreshed, err
			}
			refreshed++
		}
	}
}

// ResetLimitWindows zeroes calendar used counters whose window boundary
// has passed since the last reset. The nightly counter is scoped to a
// single night and resets with the daily window.
func (e *Engine) ResetLimitWindows(ctx context.Context, pageSize int) (int, error) {
	now := time.Now()
	reset := 0
	for offset := 0; ; offset += pageSize {
		limits, err := e.repo.ListUserLimits(ctx, offset, pageSize)
		if err != nil {
			return reset, err
		}
		if len(limits) == 0 {
			return reset, nil
		}
		for i := range limits {
			l := &limits[i]
			daily := !sameDay(l.DailyResetAt, now)
			monthly := !sameMonth(l.MonthlyResetAt, now)
			yearly := l.YearlyResetAt.Year() != now.Year()
			if !daily && !monthly && !yearly {
				continue
			}
			if err := e.repo.ResetUserLimitWindows(ctx, l.ID, daily, monthly, yearly, daily, now); err != nil {
				return reset, err
			}
			reset++
		}
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func sameMonth(a, b time.Time) bool {
	ay, am, _ := a.Date()
	by, bm, _ := b.Date()
	return ay == by && am == bm
}
