package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/liftbank/operations-engine/internal/model"
	"github.com/liftbank/operations-engine/internal/operation"
)

// ErrNotFound is returned when an aggregate does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned on an optimistic version mismatch.
var ErrConflict = errors.New("optimistic lock conflict")

// ErrStateChanged is returned when a guarded state transition found the
// operation no longer in the expected state.
var ErrStateChanged = errors.New("operation state changed")

// RepositoryInterface restricts Repo methods so the engine can be unit
// tested against sqlite and an in-process locker.
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB
	Locker() Locker

	GetOperation(ctx context.Context, id string) (*operation.Operation, error)
	GetOperationByRef(ctx context.Context, ref string) (*operation.Operation, error)
	CreateOperation(ctx context.Context, tx *gorm.DB, op *operation.Operation) error
	TransitionOperation(ctx context.Context, tx *gorm.DB, id string, from, to operation.State) error
	SumAcceptedValues(ctx context.Context, userID, limitTypeID uint64, since time.Time) (int64, error)

	GetWalletAccount(ctx context.Context, id uint64) (*operation.WalletAccount, error)
	GetWalletAccountByUUID(ctx context.Context, uuid string) (*operation.WalletAccount, error)
	GetWalletAccountForUpdate(ctx context.Context, tx *gorm.DB, id uint64) (*operation.WalletAccount, error)
	UpdateWalletAccount(ctx context.Context, tx *gorm.DB, id uint64, balance, pending int64, oldVersion uint64) error

	GetPending(ctx context.Context, operationID string, walletAccountID uint64) (*operation.PendingWalletAccountTransaction, error)
	CreatePending(ctx context.Context, tx *gorm.DB, p *operation.PendingWalletAccountTransaction) error
	TakePending(ctx context.Context, tx *gorm.DB, id string) (bool, error)
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]operation.PendingWalletAccountTransaction, error)

	GetLimitType(ctx context.Context, id uint64) (*operation.LimitType, error)
	GetLimitTypeByTag(ctx context.Context, tag string) (*operation.LimitType, error)
	GetTransactionTypeByTag(ctx context.Context, tag string) (*operation.TransactionType, error)
	GetTransactionTypeByID(ctx context.Context, id uint64) (*operation.TransactionType, error)

	GetUserLimit(ctx context.Context, userID, limitTypeID uint64) (*operation.UserLimit, error)
	GetGlobalLimit(ctx context.Context, limitTypeID uint64) (*operation.GlobalLimit, error)
	SaveUserLimit(ctx context.Context, l *operation.UserLimit) error
	SaveGlobalLimit(ctx context.Context, l *operation.GlobalLimit) error
	IncrementUserLimitUsage(ctx context.Context, tx *gorm.DB, userID, limitTypeID uint64, value int64, night bool) error
	ListUserLimits(ctx context.Context, offset, limit int) ([]operation.UserLimit, error)
	ResetUserLimitWindows(ctx context.Context, id uint64, daily, monthly, yearly, nightly bool, now time.Time) error

	GetTracker(ctx context.Context, userID, limitTypeID uint64) (*operation.UserLimitTracker, error)
	AddTrackerUsage(ctx context.Context, tx *gorm.DB, userID, limitTypeID uint64, value, windowSeconds int64, now time.Time) error
	SetTrackerUsage(ctx context.Context, id uint64, used int64, windowStart time.Time) error
	ListTrackers(ctx context.Context, offset, limit int) ([]operation.UserLimitTracker, error)

	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	FindOutboxEvent(ctx context.Context, aggregate, aggregateID, eventType string) (bool, error)
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error

	CacheAvailable(ctx context.Context, walletAccountID uint64, available int64) error
	GetCachedAvailable(ctx context.Context, walletAccountID uint64) (int64, error)
}

// Repository implements RepositoryInterface over gorm, Redis and Kafka.
type Repository struct {
	db     *gorm.DB
	rdb    *redis.Client
	locker Locker
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

func NewRepository(db *gorm.DB, rdb *redis.Client, locker Locker, w *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, locker: locker, writer: w, log: logger}
}

func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

func (r *Repository) Locker() Locker { return r.locker }

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// ---- operations ----

func (r *Repository) GetOperation(ctx context.Context, id string) (*operation.Operation, error) {
	var m model.Operation
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return m.ToDomain(), nil
}

// GetOperationByRef returns the live compensation for an operation:
// the non-REVERTED operation whose operationRef points at it.
func (r *Repository) GetOperationByRef(ctx context.Context, ref string) (*operation.Operation, error) {
	var m model.Operation
	err := r.db.WithContext(ctx).
		Where("operation_ref = ? AND state <> ?", ref, operation.StateReverted).
		First(&m).Error
	if err != nil {
		return nil, notFound(err)
	}
	return m.ToDomain(), nil
}

func (r *Repository) CreateOperation(ctx context.Context, tx *gorm.DB, op *operation.Operation) error {
	return tx.WithContext(ctx).Create(model.OperationRecord(op)).Error
}

// TransitionOperation moves an operation between states with a guard on
// the previous state, so retried transitions no-op instead of
// double-applying.
func (r *Repository) TransitionOperation(ctx context.Context, tx *gorm.DB, id string, from, to operation.State) error {
	res := tx.WithContext(ctx).
		Model(&model.Operation{}).
		Where("id = ? AND state = ?", id, string(from)).
		Update("state", string(to))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStateChanged
	}
	return nil
}

// SumAcceptedValues totals the owner-side values of ACCEPTED operations
// for a user and limit type since the given instant. Used by the tracker
// recompute sweep.
func (r *Repository) SumAcceptedValues(ctx context.Context, userID, limitTypeID uint64, since time.Time) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&model.Operation{}).
		Select("COALESCE(SUM(operation.owner_value), 0)").
		Joins("JOIN wallet_account ON wallet_account.id = operation.owner_wallet_account_id").
		Joins("JOIN transaction_type ON transaction_type.id = operation.transaction_type_id").
		Where("wallet_account.user_id = ? AND transaction_type.limit_type_id = ? AND operation.state = ? AND operation.created_at >= ?",
			userID, limitTypeID, string(operation.StateAccepted), since).
		Scan(&total).Error
	return total, err
}

// ---- wallet accounts ----

func (r *Repository) GetWalletAccount(ctx context.Context, id uint64) (*operation.WalletAccount, error) {
	var m model.WalletAccount
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return m.ToDomain(), nil
}

func (r *Repository) GetWalletAccountByUUID(ctx context.Context, uuid string) (*operation.WalletAccount, error) {
	var m model.WalletAccount
	if err := r.db.WithContext(ctx).Where("uuid = ?", uuid).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return m.ToDomain(), nil
}

// GetWalletAccountForUpdate locks the wallet account row.
func (r *Repository) GetWalletAccountForUpdate(ctx context.Context, tx *gorm.DB, id uint64) (*operation.WalletAccount, error) {
	var m model.WalletAccount
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return m.ToDomain(), nil
}

// UpdateWalletAccount writes balance and pending_amount with an
// optimistic version guard on top of the row lock.
func (r *Repository) UpdateWalletAccount(ctx context.Context, tx *gorm.DB, id uint64, balance, pending int64, oldVersion uint64) error {
	res := tx.WithContext(ctx).
		Model(&model.WalletAccount{}).
		Where("id = ? AND version = ?", id, oldVersion).
		Updates(map[string]interface{}{
			"balance":        balance,
			"pending_amount": pending,
			"version":        oldVersion + 1,
			"updated_at":     time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// ---- pending wallet account transactions ----

func (r *Repository) GetPending(ctx context.Context, operationID string, walletAccountID uint64) (*operation.PendingWalletAccountTransaction, error) {
	var m model.PendingWalletAccountTransaction
	err := r.db.WithContext(ctx).
		Where("operation_id = ? AND wallet_account_id = ?", operationID, walletAccountID).
		First(&m).Error
	if err != nil {
		return nil, notFound(err)
	}
	return m.ToDomain(), nil
}

func (r *Repository) CreatePending(ctx context.Context, tx *gorm.DB, p *operation.PendingWalletAccountTransaction) error {
	return tx.WithContext(ctx).Create(model.PendingRecord(p)).Error
}

// TakePending deletes the reservation row and reports whether it was
// still present. Concurrent finishers (engine and sweeper) race on the
// same row; exactly one caller observes true and applies the effects.
func (r *Repository) TakePending(ctx context.Context, tx *gorm.DB, id string) (bool, error) {
	res := tx.WithContext(ctx).
		Where("id = ?", id).
		Delete(&model.PendingWalletAccountTransaction{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *Repository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]operation.PendingWalletAccountTransaction, error) {
	var rows []model.PendingWalletAccountTransaction
	err := r.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Order("expires_at").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]operation.PendingWalletAccountTransaction, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].ToDomain())
	}
	return out, nil
}

// ---- reference data ----

func (r *Repository) GetLimitType(ctx context.Context, id uint64) (*operation.LimitType, error) {
	var m model.LimitType
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return m.ToDomain(), nil
}

func (r *Repository) GetLimitTypeByTag(ctx context.Context, tag string) (*operation.LimitType, error) {
	var m model.LimitType
	if err := r.db.WithContext(ctx).Where("tag = ?", tag).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return m.ToDomain(), nil
}

func (r *Repository) GetTransactionTypeByTag(ctx context.Context, tag string) (*operation.TransactionType, error) {
	var m model.TransactionType
	if err := r.db.WithContext(ctx).Where("tag = ?", tag).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return m.ToDomain(), nil
}

func (r *Repository) GetTransactionTypeByID(ctx context.Context, id uint64) (*operation.TransactionType, error) {
	var m model.TransactionType
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return m.ToDomain(), nil
}

// ---- limits ----

func (r *Repository) GetUserLimit(ctx context.Context, userID, limitTypeID uint64) (*operation.UserLimit, error) {
	var m model.UserLimit
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND limit_type_id = ?", userID, limitTypeID).
		First(&m).Error
	if err != nil {
		return nil, notFound(err)
	}
	return m.ToDomain(), nil
}

func (r *Repository) GetGlobalLimit(ctx context.Context, limitTypeID uint64) (*operation.GlobalLimit, error) {
	var m model.GlobalLimit
	err := r.db.WithContext(ctx).Where("limit_type_id = ?", limitTypeID).First(&m).Error
	if err != nil {
		return nil, notFound(err)
	}
	return m.ToDomain(), nil
}

func (r *Repository) SaveUserLimit(ctx context.Context, l *operation.UserLimit) error {
	updates := map[string]interface{}{
		"daily_limit":        l.DailyLimit,
		"monthly_limit":      l.MonthlyLimit,
		"yearly_limit":       l.YearlyLimit,
		"nightly_limit":      l.NightlyLimit,
		"max_amount":         l.MaxAmount,
		"min_amount":         l.MinAmount,
		"max_amount_nightly": l.MaxAmountNightly,
		"min_amount_nightly": l.MinAmountNightly,
		"credit_balance":     l.CreditBalance,
		"nighttime_start":    l.NighttimeStart,
		"nighttime_end":      l.NighttimeEnd,
	}
	if l.ID == 0 {
		m := &model.UserLimit{
			UserID:           l.UserID,
			LimitTypeID:      l.LimitTypeID,
			DailyLimit:       l.DailyLimit,
			MonthlyLimit:     l.MonthlyLimit,
			YearlyLimit:      l.YearlyLimit,
			NightlyLimit:     l.NightlyLimit,
			MaxAmount:        l.MaxAmount,
			MinAmount:        l.MinAmount,
			MaxAmountNightly: l.MaxAmountNightly,
			MinAmountNightly: l.MinAmountNightly,
			CreditBalance:    l.CreditBalance,
			NighttimeStart:   l.NighttimeStart,
			NighttimeEnd:     l.NighttimeEnd,
		}
		if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
			return err
		}
		l.ID = m.ID
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&model.UserLimit{}).
		Where("id = ?", l.ID).
		Updates(updates).Error
}

func (r *Repository) SaveGlobalLimit(ctx context.Context, l *operation.GlobalLimit) error {
	if l.ID == 0 {
		m := &model.GlobalLimit{
			LimitTypeID:      l.LimitTypeID,
			DailyLimit:       l.DailyLimit,
			MonthlyLimit:     l.MonthlyLimit,
			YearlyLimit:      l.YearlyLimit,
			NightlyLimit:     l.NightlyLimit,
			MaxAmount:        l.MaxAmount,
			MinAmount:        l.MinAmount,
			MaxAmountNightly: l.MaxAmountNightly,
			MinAmountNightly: l.MinAmountNightly,
			CreditBalance:    l.CreditBalance,
			NighttimeStart:   l.NighttimeStart,
			NighttimeEnd:     l.NighttimeEnd,
		}
		if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
			return err
		}
		l.ID = m.ID
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&model.GlobalLimit{}).
		Where("id = ?", l.ID).
		Updates(map[string]interface{}{
			"daily_limit":        l.DailyLimit,
			"monthly_limit":      l.MonthlyLimit,
			"yearly_limit":       l.YearlyLimit,
			"nightly_limit":      l.NightlyLimit,
			"max_amount":         l.MaxAmount,
			"min_amount":         l.MinAmount,
			"max_amount_nightly": l.MaxAmountNightly,
			"min_amount_nightly": l.MinAmountNightly,
			"credit_balance":     l.CreditBalance,
			"nighttime_start":    l.NighttimeStart,
			"nighttime_end":      l.NighttimeEnd,
		}).Error
}

// IncrementUserLimitUsage bumps the calendar counters consumed by an
// accepted operation. Runs inside the same transaction as the ledger
// commit. A user with only a global limit has no counters to bump.
func (r *Repository) IncrementUserLimitUsage(ctx context.Context, tx *gorm.DB, userID, limitTypeID uint64, value int64, night bool) error {
	updates := map[string]interface{}{
		"used_daily_limit":   gorm.Expr("used_daily_limit + ?", value),
		"used_monthly_limit": gorm.Expr("used_monthly_limit + ?", value),
		"used_yearly_limit":  gorm.Expr("used_yearly_limit + ?", value),
	}
	if night {
		updates["used_nightly_limit"] = gorm.Expr("used_nightly_limit + ?", value)
	}
	return tx.WithContext(ctx).
		Model(&model.UserLimit{}).
		Where("user_id = ? AND limit_type_id = ?", userID, limitTypeID).
		Updates(updates).Error
}

func (r *Repository) ListUserLimits(ctx context.Context, offset, limit int) ([]operation.UserLimit, error) {
	var rows []model.UserLimit
	err := r.db.WithContext(ctx).Order("id").Offset(offset).Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]operation.UserLimit, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].ToDomain())
	}
	return out, nil
}

// ResetUserLimitWindows zeroes the used counters whose calendar window
// boundary has passed, stamping the reset time.
func (r *Repository) ResetUserLimitWindows(ctx context.Context, id uint64, daily, monthly, yearly, nightly bool, now time.Time) error {
	updates := map[string]interface{}{}
	if daily {
		updates["used_daily_limit"] = 0
		updates["daily_reset_at"] = now
	}
	if monthly {
		updates["used_monthly_limit"] = 0
		updates["monthly_reset_at"] = now
	}
	if yearly {
		updates["used_yearly_limit"] = 0
		updates["yearly_reset_at"] = now
	}
	if nightly {
		updates["used_nightly_limit"] = 0
		updates["nightly_reset_at"] = now
	}
	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&model.UserLimit{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// ---- trackers ----

func (r *Repository) GetTracker(ctx context.Context, userID, limitTypeID uint64) (*operation.UserLimitTracker, error) {
	var m model.UserLimitTracker
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND limit_type_id = ?", userID, limitTypeID).
		First(&m).Error
	if err != nil {
		return nil, notFound(err)
	}
	return m.ToDomain(), nil
}

// AddTrackerUsage increments the rolling-window counter, creating the
// tracker row on first use or restarting it when the window elapsed.
func (r *Repository) AddTrackerUsage(ctx context.Context, tx *gorm.DB, userID, limitTypeID uint64, value, windowSeconds int64, now time.Time) error {
	var m model.UserLimitTracker
	err := tx.WithContext(ctx).
		Where("user_id = ? AND limit_type_id = ?", userID, limitTypeID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tx.WithContext(ctx).Create(&model.UserLimitTracker{
			UserID:        userID,
			LimitTypeID:   limitTypeID,
			UsedAmount:    value,
			WindowStart:   now,
			WindowSeconds: windowSeconds,
		}).Error
	}
	if err != nil {
		return err
	}
	if m.ToDomain().WindowElapsed(now) {
		return tx.WithContext(ctx).
			Model(&model.UserLimitTracker{}).
			Where("id = ?", m.ID).
			Updates(map[string]interface{}{"used_amount": value, "window_start": now}).Error
	}
	return tx.WithContext(ctx).
		Model(&model.UserLimitTracker{}).
		Where("id = ?", m.ID).
		Update("used_amount", gorm.Expr("used_amount + ?", value)).Error
}

// SetTrackerUsage overwrites a tracker from a recompute; idempotent.
func (r *Repository) SetTrackerUsage(ctx context.Context, id uint64, used int64, windowStart time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.UserLimitTracker{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"used_amount": used, "window_start": windowStart}).Error
}

func (r *Repository) ListTrackers(ctx context.Context, offset, limit int) ([]operation.UserLimitTracker, error) {
	var rows []model.UserLimitTracker
	err := r.db.WithContext(ctx).Order("id").Offset(offset).Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]operation.UserLimitTracker, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].ToDomain())
	}
	return out, nil
}

// ---- outbox / events ----

func (r *Repository) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	return tx.WithContext(ctx).Create(evt).Error
}

func (r *Repository) FindOutboxEvent(ctx context.Context, aggregate, aggregateID, eventType string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.OutboxEvent{}).
		Where("aggregate = ? AND aggregate_id = ? AND event_type = ?", aggregate, aggregateID, eventType).
		Count(&count).Error
	return count > 0, err
}

func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("processed = false").Order("created_at").Limit(limit).Find(&evts).Error
	return evts, err
}

func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id = ?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
}

// PublishEvent sends one outbox row to Kafka. The key is aggregate id
// plus event type so consumers can dedupe under at-least-once delivery.
func (r *Repository) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("%s:%s", evt.AggregateID, evt.EventType)),
		Value: []byte(evt.Payload),
		Time:  time.Now(),
	}
	return r.writer.WriteMessages(ctx, msg)
}

// ---- balance cache ----

func (r *Repository) CacheAvailable(ctx context.Context, walletAccountID uint64, available int64) error {
	if r.rdb == nil {
		return nil
	}
	return r.rdb.Set(ctx, fmt.Sprintf("available:%d", walletAccountID), available, 5*time.Minute).Err()
}

func (r *Repository) GetCachedAvailable(ctx context.Context, walletAccountID uint64) (int64, error) {
	if r.rdb == nil {
		return 0, redis.Nil
	}
	return r.rdb.Get(ctx, fmt.Sprintf("available:%d", walletAccountID)).Int64()
}
