package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/liftbank/operations-engine/internal/model"
	"github.com/liftbank/operations-engine/internal/operation"
	"github.com/liftbank/operations-engine/internal/repo"
)

var (
	// ErrInvalidRequest means a required field is missing or malformed;
	// rejected before any side effect.
	ErrInvalidRequest = errors.New("invalid operation request")
	// ErrCurrencyMismatch means owner and beneficiary accounts hold
	// different currencies and no OTC service is configured.
	ErrCurrencyMismatch = errors.New("currency mismatch without conversion")
	// ErrUserNotEligible means the owning user has not finished onboarding.
	ErrUserNotEligible = errors.New("user not eligible")
	// ErrNotReversible means the referenced operation is not ACCEPTED.
	ErrNotReversible = errors.New("operation not reversible")
)

// Config carries the engine's runtime knobs.
type Config struct {
	ReservationTTL time.Duration
	TrackerWindow  time.Duration
}

// Engine drives the operation state machine: it validates against the
// limit store, reserves and commits wallet account funds, and emits
// lifecycle events through the outbox. Concurrency exists only across
// distinct operations; each operation is a strictly sequential pipeline.
type Engine struct {
	repo       repo.RepositoryInterface
	users      UserService
	compliance ComplianceService
	otc        OtcService
	cfg        Config
	log        *zap.SugaredLogger
}

func NewEngine(r repo.RepositoryInterface, users UserService, compliance ComplianceService, otc OtcService, cfg Config, logger *zap.SugaredLogger) *Engine {
	if cfg.ReservationTTL <= 0 {
		cfg.ReservationTTL = 30 * time.Second
	}
	if cfg.TrackerWindow <= 0 {
		cfg.TrackerWindow = 24 * time.Hour
	}
	return &Engine{repo: r, users: users, compliance: compliance, otc: otc, cfg: cfg, log: logger}
}

// CreateRequest asks the engine to move value. OperationID doubles as
// the idempotency key; when empty a fresh id is generated.
type CreateRequest struct {
	OperationID           string
	OwnerWalletUUID       string
	BeneficiaryWalletUUID string
	TransactionTypeTag    string
	RawValue              int64
	Fee                   int64
	Description           string
}

// side is one participating half of an operation.
type side struct {
	wallet *operation.WalletAccount
	value  int64
	kind   operation.ReservationKind
}

type pipeline struct {
	op          *operation.Operation
	limitTypeID uint64
	policy      operation.PeriodPolicy
	sides       []side
	skipLimits  bool
}

// Create runs the full lifecycle for a new operation. Re-entry with the
// same OperationID is idempotent: a terminal operation is returned as
// is, a PENDING one resumes the pipeline without double-applying.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*operation.Operation, error) {
	if req.TransactionTypeTag == "" || req.RawValue <= 0 || req.Fee < 0 {
		return nil, ErrInvalidRequest
	}

	if req.OperationID != "" {
		existing, err := e.repo.GetOperation(ctx, req.OperationID)
		if err == nil && existing.State.Terminal() {
			return existing, nil
		}
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
	} else {
		req.OperationID = uuid.NewString()
	}

	tt, err := e.repo.GetTransactionTypeByTag(ctx, req.TransactionTypeTag)
	if err != nil {
		return nil, err
	}
	lt, err := e.repo.GetLimitType(ctx, tt.LimitTypeID)
	if err != nil {
		return nil, err
	}

	var owner, beneficiary *operation.WalletAccount
	if tt.Participants.HasOwner() {
		if req.OwnerWalletUUID == "" {
			return nil, ErrInvalidRequest
		}
		if owner, err = e.resolveWallet(ctx, req.OwnerWalletUUID); err != nil {
			return nil, err
		}
	}
	if tt.Participants.HasBeneficiary() {
		if req.BeneficiaryWalletUUID == "" {
			return nil, ErrInvalidRequest
		}
		if beneficiary, err = e.resolveWallet(ctx, req.BeneficiaryWalletUUID); err != nil {
			return nil, err
		}
	}

	op := &operation.Operation{
		ID:                req.OperationID,
		TransactionTypeID: tt.ID,
		RawValue:          req.RawValue,
		Fee:               req.Fee,
		State:             operation.StatePending,
		Description:       req.Description,
		CreatedAt:         time.Now(),
	}
	op.OwnerValue, op.BeneficiaryValue = operation.ComputeSideValues(tt.Participants, req.RawValue, req.Fee)
	if owner != nil {
		op.OwnerWalletAccountID = owner.ID
		op.CurrencyID = owner.CurrencyID
	}
	if beneficiary != nil {
		op.BeneficiaryWalletAccountID = beneficiary.ID
		if op.CurrencyID == 0 {
			op.CurrencyID = beneficiary.CurrencyID
		}
	}

	if owner != nil && beneficiary != nil && owner.CurrencyID != beneficiary.CurrencyID {
		if e.otc == nil {
			return nil, ErrCurrencyMismatch
		}
		conv, err := e.otc.GetConversionByOperation(ctx, op.ID)
		if err != nil {
			return nil, err
		}
		op.BeneficiaryValue = conv.CounterValue
	}

	p := &pipeline{op: op, limitTypeID: lt.ID, policy: lt.Policy}
	if owner != nil {
		p.sides = append(p.sides, side{wallet: owner, value: op.OwnerValue, kind: operation.ReservationDebit})
	}
	if beneficiary != nil {
		p.sides = append(p.sides, side{wallet: beneficiary, value: op.BeneficiaryValue, kind: operation.ReservationCredit})
	}
	return e.run(ctx, p)
}

// CreateReversal compensates an ACCEPTED operation with a new one that
// credits value back through swapped participants. The original row is
// never mutated; the link lives in operationRef. Re-entry while a
// compensation is live returns it instead of building another.
func (e *Engine) CreateReversal(ctx context.Context, originalID, description string) (*operation.Operation, error) {
	orig, err := e.repo.GetOperation(ctx, originalID)
	if err != nil {
		return nil, err
	}
	if orig.State != operation.StateAccepted {
		return nil, ErrNotReversible
	}
	// Idempotent: a live compensation already linked to the original is
	// returned instead of debiting the beneficiary twice. A REVERTED
	// attempt does not count and leaves room for a retry.
	if existing, err := e.repo.GetOperationByRef(ctx, orig.ID); err == nil {
		return existing, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	tt, err := e.repo.GetTransactionTypeByID(ctx, orig.TransactionTypeID)
	if err != nil {
		return nil, err
	}
	lt, err := e.repo.GetLimitType(ctx, tt.LimitTypeID)
	if err != nil {
		return nil, err
	}

	op := &operation.Operation{
		ID:                uuid.NewString(),
		TransactionTypeID: orig.TransactionTypeID,
		CurrencyID:        orig.CurrencyID,
		RawValue:          orig.RawValue,
		State:             operation.StatePending,
		Description:       description,
		OperationRef:      orig.ID,
		CreatedAt:         time.Now(),
	}

	// Sides swap: whoever was debited is credited back and vice versa.
	p := &pipeline{op: op, limitTypeID: lt.ID, policy: lt.Policy, skipLimits: true}
	if orig.OwnerWalletAccountID != 0 {
		w, err := e.repo.GetWalletAccount(ctx, orig.OwnerWalletAccountID)
		if err != nil {
			return nil, err
		}
		op.BeneficiaryWalletAccountID = w.ID
		op.BeneficiaryValue = orig.OwnerValue
		p.sides = append(p.sides, side{wallet: w, value: orig.OwnerValue, kind: operation.ReservationCredit})
	}
	if orig.BeneficiaryWalletAccountID != 0 {
		w, err := e.repo.GetWalletAccount(ctx, orig.BeneficiaryWalletAccountID)
		if err != nil {
			return nil, err
		}
		op.OwnerWalletAccountID = w.ID
		op.OwnerValue = orig.BeneficiaryValue
		p.sides = append(p.sides, side{wallet: w, value: orig.BeneficiaryValue, kind: operation.ReservationDebit})
	}
	return e.run(ctx, p)
}

// GetOperation returns an operation by id.
func (e *Engine) GetOperation(ctx context.Context, id string) (*operation.Operation, error) {
	return e.repo.GetOperation(ctx, id)
}

// GetAvailableBalance returns balance minus pending for a wallet
// account, read through the cache when warm.
func (e *Engine) GetAvailableBalance(ctx context.Context, walletUUID string) (int64, error) {
	w, err := e.repo.GetWalletAccountByUUID(ctx, walletUUID)
	if err != nil {
		return 0, err
	}
	if cached, err := e.repo.GetCachedAvailable(ctx, w.ID); err == nil {
		return cached, nil
	}
	available := w.Available()
	if err := e.repo.CacheAvailable(ctx, w.ID, available); err != nil {
		e.log.Warnw("cache available", "wallet_account", w.ID, "err", err)
	}
	return available, nil
}

func (e *Engine) resolveWallet(ctx context.Context, walletUUID string) (*operation.WalletAccount, error) {
	w, err := e.users.GetWalletByUUID(ctx, walletUUID)
	if err != nil {
		return nil, err
	}
	finished, err := e.users.OnboardingFinished(ctx, w.UserID)
	if err != nil {
		return nil, err
	}
	if !finished {
		return nil, ErrUserNotEligible
	}
	return w, nil
}

// run executes the state machine pipeline: persist PENDING, validate,
// reserve in ascending wallet account order, commit everything in one
// transaction, ACCEPT. Business rejections revert; system errors abort
// and leave the TTL machinery as the safety net.
func (e *Engine) run(ctx context.Context, p *pipeline) (*operation.Operation, error) {
	if err := e.persistPending(ctx, p.op); err != nil {
		return nil, err
	}

	if !p.skipLimits {
		if err := e.validateSides(ctx, p); err != nil {
			var v *operation.Violation
			if errors.As(err, &v) {
				if rerr := e.revert(ctx, p.op, v); rerr != nil {
					return nil, rerr
				}
				return p.op, v
			}
			return nil, err
		}
	}

	reservations, err := e.reserveSides(ctx, p)
	if err != nil {
		var v *operation.Violation
		if errors.As(err, &v) {
			if rerr := e.revert(ctx, p.op, v); rerr != nil {
				return nil, rerr
			}
			return p.op, v
		}
		return nil, err
	}

	if err := e.accept(ctx, p, reservations); err != nil {
		return nil, err
	}
	e.afterAccept(ctx, p)
	return p.op, nil
}

// persistPending stores the operation in PENDING and emits the pending
// event, once. Re-entry with an existing PENDING row resumes silently.
func (e *Engine) persistPending(ctx context.Context, op *operation.Operation) error {
	existing, err := e.repo.GetOperation(ctx, op.ID)
	if err == nil {
		*op = *existing
		return nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	return e.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		if err := e.repo.CreateOperation(ctx, tx, op); err != nil {
			return err
		}
		return e.emit(ctx, tx, op, "operation.pending", "")
	})
}

// validateSides runs the limit validator for every participating side.
// Pure reads only; nothing is applied until all sides pass.
func (e *Engine) validateSides(ctx context.Context, p *pipeline) error {
	now := time.Now()
	for _, s := range p.sides {
		limit, err := e.resolveLimit(ctx, s.wallet.UserID, p.limitTypeID)
		if err != nil {
			return err
		}
		if limit == nil {
			continue
		}
		var tracker *operation.UserLimitTracker
		if p.policy == operation.PolicyInterval {
			tracker, err = e.repo.GetTracker(ctx, s.wallet.UserID, p.limitTypeID)
			if err != nil && !errors.Is(err, repo.ErrNotFound) {
				return err
			}
		}
		var fundsWallet *operation.WalletAccount
		if s.kind == operation.ReservationDebit {
			fundsWallet = s.wallet
		}
		if err := operation.Validate(limit, p.policy, tracker, fundsWallet, s.value, now); err != nil {
			return err
		}
	}
	return nil
}

// resolveLimit returns the user's limit for the type, falling back to
// the global ceiling. No limit configured at all means the side is
// unconstrained.
func (e *Engine) resolveLimit(ctx context.Context, userID, limitTypeID uint64) (*operation.UserLimit, error) {
	limit, err := e.repo.GetUserLimit(ctx, userID, limitTypeID)
	if err == nil {
		return limit, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	global, err := e.repo.GetGlobalLimit(ctx, limitTypeID)
	if err == nil {
		return global.AsUserLimit(userID), nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	return nil, err
}

// reserveSides takes a reservation on each participating wallet account
// in ascending id order, so two operations touching the same pair of
// accounts can never deadlock. Any failure releases what was taken.
func (e *Engine) reserveSides(ctx context.Context, p *pipeline) ([]*operation.PendingWalletAccountTransaction, error) {
	sides := make([]side, len(p.sides))
	copy(sides, p.sides)
	sort.Slice(sides, func(i, j int) bool { return sides[i].wallet.ID < sides[j].wallet.ID })

	var taken []*operation.PendingWalletAccountTransaction
	for _, s := range sides {
		res, err := e.reserve(ctx, p.op, s)
		if err != nil {
			e.releaseAll(ctx, p.op, taken)
			return nil, err
		}
		taken = append(taken, res)
	}
	return taken, nil
}

// reserve claims funds on one wallet account: lease, row lock, funds
// re-check under the lock, pending bump, durable reservation row.
func (e *Engine) reserve(ctx context.Context, op *operation.Operation, s side) (*operation.PendingWalletAccountTransaction, error) {
	// Idempotent retry: an in-ttl reservation for this pair is in-flight.
	if existing, err := e.repo.GetPending(ctx, op.ID, s.wallet.ID); err == nil {
		if !existing.Expired(time.Now()) {
			return existing, nil
		}
		// Expired while the operation is still PENDING: reclaim it.
		if err := e.release(ctx, op, existing); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	if err := e.repo.Locker().Acquire(ctx, s.wallet.ID, op.ID, e.cfg.ReservationTTL); err != nil {
		return nil, err
	}

	res := &operation.PendingWalletAccountTransaction{
		ID:              uuid.NewString(),
		OperationID:     op.ID,
		WalletAccountID: s.wallet.ID,
		Value:           s.value,
		Kind:            s.kind,
		ExpiresAt:       time.Now().Add(e.cfg.ReservationTTL),
		CreatedAt:       time.Now(),
	}
	err := e.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		w, err := e.repo.GetWalletAccountForUpdate(ctx, tx, s.wallet.ID)
		if err != nil {
			return err
		}
		if s.kind == operation.ReservationDebit {
			// The validator's snapshot may be stale; this check is the
			// authoritative one.
			if w.Available() < s.value {
				return &operation.Violation{Code: operation.CodeNotEnoughFunds, Limit: w.Available(), Value: s.value}
			}
			if err := e.repo.UpdateWalletAccount(ctx, tx, w.ID, w.Balance, w.PendingAmount+s.value, w.Version); err != nil {
				return err
			}
		}
		return e.repo.CreatePending(ctx, tx, res)
	})
	if err != nil {
		if lerr := e.repo.Locker().Release(ctx, s.wallet.ID, op.ID); lerr != nil {
			e.log.Warnw("release lease", "wallet_account", s.wallet.ID, "err", lerr)
		}
		return nil, err
	}
	return res, nil
}

// release undoes one reservation without touching balance. The pending
// unwind only happens for the caller that actually removed the row, so
// racing with the sweeper cannot unwind twice.
func (e *Engine) release(ctx context.Context, op *operation.Operation, res *operation.PendingWalletAccountTransaction) error {
	err := e.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		taken, err := e.repo.TakePending(ctx, tx, res.ID)
		if err != nil || !taken {
			return err
		}
		if res.Kind == operation.ReservationDebit {
			w, err := e.repo.GetWalletAccountForUpdate(ctx, tx, res.WalletAccountID)
			if err != nil {
				return err
			}
			if err := e.repo.UpdateWalletAccount(ctx, tx, w.ID, w.Balance, w.PendingAmount-res.Value, w.Version); err != nil {
				return err
			}
		}
		return nil
	})
	if lerr := e.repo.Locker().Release(ctx, res.WalletAccountID, op.ID); lerr != nil {
		e.log.Warnw("release lease", "wallet_account", res.WalletAccountID, "err", lerr)
	}
	return err
}

func (e *Engine) releaseAll(ctx context.Context, op *operation.Operation, taken []*operation.PendingWalletAccountTransaction) {
	for _, res := range taken {
		if err := e.release(ctx, op, res); err != nil {
			e.log.Errorw("release reservation", "operation", op.ID, "wallet_account", res.WalletAccountID, "err", err)
		}
	}
}

// accept commits every reservation, bumps limit counters and trackers,
// and transitions to ACCEPTED — all in one transaction, so limit
// counters can never be applied partially against the balance. Limit
// rows are read before the transaction opens; only writes run inside it.
func (e *Engine) accept(ctx context.Context, p *pipeline, reservations []*operation.PendingWalletAccountTransaction) error {
	now := time.Now()

	type usage struct {
		userID uint64
		value  int64
		night  bool
	}
	var usages []usage
	if !p.skipLimits {
		for _, s := range p.sides {
			limit, err := e.resolveLimit(ctx, s.wallet.UserID, p.limitTypeID)
			if err != nil {
				return err
			}
			if limit == nil {
				continue
			}
			usages = append(usages, usage{
				userID: s.wallet.UserID,
				value:  s.value,
				night:  operation.InNighttime(now, limit.NighttimeStart, limit.NighttimeEnd),
			})
		}
	}

	err := e.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		if err := e.repo.TransitionOperation(ctx, tx, p.op.ID, operation.StatePending, operation.StateAccepted); err != nil {
			return err
		}
		for _, res := range reservations {
			taken, err := e.repo.TakePending(ctx, tx, res.ID)
			if err != nil {
				return err
			}
			if !taken {
				// Sweeper already committed this reservation.
				continue
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
			if err := e.repo.UpdateWalletAccount(ctx, tx, w.ID, balance, pending, w.Version); err != nil {
				return err
			}
		}
		for _, u := range usages {
			if err := e.repo.IncrementUserLimitUsage(ctx, tx, u.userID, p.limitTypeID, u.value, u.night); err != nil {
				return err
			}
			if p.policy == operation.PolicyInterval {
				if err := e.repo.AddTrackerUsage(ctx, tx, u.userID, p.limitTypeID, u.value, int64(e.cfg.TrackerWindow/time.Second), now); err != nil {
					return err
				}
			}
		}
		return e.emit(ctx, tx, p.op, "operation.accepted", "")
	})
	if err != nil {
		return err
	}
	p.op.State = operation.StateAccepted
	return nil
}

// afterAccept runs the best-effort tail: lease release, cache refresh,
// compliance hook. Failures are logged, never rolled back.
func (e *Engine) afterAccept(ctx context.Context, p *pipeline) {
	for _, s := range p.sides {
		if err := e.repo.Locker().Release(ctx, s.wallet.ID, p.op.ID); err != nil {
			e.log.Warnw("release lease", "wallet_account", s.wallet.ID, "err", err)
		}
		if w, err := e.repo.GetWalletAccount(ctx, s.wallet.ID); err == nil {
			if err := e.repo.CacheAvailable(ctx, w.ID, w.Available()); err != nil {
				e.log.Warnw("cache available", "wallet_account", w.ID, "err", err)
			}
		}
	}
	if e.compliance != nil {
		tt, err := e.repo.GetTransactionTypeByID(ctx, p.op.TransactionTypeID)
		if err == nil && tt.ComplianceFlagged {
			if err := e.compliance.CreateWarningTransaction(ctx, p.op); err != nil {
				e.log.Errorw("compliance warning", "operation", p.op.ID, "err", err)
			}
		}
	}
}

// revert moves a PENDING operation to REVERTED and emits the event.
// Idempotent: a lost race on the transition means someone else already
// finished the operation.
func (e *Engine) revert(ctx context.Context, op *operation.Operation, v *operation.Violation) error {
	code := ""
	if v != nil {
		code = string(v.Code)
	}
	err := e.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		if err := e.repo.TransitionOperation(ctx, tx, op.ID, operation.StatePending, operation.StateReverted); err != nil {
			return err
		}
		return e.emit(ctx, tx, op, "operation.reverted", code)
	})
	if errors.Is(err, repo.ErrStateChanged) {
		current, gerr := e.repo.GetOperation(ctx, op.ID)
		if gerr != nil {
			return gerr
		}
		op.State = current.State
		return nil
	}
	if err != nil {
		return err
	}
	op.State = operation.StateReverted
	return nil
}

// emit writes a lifecycle event into the outbox within tx.
func (e *Engine) emit(ctx context.Context, tx *gorm.DB, op *operation.Operation, eventType, code string) error {
	payload := map[string]interface{}{
		"id":                  op.ID,
		"transaction_type_id": op.TransactionTypeID,
		"currency_id":         op.CurrencyID,
		"raw_value":           op.RawValue,
		"fee":                 op.Fee,
		"state":               stateForEvent(eventType),
		"description":         op.Description,
		"operation_ref":       op.OperationRef,
		"created_at":          op.CreatedAt,
	}
	if op.OwnerWalletAccountID != 0 {
		payload["owner"] = map[string]interface{}{
			"wallet_account_id": op.OwnerWalletAccountID,
			"value":             op.OwnerValue,
		}
	}
	if op.BeneficiaryWalletAccountID != 0 {
		payload["beneficiary"] = map[string]interface{}{
			"wallet_account_id": op.BeneficiaryWalletAccountID,
			"value":             op.BeneficiaryValue,
		}
	}
	if code != "" {
		payload["code"] = code
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return e.repo.CreateOutboxEvent(ctx, tx, &model.OutboxEvent{
		Aggregate:   "Operation",
		AggregateID: op.ID,
		EventType:   eventType,
		Payload:     string(raw),
	})
}

func stateForEvent(eventType string) string {
	switch eventType {
	case "operation.accepted":
		return string(operation.StateAccepted)
	case "operation.reverted":
		return string(operation.StateReverted)
	default:
		return string(operation.StatePending)
	}
}
