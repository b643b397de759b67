package operation

import "time"

// State is the lifecycle state of an Operation.
type State string

const (
	StatePending  State = "PENDING"
	StateAccepted State = "ACCEPTED"
	StateReverted State = "REVERTED"
)

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool { return s == StateAccepted || s == StateReverted }

// Participation declares which side(s) of an operation move value.
type Participation string

const (
	ParticipantsOwner       Participation = "OWNER"
	ParticipantsBeneficiary Participation = "BENEFICIARY"
	ParticipantsBoth        Participation = "BOTH"
)

func (p Participation) HasOwner() bool {
	return p == ParticipantsOwner || p == ParticipantsBoth
}

func (p Participation) HasBeneficiary() bool {
	return p == ParticipantsBeneficiary || p == ParticipantsBoth
}

// PeriodPolicy selects how a limit type accounts usage: against
// calendar-aligned counters on the UserLimit, or against the rolling
// UserLimitTracker window.
type PeriodPolicy string

const (
	PolicyCalendar PeriodPolicy = "CALENDAR"
	PolicyInterval PeriodPolicy = "INTERVAL"
)

// LimitType is immutable reference data naming a limit policy.
type LimitType struct {
	ID     uint64
	Tag    string
	Policy PeriodPolicy
}

// TransactionType is immutable reference data for a transaction category.
// It declares the participating sides and the limit type that governs it.
type TransactionType struct {
	ID                uint64
	Tag               string
	Participants      Participation
	LimitTypeID       uint64
	ComplianceFlagged bool
}

// Operation is a single value movement between an owner and, depending on
// the transaction type, a beneficiary. Amounts are integer minor units.
type Operation struct {
	ID                         string
	OwnerWalletAccountID       uint64
	BeneficiaryWalletAccountID uint64
	TransactionTypeID          uint64
	CurrencyID                 uint64
	RawValue                   int64
	Fee                        int64
	OwnerValue                 int64
	BeneficiaryValue           int64
	State                      State
	Description                string
	OperationRef               string
	CreatedAt                  time.Time
}

// ComputeSideValues derives the per-side values from rawValue and fee.
// The owner bears the fee (debited rawValue + fee); the beneficiary is
// credited rawValue, so conservation holds on rawValue.
func ComputeSideValues(p Participation, rawValue, fee int64) (ownerValue, beneficiaryValue int64) {
	if p.HasOwner() {
		ownerValue = rawValue + fee
	}
	if p.HasBeneficiary() {
		beneficiaryValue = rawValue
	}
	return ownerValue, beneficiaryValue
}

// WalletAccount is a currency-scoped balance holder.
// balance >= 0 and balance >= pendingAmount at every committed state.
type WalletAccount struct {
	ID            uint64
	UUID          string
	WalletID      uint64
	UserID        uint64
	CurrencyID    uint64
	Balance       int64
	PendingAmount int64
	Version       uint64
}

// Available is the amount a new debit may claim before credit is counted.
func (w *WalletAccount) Available() int64 { return w.Balance - w.PendingAmount }

// ReservationKind says which direction a reservation will move value.
type ReservationKind string

const (
	ReservationDebit  ReservationKind = "DEBIT"
	ReservationCredit ReservationKind = "CREDIT"
)

// PendingWalletAccountTransaction is a short-lived claim on a wallet
// account taken while an operation is in flight. An expired row is proof
// of a crashed or abandoned mutation and must be reconciled against the
// owning operation's state before the account is trusted again.
type PendingWalletAccountTransaction struct {
	ID              string
	OperationID     string
	WalletAccountID uint64
	Value           int64
	Kind            ReservationKind
	ExpiresAt       time.Time
	CreatedAt       time.Time
}

// Expired reports whether the reservation ttl has elapsed.
func (p *PendingWalletAccountTransaction) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// UserLimit is a per-user ceiling set plus running usage. A ceiling of
// zero is treated as not configured and its check is skipped.
type UserLimit struct {
	ID               uint64
	UserID           uint64
	LimitTypeID      uint64
	DailyLimit       int64
	MonthlyLimit     int64
	YearlyLimit      int64
	NightlyLimit     int64
	MaxAmount        int64
	MinAmount        int64
	MaxAmountNightly int64
	MinAmountNightly int64
	UsedDailyLimit   int64
	UsedMonthlyLimit int64
	UsedYearlyLimit  int64
	UsedNightlyLimit int64
	CreditBalance    int64
	NighttimeStart   string
	NighttimeEnd     string
	DailyResetAt     time.Time
	MonthlyResetAt   time.Time
	YearlyResetAt    time.Time
}

// GlobalLimit is a system-wide ceiling per limit type, used as a
// cross-user fallback when a user has no UserLimit row.
type GlobalLimit struct {
	ID               uint64
	LimitTypeID      uint64
	DailyLimit       int64
	MonthlyLimit     int64
	YearlyLimit      int64
	NightlyLimit     int64
	MaxAmount        int64
	MinAmount        int64
	MaxAmountNightly int64
	MinAmountNightly int64
	CreditBalance    int64
	NighttimeStart   string
	NighttimeEnd     string
}

// AsUserLimit projects the global ceilings into a UserLimit with zero
// used counters, so the validator has a single input shape.
func (g *GlobalLimit) AsUserLimit(userID uint64) *UserLimit {
	return &UserLimit{
		UserID:           userID,
		LimitTypeID:      g.LimitTypeID,
		DailyLimit:       g.DailyLimit,
		MonthlyLimit:     g.MonthlyLimit,
		YearlyLimit:      g.YearlyLimit,
		NightlyLimit:     g.NightlyLimit,
		MaxAmount:        g.MaxAmount,
		MinAmount:        g.MinAmount,
		MaxAmountNightly: g.MaxAmountNightly,
		MinAmountNightly: g.MinAmountNightly,
		CreditBalance:    g.CreditBalance,
		NighttimeStart:   g.NighttimeStart,
		NighttimeEnd:     g.NighttimeEnd,
	}
}

// UserLimitTracker is rolling-window usage accounting for interval-policy
// limit types, distinct from the calendar counters on UserLimit.
type UserLimitTracker struct {
	ID            uint64
	UserID        uint64
	LimitTypeID   uint64
	UsedAmount    int64
	WindowStart   time.Time
	WindowSeconds int64
}

// WindowElapsed reports whether the tracker window has rolled past now.
func (t *UserLimitTracker) WindowElapsed(now time.Time) bool {
	return now.Sub(t.WindowStart) >= time.Duration(t.WindowSeconds)*time.Second
}
