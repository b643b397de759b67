package operation

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseClock parses an "HH:MM" wall-clock string into minutes since
// midnight.
func ParseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	return h*60 + m, nil
}

// InNighttime reports whether at falls inside the [start, end) wall-clock
// window. The window wraps midnight when end < start. A missing or
// malformed window means no nighttime applies.
func InNighttime(at time.Time, start, end string) bool {
	if start == "" || end == "" {
		return false
	}
	s, err := ParseClock(start)
	if err != nil {
		return false
	}
	e, err := ParseClock(end)
	if err != nil || s == e {
		return false
	}
	minute := at.Hour()*60 + at.Minute()
	if s < e {
		return minute >= s && minute < e
	}
	return minute >= s || minute < e
}

// Validate checks value against the resolved limit set, the rolling
// tracker (interval-policy types only) and the wallet account's available
// funds. It is a pure read: callers apply mutations only after it
// succeeds. Checks run in a fixed order so the failure code on boundary
// inputs is deterministic. For interval-policy types the daily window is
// accounted by the tracker, not the calendar counter.
//
// tracker may be nil (no usage recorded yet); wallet may be nil when the
// governed side carries no debit.
func Validate(limit *UserLimit, policy PeriodPolicy, tracker *UserLimitTracker, wallet *WalletAccount, value int64, at time.Time) error {
	night := InNighttime(at, limit.NighttimeStart, limit.NighttimeEnd)

	minAmount, maxAmount := limit.MinAmount, limit.MaxAmount
	minCode, maxCode := CodeMinAmountBelow, CodeMaxAmountExceeded
	if night {
		minAmount, maxAmount = limit.MinAmountNightly, limit.MaxAmountNightly
		minCode, maxCode = CodeMinAmountNightlyBelow, CodeMaxAmountNightlyExceeded
	}
	if minAmount > 0 && value < minAmount {
		return violate(minCode, minAmount, value)
	}
	if maxAmount > 0 && value > maxAmount {
		return violate(maxCode, maxAmount, value)
	}
	if policy != PolicyInterval && limit.DailyLimit > 0 && limit.UsedDailyLimit+value > limit.DailyLimit {
		return violate(CodeDailyLimitExceeded, limit.DailyLimit, limit.UsedDailyLimit+value)
	}
	if limit.MonthlyLimit > 0 && limit.UsedMonthlyLimit+value > limit.MonthlyLimit {
		return violate(CodeMonthlyLimitExceeded, limit.MonthlyLimit, limit.UsedMonthlyLimit+value)
	}
	if limit.YearlyLimit > 0 && limit.UsedYearlyLimit+value > limit.YearlyLimit {
		return violate(CodeYearlyLimitExceeded, limit.YearlyLimit, limit.UsedYearlyLimit+value)
	}
	if night && limit.NightlyLimit > 0 && limit.UsedNightlyLimit+value > limit.NightlyLimit {
		return violate(CodeNightlyLimitExceeded, limit.NightlyLimit, limit.UsedNightlyLimit+value)
	}
	if policy == PolicyInterval && limit.DailyLimit > 0 {
		var used int64
		if tracker != nil && !tracker.WindowElapsed(at) {
			used = tracker.UsedAmount
		}
		if used+value > limit.DailyLimit {
			return violate(CodeNotEnoughAvailableLimit, limit.DailyLimit, used+value)
		}
	}
	if wallet != nil {
		available := wallet.Available() + limit.CreditBalance
		if available < value {
			return violate(CodeNotEnoughFunds, available, value)
		}
	}
	return nil
}

// limitShape is the subset of ceiling fields shared by UserLimit and
// GlobalLimit that cross-field validation cares about.
type limitShape struct {
	dailyLimit       int64
	nightlyLimit     int64
	maxAmount        int64
	minAmount        int64
	maxAmountNightly int64
	minAmountNightly int64
	nighttimeStart   string
	nighttimeEnd     string
}

// ValidateCeilings enforces the cross-field invariants on an
// administrative limit update before it is persisted:
// minAmount <= maxAmount <= dailyLimit, the nightly chain, and a
// well-formed nighttime interval. changed names the fields the update
// touched so the failure code blames the edited side of each relation.
func validateCeilings(l limitShape, changed map[string]bool) error {
	if l.maxAmount > 0 && l.minAmount > l.maxAmount {
		if changed["minAmount"] {
			return violate(CodeMinAmountAboveMaxAmount, l.maxAmount, l.minAmount)
		}
		return violate(CodeMaxAmountUnderMinAmount, l.minAmount, l.maxAmount)
	}
	if l.dailyLimit > 0 && l.maxAmount > l.dailyLimit {
		if changed["maxAmount"] {
			return violate(CodeMaxAmountAboveDailyLimit, l.dailyLimit, l.maxAmount)
		}
		return violate(CodeDailyLimitUnderMaxAmount, l.maxAmount, l.dailyLimit)
	}
	if l.maxAmountNightly > 0 && l.minAmountNightly > l.maxAmountNightly {
		if changed["minAmountNightly"] {
			return violate(CodeMinAmountNightlyAboveMaxNightly, l.maxAmountNightly, l.minAmountNightly)
		}
		return violate(CodeMaxAmountNightlyUnderMinNightly, l.minAmountNightly, l.maxAmountNightly)
	}
	if l.nightlyLimit > 0 && l.maxAmountNightly > l.nightlyLimit {
		if changed["maxAmountNightly"] {
			return violate(CodeMaxAmountNightlyAboveNightlyLimit, l.nightlyLimit, l.maxAmountNightly)
		}
		return violate(CodeNightlyLimitUnderMaxAmountNightly, l.maxAmountNightly, l.nightlyLimit)
	}
	if l.nighttimeStart != "" || l.nighttimeEnd != "" {
		s, errS := ParseClock(l.nighttimeStart)
		e, errE := ParseClock(l.nighttimeEnd)
		if errS != nil || errE != nil || s == e {
			return violate(CodeNighttimeIntervalInvalid, 0, 0)
		}
	}
	return nil
}

// ValidateUserLimit applies the cross-field invariants to a prospective
// UserLimit. changed names the fields the administrative update touched.
func ValidateUserLimit(l *UserLimit, changed map[string]bool) error {
	return validateCeilings(limitShape{
		dailyLimit:       l.DailyLimit,
		nightlyLimit:     l.NightlyLimit,
		maxAmount:        l.MaxAmount,
		minAmount:        l.MinAmount,
		maxAmountNightly: l.MaxAmountNightly,
		minAmountNightly: l.MinAmountNightly,
		nighttimeStart:   l.NighttimeStart,
		nighttimeEnd:     l.NighttimeEnd,
	}, changed)
}

// ValidateGlobalLimit applies the same invariants to a GlobalLimit.
func ValidateGlobalLimit(l *GlobalLimit, changed map[string]bool) error {
	return validateCeilings(limitShape{
		dailyLimit:       l.DailyLimit,
		nightlyLimit:     l.NightlyLimit,
		maxAmount:        l.MaxAmount,
		minAmount:        l.MinAmount,
		maxAmountNightly: l.MaxAmountNightly,
		minAmountNightly: l.MinAmountNightly,
		nighttimeStart:   l.NighttimeStart,
		nighttimeEnd:     l.NighttimeEnd,
	}, changed)
}
