package operation

import "fmt"

// Code identifies a business rejection. Codes are stable: transports and
// event consumers match on them.
type Code string

const (
	CodeMinAmountBelow           Code = "MIN_AMOUNT_LIMIT_BELOW"
	CodeMaxAmountExceeded        Code = "MAX_AMOUNT_LIMIT_EXCEEDED"
	CodeMinAmountNightlyBelow    Code = "MIN_AMOUNT_NIGHTLY_LIMIT_BELOW"
	CodeMaxAmountNightlyExceeded Code = "MAX_AMOUNT_NIGHTLY_LIMIT_EXCEEDED"
	CodeDailyLimitExceeded       Code = "DAILY_LIMIT_EXCEEDED"
	CodeMonthlyLimitExceeded     Code = "MONTHLY_LIMIT_EXCEEDED"
	CodeYearlyLimitExceeded      Code = "YEARLY_LIMIT_EXCEEDED"
	CodeNightlyLimitExceeded     Code = "NIGHTLY_LIMIT_EXCEEDED"
	CodeNotEnoughAvailableLimit  Code = "NOT_ENOUGH_AVAILABLE_LIMIT"
	CodeNotEnoughFunds           Code = "NOT_ENOUGH_FUNDS"

	// Administrative ceiling-relationship codes.
	CodeMinAmountAboveMaxAmount           Code = "MIN_AMOUNT_ABOVE_MAX_AMOUNT"
	CodeMaxAmountUnderMinAmount           Code = "MAX_AMOUNT_UNDER_MIN_AMOUNT"
	CodeMaxAmountAboveDailyLimit          Code = "MAX_AMOUNT_ABOVE_DAILY_LIMIT"
	CodeDailyLimitUnderMaxAmount          Code = "DAILY_LIMIT_UNDER_MAX_AMOUNT"
	CodeMinAmountNightlyAboveMaxNightly   Code = "MIN_AMOUNT_NIGHTLY_ABOVE_MAX_AMOUNT_NIGHTLY"
	CodeMaxAmountNightlyUnderMinNightly   Code = "MAX_AMOUNT_NIGHTLY_UNDER_MIN_AMOUNT_NIGHTLY"
	CodeMaxAmountNightlyAboveNightlyLimit Code = "MAX_AMOUNT_NIGHTLY_ABOVE_NIGHTLY_LIMIT"
	CodeNightlyLimitUnderMaxAmountNightly Code = "NIGHTLY_LIMIT_UNDER_MAX_AMOUNT_NIGHTLY"
	CodeNighttimeIntervalInvalid          Code = "NIGHTTIME_INTERVAL_INVALID"
)

// Violation is a typed business rejection carrying the offending
// limit/value pair. It is an error so it flows through normal return
// paths, and is matched with errors.As at the state-machine boundary.
type Violation struct {
	Code  Code
	Limit int64
	Value int64
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: limit=%d value=%d", v.Code, v.Limit, v.Value)
}

func violate(code Code, limit, value int64) *Violation {
	return &Violation{Code: code, Limit: limit, Value: value}
}
