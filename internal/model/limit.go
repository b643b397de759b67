package model

import (
	"time"

	"github.com/liftbank/operations-engine/internal/operation"
)

type UserLimit struct {
	ID               uint64    `gorm:"primaryKey"`
	UserID           uint64    `gorm:"not null;uniqueIndex:idx_user_limit_type"`
	LimitTypeID      uint64    `gorm:"not null;uniqueIndex:idx_user_limit_type"`
	DailyLimit       int64     `gorm:"not null;default:0"`
	MonthlyLimit     int64     `gorm:"not null;default:0"`
	YearlyLimit      int64     `gorm:"not null;default:0"`
	NightlyLimit     int64     `gorm:"not null;default:0"`
	MaxAmount        int64     `gorm:"not null;default:0"`
	MinAmount        int64     `gorm:"not null;default:0"`
	MaxAmountNightly int64     `gorm:"not null;default:0"`
	MinAmountNightly int64     `gorm:"not null;default:0"`
	UsedDailyLimit   int64     `gorm:"not null;default:0"`
	UsedMonthlyLimit int64     `gorm:"not null;default:0"`
	UsedYearlyLimit  int64     `gorm:"not null;default:0"`
	UsedNightlyLimit int64     `gorm:"not null;default:0"`
	CreditBalance    int64     `gorm:"not null;default:0"`
	NighttimeStart   string    `gorm:"size:5"`
	NighttimeEnd     string    `gorm:"size:5"`
	DailyResetAt     time.Time
	MonthlyResetAt   time.Time
	YearlyResetAt    time.Time
	NightlyResetAt   time.Time
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
}

func (UserLimit) TableName() string { return "user_limit" }

func (m *UserLimit) ToDomain() *operation.UserLimit {
	return &operation.UserLimit{
		ID:               m.ID,
		UserID:           m.UserID,
		LimitTypeID:      m.LimitTypeID,
		DailyLimit:       m.DailyLimit,
		MonthlyLimit:     m.MonthlyLimit,
		YearlyLimit:      m.YearlyLimit,
		NightlyLimit:     m.NightlyLimit,
		MaxAmount:        m.MaxAmount,
		MinAmount:        m.MinAmount,
		MaxAmountNightly: m.MaxAmountNightly,
		MinAmountNightly: m.MinAmountNightly,
		UsedDailyLimit:   m.UsedDailyLimit,
		UsedMonthlyLimit: m.UsedMonthlyLimit,
		UsedYearlyLimit:  m.UsedYearlyLimit,
		UsedNightlyLimit: m.UsedNightlyLimit,
		CreditBalance:    m.CreditBalance,
		NighttimeStart:   m.NighttimeStart,
		NighttimeEnd:     m.NighttimeEnd,
		DailyResetAt:     m.DailyResetAt,
		MonthlyResetAt:   m.MonthlyResetAt,
		YearlyResetAt:    m.YearlyResetAt,
	}
}

type GlobalLimit struct {
	ID               uint64    `gorm:"primaryKey"`
	LimitTypeID      uint64    `gorm:"not null;uniqueIndex"`
	DailyLimit       int64     `gorm:"not null;default:0"`
	MonthlyLimit     int64     `gorm:"not null;default:0"`
	YearlyLimit      int64     `gorm:"not null;default:0"`
	NightlyLimit     int64     `gorm:"not null;default:0"`
	MaxAmount        int64     `gorm:"not null;default:0"`
	MinAmount        int64     `gorm:"not null;default:0"`
	MaxAmountNightly int64     `gorm:"not null;default:0"`
	MinAmountNightly int64     `gorm:"not null;default:0"`
	CreditBalance    int64     `gorm:"not null;default:0"`
	NighttimeStart   string    `gorm:"size:5"`
	NighttimeEnd     string    `gorm:"size:5"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
}

func (GlobalLimit) TableName() string { return "global_limit" }

func (m *GlobalLimit) ToDomain() *operation.GlobalLimit {
	return &operation.GlobalLimit{
		ID:               m.ID,
		LimitTypeID:      m.LimitTypeID,
		DailyLimit:       m.DailyLimit,
		MonthlyLimit:     m.MonthlyLimit,
		YearlyLimit:      m.YearlyLimit,
		NightlyLimit:     m.NightlyLimit,
		MaxAmount:        m.MaxAmount,
		MinAmount:        m.MinAmount,
		MaxAmountNightly: m.MaxAmountNightly,
		MinAmountNightly: m.MinAmountNightly,
		CreditBalance:    m.CreditBalance,
		NighttimeStart:   m.NighttimeStart,
		NighttimeEnd:     m.NighttimeEnd,
	}
}

type UserLimitTracker struct {
	ID            uint64    `gorm:"primaryKey"`
	UserID        uint64    `gorm:"not null;uniqueIndex:idx_tracker_user_type"`
	LimitTypeID   uint64    `gorm:"not null;uniqueIndex:idx_tracker_user_type"`
	UsedAmount    int64     `gorm:"not null;default:0"`
	WindowStart   time.Time `gorm:"not null"`
	WindowSeconds int64     `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

func (UserLimitTracker) TableName() string { return "user_limit_tracker" }

func (m *UserLimitTracker) ToDomain() *operation.UserLimitTracker {
	return &operation.UserLimitTracker{
		ID:            m.ID,
		UserID:        m.UserID,
		LimitTypeID:   m.LimitTypeID,
		UsedAmount:    m.UsedAmount,
		WindowStart:   m.WindowStart,
		WindowSeconds: m.WindowSeconds,
	}
}
