package model

import (
	"time"

	"github.com/liftbank/operations-engine/internal/operation"
)

type WalletAccount struct {
	ID            uint64    `gorm:"primaryKey"`
	UUID          string    `gorm:"size:36;uniqueIndex;not null"`
	WalletID      uint64    `gorm:"not null;index"`
	UserID        uint64    `gorm:"not null;index"`
	CurrencyID    uint64    `gorm:"not null"`
	Balance       int64     `gorm:"not null;default:0"`
	PendingAmount int64     `gorm:"not null;default:0"`
	Version       uint64    `gorm:"not null;default:0"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

func (WalletAccount) TableName() string { return "wallet_account" }

func (m *WalletAccount) ToDomain() *operation.WalletAccount {
	return &operation.WalletAccount{
		ID:            m.ID,
		UUID:          m.UUID,
		WalletID:      m.WalletID,
		UserID:        m.UserID,
		CurrencyID:    m.CurrencyID,
		Balance:       m.Balance,
		PendingAmount: m.PendingAmount,
		Version:       m.Version,
	}
}
