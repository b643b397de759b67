package model

import (
	"time"

	"github.com/liftbank/operations-engine/internal/operation"
)

// PendingWalletAccountTransaction is the durable half of the reservation
// semaphore. At most one live row may exist per (operation, wallet
// account) pair.
type PendingWalletAccountTransaction struct {
	ID              string    `gorm:"primaryKey;size:36"`
	OperationID     string    `gorm:"size:36;not null;uniqueIndex:idx_pending_op_wallet"`
	WalletAccountID uint64    `gorm:"not null;uniqueIndex:idx_pending_op_wallet"`
	Value           int64     `gorm:"not null"`
	Kind            string    `gorm:"size:8;not null"`
	ExpiresAt       time.Time `gorm:"not null;index"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
}

func (PendingWalletAccountTransaction) TableName() string {
	return "pending_wallet_account_transaction"
}

func (m *PendingWalletAccountTransaction) ToDomain() *operation.PendingWalletAccountTransaction {
	return &operation.PendingWalletAccountTransaction{
		ID:              m.ID,
		OperationID:     m.OperationID,
		WalletAccountID: m.WalletAccountID,
		Value:           m.Value,
		Kind:            operation.ReservationKind(m.Kind),
		ExpiresAt:       m.ExpiresAt,
		CreatedAt:       m.CreatedAt,
	}
}

func PendingRecord(p *operation.PendingWalletAccountTransaction) *PendingWalletAccountTransaction {
	return &PendingWalletAccountTransaction{
		ID:              p.ID,
		OperationID:     p.OperationID,
		WalletAccountID: p.WalletAccountID,
		Value:           p.Value,
		Kind:            string(p.Kind),
		ExpiresAt:       p.ExpiresAt,
		CreatedAt:       p.CreatedAt,
	}
}
