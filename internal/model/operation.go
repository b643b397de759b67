package model

import (
	"time"

	"github.com/liftbank/operations-engine/internal/operation"
)

type Operation struct {
	ID                         string    `gorm:"primaryKey;size:36"`
	OwnerWalletAccountID       *uint64
	BeneficiaryWalletAccountID *uint64
	TransactionTypeID          uint64    `gorm:"not null"`
	CurrencyID                 uint64    `gorm:"not null"`
	RawValue                   int64     `gorm:"not null"`
	Fee                        int64     `gorm:"not null;default:0"`
	OwnerValue                 int64     `gorm:"not null;default:0"`
	BeneficiaryValue           int64     `gorm:"not null;default:0"`
	State                      string    `gorm:"size:16;not null;index"`
	Description                string    `gorm:"size:255"`
	OperationRef               *string   `gorm:"size:36"`
	CreatedAt                  time.Time `gorm:"autoCreateTime;index"`
	UpdatedAt                  time.Time `gorm:"autoUpdateTime"`
}

func (Operation) TableName() string { return "operation" }

func (m *Operation) ToDomain() *operation.Operation {
	o := &operation.Operation{
		ID:                m.ID,
		TransactionTypeID: m.TransactionTypeID,
		CurrencyID:        m.CurrencyID,
		RawValue:          m.RawValue,
		Fee:               m.Fee,
		OwnerValue:        m.OwnerValue,
		BeneficiaryValue:  m.BeneficiaryValue,
		State:             operation.State(m.State),
		Description:       m.Description,
		CreatedAt:         m.CreatedAt,
	}
	if m.OwnerWalletAccountID != nil {
		o.OwnerWalletAccountID = *m.OwnerWalletAccountID
	}
	if m.BeneficiaryWalletAccountID != nil {
		o.BeneficiaryWalletAccountID = *m.BeneficiaryWalletAccountID
	}
	if m.OperationRef != nil {
		o.OperationRef = *m.OperationRef
	}
	return o
}

func OperationRecord(o *operation.Operation) *Operation {
	m := &Operation{
		ID:                o.ID,
		TransactionTypeID: o.TransactionTypeID,
		CurrencyID:        o.CurrencyID,
		RawValue:          o.RawValue,
		Fee:               o.Fee,
		OwnerValue:        o.OwnerValue,
		BeneficiaryValue:  o.BeneficiaryValue,
		State:             string(o.State),
		Description:       o.Description,
		CreatedAt:         o.CreatedAt,
	}
	if o.OwnerWalletAccountID != 0 {
		id := o.OwnerWalletAccountID
		m.OwnerWalletAccountID = &id
	}
	if o.BeneficiaryWalletAccountID != 0 {
		id := o.BeneficiaryWalletAccountID
		m.BeneficiaryWalletAccountID = &id
	}
	if o.OperationRef != "" {
		ref := o.OperationRef
		m.OperationRef = &ref
	}
	return m
}
