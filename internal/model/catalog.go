package model

import "github.com/liftbank/operations-engine/internal/operation"

// LimitType and TransactionType are immutable reference data, seeded at
// deploy time and only ever read by the engine.

type LimitType struct {
	ID     uint64 `gorm:"primaryKey"`
	Tag    string `gorm:"size:64;uniqueIndex;not null"`
	Policy string `gorm:"size:16;not null;default:'CALENDAR'"`
}

func (LimitType) TableName() string { return "limit_type" }

func (m *LimitType) ToDomain() *operation.LimitType {
	return &operation.LimitType{
		ID:     m.ID,
		Tag:    m.Tag,
		Policy: operation.PeriodPolicy(m.Policy),
	}
}

type TransactionType struct {
	ID                uint64 `gorm:"primaryKey"`
	Tag               string `gorm:"size:64;uniqueIndex;not null"`
	Participants      string `gorm:"size:16;not null"`
	LimitTypeID       uint64 `gorm:"not null"`
	ComplianceFlagged bool   `gorm:"not null;default:false"`
}

func (TransactionType) TableName() string { return "transaction_type" }

func (m *TransactionType) ToDomain() *operation.TransactionType {
	return &operation.TransactionType{
		ID:                m.ID,
		Tag:               m.Tag,
		Participants:      operation.Participation(m.Participants),
		LimitTypeID:       m.LimitTypeID,
		ComplianceFlagged: m.ComplianceFlagged,
	}
}
