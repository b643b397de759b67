package model

import "time"

// OutboxEvent rows are written in the same transaction as the state
// change they describe; cmd/poller publishes and marks them.
type OutboxEvent struct {
	ID          uint64     `gorm:"primaryKey"`
	Aggregate   string     `gorm:"size:64;not null"`
	AggregateID string     `gorm:"size:36;not null"`
	EventType   string     `gorm:"size:64;not null"`
	Payload     string     `gorm:"type:jsonb;not null"`
	CreatedAt   time.Time  `gorm:"autoCreateTime"`
	Processed   bool       `gorm:"not null;default:false"`
	ProcessedAt *time.Time
}

func (OutboxEvent) TableName() string { return "event_outbox" }
