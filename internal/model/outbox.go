package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

const (
	EventRaffleStateChanged = "raffle.state_changed"
)

// RaffleStateEvent 与状态写入同事务落库的变更通知
type RaffleStateEvent struct {
	EventType  string    `json:"event_type"`
	RaffleID   string    `json:"raffle_id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	OccurredAt time.Time `json:"occurred_at"`
}

type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

// AllModels AutoMigrate 使用的表清单
func AllModels() []interface{} {
	return []interface{}{
		&UserAccount{},
		&Raffle{},
		&Ticket{},
		&TicketNumberClaim{},
		&SaleRecord{},
		&CreditPackage{},
		&RewardTier{},
		&CreditTransaction{},
		&OutboxMessage{},
	}
}
