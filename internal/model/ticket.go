package model

import (
	"time"
)

// Ticket 抽奖票，归属于某个 Raffle，创建后不可修改
type Ticket struct {
	ID          string    `gorm:"type:varchar(32);primaryKey" json:"id"`
	RaffleID    string    `gorm:"type:varchar(64);index;not null" json:"raffle_id"`
	UserID      string    `gorm:"type:varchar(128);index;not null" json:"user_id"`
	Number      int64     `gorm:"not null" json:"number"`
	Mode        string    `gorm:"type:varchar(16);not null" json:"mode"`
	CreditsPaid int64     `gorm:"not null" json:"credits_paid"`
	PurchasedAt time.Time `gorm:"not null;index" json:"purchased_at"`
}

func (Ticket) TableName() string {
	return "ticket"
}

// TicketNumberClaim 开启号码唯一性时，(raffle_id, number) 由主键保证不重复
type TicketNumberClaim struct {
	RaffleID string `gorm:"type:varchar(64);primaryKey"`
	Number   int64  `gorm:"primaryKey;autoIncrement:false"`
	TicketID string `gorm:"type:varchar(32);not null"`
}

func (TicketNumberClaim) TableName() string {
	return "ticket_number_claim"
}
