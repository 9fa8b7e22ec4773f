package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RaffleStateFunding   = "funding"
	RaffleStateCountdown = "countdown"
	RaffleStateDrawing   = "drawing"
	RaffleStateFinalized = "finalized"
	RaffleStateDrawError = "draw_error"
)

// NoWinner 没有任何票时写入的中奖人占位
const NoWinner = "NONE"

var ValidStateTransitions = map[string][]string{
	RaffleStateFunding:   {RaffleStateCountdown},
	RaffleStateCountdown: {RaffleStateDrawing},
	RaffleStateDrawing:   {RaffleStateFinalized, RaffleStateDrawError},
}

func CanTransitionTo(currentState, targetState string) bool {
	allowedStates, exists := ValidStateTransitions[currentState]
	if !exists {
		return false
	}
	for _, s := range allowedStates {
		if s == targetState {
			return true
		}
	}
	return false
}

// IsTerminalState finalized 与 draw_error 之后不再有任何迁移
func IsTerminalState(state string) bool {
	return state == RaffleStateFinalized || state == RaffleStateDrawError
}

const (
	TicketModeRandom = "random"
	TicketModeChosen = "chosen"
)

type Raffle struct {
	ID                string          `gorm:"type:varchar(64);primaryKey" json:"id"`
	Name              string          `gorm:"type:varchar(128);not null" json:"name"`
	Description       string          `gorm:"type:text" json:"description"`
	ImageURL          string          `gorm:"type:varchar(512)" json:"image_url"`
	Category          string          `gorm:"type:varchar(64);index" json:"category"`
	ValueTier         string          `gorm:"type:varchar(32)" json:"value_tier"`
	Featured          bool            `gorm:"not null;default:false" json:"featured"`
	PrizeValue        decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"prize_value"`
	FundingTarget     int64           `gorm:"not null" json:"funding_target"`
	FundingProgress   int64           `gorm:"not null;default:0" json:"funding_progress"`
	TicketPrice       int64           `gorm:"not null" json:"ticket_price"`
	ChosenTicketPrice int64           `gorm:"not null;default:0" json:"chosen_ticket_price"`
	State             string          `gorm:"type:varchar(20);index;not null" json:"state"`
	ScheduledDrawAt   *time.Time      `gorm:"index" json:"scheduled_draw_at"`
	SaleCutoffAt      *time.Time      `json:"sale_cutoff_at"`
	FinalizedAt       *time.Time      `json:"finalized_at"`
	WinnerUserID      *string         `gorm:"type:varchar(128)" json:"winner_user_id"`
	WinningNumber     *int64          `json:"winning_number"`
	WinnerMaskedEmail *string         `gorm:"type:varchar(256)" json:"winner_masked_email"`
	DrawError         *string         `gorm:"type:text" json:"-"`
	Version           int             `gorm:"not null;default:0" json:"-"`
	CreatedAt         time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Raffle) TableName() string {
	return "raffle"
}

// TicketCost 按购票方式计算价格，0 表示该方式不可用
func (r *Raffle) TicketCost(mode string) int64 {
	if mode == TicketModeChosen {
		return r.ChosenTicketPrice
	}
	return r.TicketPrice
}

func (r *Raffle) SaleClosed(now time.Time) bool {
	return r.SaleCutoffAt != nil && !now.Before(*r.SaleCutoffAt)
}
