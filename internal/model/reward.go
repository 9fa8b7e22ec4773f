package model

import "time"

// RewardTier 赛季通行证等级奖励
type RewardTier struct {
	ID            string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	Name          string    `gorm:"type:varchar(128);not null" json:"name"`
	Level         int       `gorm:"not null;index" json:"level"`
	RequiredXP    int64     `gorm:"column:required_xp;not null" json:"required_xp"`
	RewardCredits int64     `gorm:"not null" json:"reward_credits"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (RewardTier) TableName() string {
	return "reward_tier"
}
