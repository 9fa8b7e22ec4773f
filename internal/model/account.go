package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// StringList 以 JSON 数组形式落库的字符串列表
type StringList []string

func (l *StringList) Scan(obj any) error {
	switch t := obj.(type) {
	case nil:
		*l = StringList{}
		return nil
	case string:
		return json.Unmarshal([]byte(t), l)
	case []byte:
		return json.Unmarshal(t, l)
	}
	return fmt.Errorf("cannot scan invalid data type %T", obj)
}

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l StringList) Contains(s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

// UserAccount 用户账户表
// Balance 和 XP 只能经由 CreditService.ApplyDelta 修改
type UserAccount struct {
	UserID           string     `gorm:"type:varchar(128);primaryKey" json:"user_id"`
	Email            string     `gorm:"type:varchar(256)" json:"email"`
	Role             string     `gorm:"type:varchar(16);not null;default:user" json:"role"`
	Balance          int64      `gorm:"not null;default:0" json:"balance"`
	XP               int64      `gorm:"column:xp;not null;default:0" json:"xp"`
	ClaimedTiers     StringList `gorm:"type:text" json:"claimed_tiers"`
	LastDailyClaimAt *time.Time `json:"last_daily_claim_at"`
	Version          int        `gorm:"not null;default:0" json:"-"` // 乐观锁版本号
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (UserAccount) TableName() string {
	return "user_account"
}
