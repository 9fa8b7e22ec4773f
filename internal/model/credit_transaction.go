package model

import (
	"time"
)

// ============================================================================
// 交易类型常量
// ============================================================================

const (
	CreditTxSignup         = "SIGNUP"          // 注册赠送
	CreditTxPurchaseTicket = "PURCHASE_TICKET" // 购票扣款
	CreditTxPaymentGrant   = "PAYMENT_GRANT"   // 充值到账
	CreditTxDailyReward    = "DAILY_REWARD"    // 每日奖励
	CreditTxTierReward     = "TIER_REWARD"     // 等级奖励
	CreditTxSpend          = "SPEND"           // 通用消费
	CreditTxRefund         = "REFUND"          // 退款
	CreditTxAdminGrant     = "ADMIN_GRANT"     // 运营发放
)

// CreditTransaction 积分流水表
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除
// 2. 与余额变更写在同一个事务里
// 3. (type, reference) 非空时唯一，作为幂等键
type CreditTransaction struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	UserID        string    `gorm:"type:varchar(128);index;not null" json:"user_id"`
	Type          string    `gorm:"type:varchar(20);not null;uniqueIndex:idx_credit_tx_type_ref,priority:1" json:"type"`
	Reference     *string   `gorm:"type:varchar(128);uniqueIndex:idx_credit_tx_type_ref,priority:2" json:"reference"`
	Amount        int64     `gorm:"not null" json:"amount"` // 正数入账，负数出账
	XPAmount      int64     `gorm:"column:xp_amount;not null;default:0" json:"xp_amount"`
	BalanceBefore int64     `gorm:"not null" json:"balance_before"`
	BalanceAfter  int64     `gorm:"not null" json:"balance_after"`
	Remark        string    `gorm:"type:varchar(256)" json:"remark"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (CreditTransaction) TableName() string {
	return "credit_transaction"
}
