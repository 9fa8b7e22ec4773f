package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SaleStatusCompleted = "completed"
)

// SaleRecord 一笔真实货币购买记录，ID 即支付渠道的 payment reference
type SaleRecord struct {
	ID             string    `gorm:"type:varchar(128);primaryKey" json:"id"`
	BuyerID        string    `gorm:"type:varchar(128);index;not null" json:"buyer_id"`
	PackageID      string    `gorm:"type:varchar(64);not null" json:"package_id"`
	AmountMinor    int64     `gorm:"not null" json:"amount_minor"`
	Currency       string    `gorm:"type:varchar(8);not null" json:"currency"`
	CreditsGranted int64     `gorm:"not null" json:"credits_granted"`
	PaymentMethod  string    `gorm:"type:varchar(32);not null" json:"payment_method"`
	Status         string    `gorm:"type:varchar(20);not null" json:"status"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (SaleRecord) TableName() string {
	return "sale_record"
}

// CreditPackage 可购买的积分包
type CreditPackage struct {
	ID        string          `gorm:"type:varchar(64);primaryKey" json:"id"`
	Name      string          `gorm:"type:varchar(128);not null" json:"name"`
	Credits   int64           `gorm:"not null" json:"credits"`
	PriceUSD  decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price_usd"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (CreditPackage) TableName() string {
	return "credit_package"
}

// AmountMinor 美元价格换算为美分
func (p *CreditPackage) AmountMinor() int64 {
	return p.PriceUSD.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
