package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentModel 支付记录
type PaymentModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	MissionId       *int64          `json:"mission_id" gorm:"index"`
	MilestoneId     *int64          `json:"milestone_id"`
	RecipientWallet string          `json:"recipient_wallet" gorm:"not null;index"`
	AmountDaos      decimal.Decimal `json:"amount_daos" gorm:"type:numeric(38,18);not null"`
	ContributorType ContributorType `json:"contributor_type" gorm:"default:'human'"`
	TransactionHash string          `json:"transaction_hash" gorm:"index:idx_payments_tx_log"`
	LogIndex        uint            `json:"log_index" gorm:"index:idx_payments_tx_log"`
}

// ContributorType 贡献者类型
type ContributorType string

const (
	ContributorHuman   ContributorType = "human"
	ContributorAI      ContributorType = "ai"
	ContributorCompute ContributorType = "compute"
)

// ContributorTypeFromChain 链上 uint8 类型映射，未知类型按 human 处理
func ContributorTypeFromChain(v uint64) ContributorType {
	switch v {
	case 1:
		return ContributorAI
	case 2:
		return ContributorCompute
	default:
		return ContributorHuman
	}
}

// TableName 自定义表名
func (PaymentModel) TableName() string {
	return "payments"
}
