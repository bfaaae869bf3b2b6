package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DisputeVotingPeriod 争议投票期
const DisputeVotingPeriod = 72 * time.Hour

// DisputeModel 里程碑争议
type DisputeModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	OnChainDisputeId string `json:"on_chain_dispute_id" gorm:"not null;index"`
	MilestoneId      int64  `json:"milestone_id" gorm:"not null;index"`
	MissionId        int64  `json:"mission_id" gorm:"index"`
	InitiatorWallet  string `json:"initiator_wallet"`
	Reason           string `json:"reason" gorm:"type:text"`

	Status            DisputeStatus       `json:"status" gorm:"default:'voting';index"`
	VotingDeadline    time.Time           `json:"voting_deadline"`
	WinnerWallet      *string             `json:"winner_wallet"`
	AmountAwardedDaos decimal.NullDecimal `json:"amount_awarded_daos" gorm:"type:numeric(38,18)"`
	ResolvedAt        *time.Time          `json:"resolved_at"`
}

// DisputeStatus 争议状态
type DisputeStatus string

const (
	DisputeStatusVoting   DisputeStatus = "voting"
	DisputeStatusResolved DisputeStatus = "resolved"
	DisputeStatusExpired  DisputeStatus = "expired"
)

// TableName 自定义表名
func (DisputeModel) TableName() string {
	return "disputes"
}
