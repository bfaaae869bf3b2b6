package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MilestoneModel 任务里程碑
type MilestoneModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	MissionId          int64           `json:"mission_id" gorm:"not null;index"`
	OnChainMilestoneId *string         `json:"on_chain_milestone_id" gorm:"index"`
	EscrowAddress      string          `json:"escrow_address"`
	Description        string          `json:"description" gorm:"type:text"`
	AmountDaos         decimal.Decimal `json:"amount_daos" gorm:"type:numeric(38,18);not null"`
	Deadline           *time.Time      `json:"deadline"`

	Status          MilestoneStatus `json:"status" gorm:"default:'pending'"`
	Deliverable     string          `json:"deliverable" gorm:"type:text"`
	RejectionReason string          `json:"rejection_reason" gorm:"type:text"`
	SubmittedAt     *time.Time      `json:"submitted_at"`
	ApprovedAt      *time.Time      `json:"approved_at"`
}

// MilestoneStatus 里程碑状态
type MilestoneStatus string

const (
	MilestoneStatusPending   MilestoneStatus = "pending"
	MilestoneStatusSubmitted MilestoneStatus = "submitted"
	MilestoneStatusApproved  MilestoneStatus = "approved"
	MilestoneStatusRejected  MilestoneStatus = "rejected"
	MilestoneStatusDisputed  MilestoneStatus = "disputed"
)

// TableName 自定义表名
func (MilestoneModel) TableName() string {
	return "milestones"
}
