package model

import (
	"time"
)

// ApplicationModel 任务申请
type ApplicationModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	MissionId            int64             `json:"mission_id" gorm:"not null;index"`
	ConsultantWallet     string            `json:"consultant_wallet" gorm:"not null;index"`
	Proposal             string            `json:"proposal" gorm:"type:text"`
	Status               ApplicationStatus `json:"status" gorm:"default:'pending'"`
	MatchScore           *int64            `json:"match_score"`
	OnChainApplicationId *string           `json:"on_chain_application_id"`
}

// ApplicationStatus 申请状态
type ApplicationStatus string

const (
	ApplicationStatusPending   ApplicationStatus = "pending"
	ApplicationStatusSelected  ApplicationStatus = "selected"
	ApplicationStatusRejected  ApplicationStatus = "rejected"
	ApplicationStatusWithdrawn ApplicationStatus = "withdrawn"
)

// TableName 自定义表名
func (ApplicationModel) TableName() string {
	return "mission_applications"
}
