package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// MissionModel 任务模型
type MissionModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// 基本信息
	Title          string         `json:"title" gorm:"not null"`
	Description    string         `json:"description" gorm:"type:text"`
	RequiredSkills datatypes.JSON `json:"required_skills"`

	// 客户与预算（DAOS）
	ClientWallet     string              `json:"client_wallet" gorm:"not null;index"`
	BudgetMaxDaos    decimal.Decimal     `json:"budget_max_daos" gorm:"type:numeric(38,18);not null"`
	BudgetLockedDaos decimal.NullDecimal `json:"budget_locked_daos" gorm:"type:numeric(38,18)"`

	// 状态
	Status                   MissionStatus `json:"status" gorm:"default:'draft';index"`
	SelectedConsultantWallet *string       `json:"selected_consultant_wallet"`

	// 区块链信息
	OnChainMissionId *string `json:"on_chain_mission_id" gorm:"uniqueIndex"`
	CreationTxHash   *string `json:"creation_tx_hash" gorm:"uniqueIndex"` // 创建交易哈希，用于精确关联链上任务
	LastChainBlock   uint64  `json:"last_chain_block" gorm:"default:0"`   // 最近一次链上更新所在区块
}

// MissionStatus 任务状态，顺序与合约枚举一致
type MissionStatus string

const (
	MissionStatusDraft     MissionStatus = "draft"
	MissionStatusActive    MissionStatus = "active"
	MissionStatusOnHold    MissionStatus = "on_hold"
	MissionStatusDisputed  MissionStatus = "disputed"
	MissionStatusCompleted MissionStatus = "completed"
	MissionStatusCancelled MissionStatus = "cancelled"
)

// MissionStatusFromChain 链上 uint8 状态映射
func MissionStatusFromChain(v uint64) (MissionStatus, bool) {
	statuses := []MissionStatus{
		MissionStatusDraft,
		MissionStatusActive,
		MissionStatusOnHold,
		MissionStatusDisputed,
		MissionStatusCompleted,
		MissionStatusCancelled,
	}
	if v >= uint64(len(statuses)) {
		return "", false
	}
	return statuses[v], true
}

// TableName 自定义表名
func (MissionModel) TableName() string {
	return "missions"
}
