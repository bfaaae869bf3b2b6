package model

import (
	"time"

	"gorm.io/datatypes"
)

// TransactionModel 链上事件审计日志，同时作为恢复同步的检查点
type TransactionModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	TransactionHash string         `json:"transaction_hash" gorm:"not null;index:idx_blockchain_tx_log"`
	LogIndex        uint           `json:"log_index" gorm:"index:idx_blockchain_tx_log"`
	BlockNumber     uint64         `json:"block_number" gorm:"not null;index"`
	TransactionType string         `json:"transaction_type" gorm:"not null"`
	ContractAddress string         `json:"contract_address"`
	EventName       string         `json:"event_name" gorm:"index"`
	EventData       datatypes.JSON `json:"event_data"`

	MissionId   *int64 `json:"mission_id" gorm:"index"`
	MilestoneId *int64 `json:"milestone_id"`
	DisputeId   *int64 `json:"dispute_id"`
}

// TableName 自定义表名
func (TransactionModel) TableName() string {
	return "blockchain_transactions"
}
