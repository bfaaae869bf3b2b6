package model

import (
	"time"

	"gorm.io/datatypes"
)

// SyncWatermarkModel 每个合约已应用的最高事件位置
type SyncWatermarkModel struct {
	ContractAddress string    `json:"contract_address" gorm:"primaryKey"`
	BlockNumber     uint64    `json:"block_number"`
	LogIndex        uint      `json:"log_index"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName 自定义表名
func (SyncWatermarkModel) TableName() string {
	return "sync_watermarks"
}

// DeadLetterModel 处理失败、等待重放的事件
type DeadLetterModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ContractName    string         `json:"contract_name"`
	ContractAddress string         `json:"contract_address" gorm:"index"`
	EventName       string         `json:"event_name"`
	TransactionHash string         `json:"transaction_hash" gorm:"index"`
	LogIndex        uint           `json:"log_index"`
	BlockNumber     uint64         `json:"block_number"`
	Payload         datatypes.JSON `json:"payload"` // 原始日志
	Error           string         `json:"error" gorm:"type:text"`

	Attempts      int              `json:"attempts" gorm:"default:0"`
	Status        DeadLetterStatus `json:"status" gorm:"default:'pending';index"`
	NextAttemptAt time.Time        `json:"next_attempt_at"`
}

// DeadLetterStatus 死信状态
type DeadLetterStatus string

const (
	DeadLetterPending   DeadLetterStatus = "pending"
	DeadLetterReplayed  DeadLetterStatus = "replayed"
	DeadLetterAbandoned DeadLetterStatus = "abandoned"
)

// TableName 自定义表名
func (DeadLetterModel) TableName() string {
	return "sync_dead_letters"
}
