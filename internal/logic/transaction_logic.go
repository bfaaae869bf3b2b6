package logic

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ccolleatte/dao-services/internal/errs"
	"github.com/ccolleatte/dao-services/internal/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TransactionLogic 链上事件审计日志
type TransactionLogic struct {
	db *gorm.DB
}

// NewTransactionLogic 创建审计日志业务逻辑
func NewTransactionLogic(db *gorm.DB) *TransactionLogic {
	return &TransactionLogic{db: db}
}

// WithTx 返回使用事务的副本
func (t *TransactionLogic) WithTx(tx *gorm.DB) *TransactionLogic {
	return &TransactionLogic{db: tx}
}

// TransactionFilter 审计日志过滤条件
type TransactionFilter struct {
	MissionId int64
	EventName string
	TxHash    string
	Page
}

// Append 追加一条审计日志
func (t *TransactionLogic) Append(ctx context.Context, entry *model.TransactionModel, eventData map[string]interface{}) error {
	if entry.TransactionHash == "" {
		return errs.NewValidationError("transactionHash", "transaction hash is required")
	}
	if eventData != nil {
		raw, err := json.Marshal(eventData)
		if err != nil {
			return fmt.Errorf("序列化事件数据失败: %w", err)
		}
		entry.EventData = datatypes.JSON(raw)
	}
	if err := t.db.WithContext(ctx).Create(entry).Error; err != nil {
		return errs.NewStoreWriteError("append transaction log", err)
	}
	return nil
}

// GetLastProcessedBlock 返回审计日志中最大的区块号，没有记录时 ok 为 false
func (t *TransactionLogic) GetLastProcessedBlock(ctx context.Context) (block uint64, ok bool, err error) {
	var maxBlock sql.NullInt64
	if err := t.db.WithContext(ctx).Model(&model.TransactionModel{}).
		Select("MAX(block_number)").Row().Scan(&maxBlock); err != nil {
		return 0, false, fmt.Errorf("获取最后处理区块失败: %w", err)
	}
	if !maxBlock.Valid {
		return 0, false, nil
	}
	return uint64(maxBlock.Int64), true, nil
}

// Exists 检查幂等键 (txHash, logIndex) 是否已记录
func (t *TransactionLogic) Exists(ctx context.Context, txHash string, logIndex uint) (bool, error) {
	var count int64
	if err := t.db.WithContext(ctx).Model(&model.TransactionModel{}).
		Where("transaction_hash = ? AND log_index = ?", txHash, logIndex).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("检查事件是否已处理失败: %w", err)
	}
	return count > 0, nil
}

// CountByTxHash 统计交易的审计日志条数
func (t *TransactionLogic) CountByTxHash(ctx context.Context, txHash string) (int64, error) {
	var count int64
	if err := t.db.WithContext(ctx).Model(&model.TransactionModel{}).
		Where("transaction_hash = ?", txHash).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("统计审计日志失败: %w", err)
	}
	return count, nil
}

// List 获取审计日志列表
func (t *TransactionLogic) List(ctx context.Context, filter TransactionFilter) ([]model.TransactionModel, int64, error) {
	var (
		entries []model.TransactionModel
		total   int64
	)

	query := t.db.WithContext(ctx).Model(&model.TransactionModel{})
	if filter.MissionId > 0 {
		query = query.Where("mission_id = ?", filter.MissionId)
	}
	if filter.EventName != "" {
		query = query.Where("event_name = ?", filter.EventName)
	}
	if filter.TxHash != "" {
		query = query.Where("transaction_hash = ?", filter.TxHash)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("获取审计日志总数失败: %w", err)
	}

	offset, limit := filter.normalize()
	if err := query.Order("block_number DESC, log_index DESC, id DESC").Offset(offset).Limit(limit).Find(&entries).Error; err != nil {
		return nil, 0, fmt.Errorf("获取审计日志失败: %w", err)
	}
	return entries, total, nil
}
