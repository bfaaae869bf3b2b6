package logic

import (
	"context"
	"fmt"
	"strings"

	"github.com/ccolleatte/dao-services/internal/errs"
	"github.com/ccolleatte/dao-services/internal/model"
	"gorm.io/gorm"
)

// WatermarkLogic 合约同步水位
type WatermarkLogic struct {
	db *gorm.DB
}

// NewWatermarkLogic 创建水位业务逻辑
func NewWatermarkLogic(db *gorm.DB) *WatermarkLogic {
	return &WatermarkLogic{db: db}
}

// WithTx 返回使用事务的副本
func (w *WatermarkLogic) WithTx(tx *gorm.DB) *WatermarkLogic {
	return &WatermarkLogic{db: tx}
}

// Get 获取合约水位，未记录时返回 nil
func (w *WatermarkLogic) Get(ctx context.Context, contract string) (*model.SyncWatermarkModel, error) {
	var wm model.SyncWatermarkModel
	err := w.db.WithContext(ctx).Where("contract_address = ?", strings.ToLower(contract)).First(&wm).Error
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("获取同步水位失败: %w", err)
	}
	return &wm, nil
}

// IsAhead 判断事件位置是否高于合约水位
func (w *WatermarkLogic) IsAhead(ctx context.Context, contract string, block uint64, logIndex uint) (bool, error) {
	wm, err := w.Get(ctx, contract)
	if err != nil {
		return false, err
	}
	return wm == nil || after(block, logIndex, wm), nil
}

// Advance 推进合约水位，不会回退
func (w *WatermarkLogic) Advance(ctx context.Context, contract string, block uint64, logIndex uint) error {
	contract = strings.ToLower(contract)
	wm, err := w.Get(ctx, contract)
	if err != nil {
		return err
	}

	db := w.db.WithContext(ctx)
	if wm == nil {
		err = db.Create(&model.SyncWatermarkModel{
			ContractAddress: contract,
			BlockNumber:     block,
			LogIndex:        logIndex,
		}).Error
		return errs.NewStoreWriteError("create watermark", err)
	}
	if !after(block, logIndex, wm) {
		return nil
	}

	err = db.Model(&model.SyncWatermarkModel{}).Where("contract_address = ?", contract).
		Updates(map[string]interface{}{"block_number": block, "log_index": logIndex}).Error
	return errs.NewStoreWriteError("advance watermark", err)
}

// All 获取所有合约水位
func (w *WatermarkLogic) All(ctx context.Context) ([]model.SyncWatermarkModel, error) {
	var marks []model.SyncWatermarkModel
	if err := w.db.WithContext(ctx).Order("contract_address ASC").Find(&marks).Error; err != nil {
		return nil, fmt.Errorf("获取同步水位失败: %w", err)
	}
	return marks, nil
}

func after(block uint64, logIndex uint, wm *model.SyncWatermarkModel) bool {
	if block != wm.BlockNumber {
		return block > wm.BlockNumber
	}
	return logIndex > wm.LogIndex
}
