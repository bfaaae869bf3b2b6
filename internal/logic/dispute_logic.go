package logic

import (
	"context"
	"fmt"
	"time"

	"github.com/ccolleatte/dao-services/internal/errs"
	"github.com/ccolleatte/dao-services/internal/model"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DisputeLogic 争议业务逻辑
type DisputeLogic struct {
	db *gorm.DB
}

// NewDisputeLogic 创建争议业务逻辑
func NewDisputeLogic(db *gorm.DB) *DisputeLogic {
	return &DisputeLogic{db: db}
}

// Create 创建争议，投票截止时间默认为创建后 72 小时
func (d *DisputeLogic) Create(ctx context.Context, dispute *model.DisputeModel, now time.Time) error {
	if dispute.Status == "" {
		dispute.Status = model.DisputeStatusVoting
	}
	if dispute.VotingDeadline.IsZero() {
		dispute.VotingDeadline = now.Add(model.DisputeVotingPeriod)
	}
	dispute.InitiatorWallet = normalizeWallet(dispute.InitiatorWallet)
	if err := d.db.WithContext(ctx).Create(dispute).Error; err != nil {
		return errs.NewStoreWriteError("create dispute", err)
	}
	return nil
}

// FindByOnChainID 按链上争议ID查找，未找到返回 nil
func (d *DisputeLogic) FindByOnChainID(ctx context.Context, onChainID string) (*model.DisputeModel, error) {
	var dispute model.DisputeModel
	err := d.db.WithContext(ctx).Where("on_chain_dispute_id = ?", onChainID).Order("id DESC").First(&dispute).Error
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("按链上ID查找争议失败: %w", err)
	}
	return &dispute, nil
}

// Resolve 记录争议裁决结果
func (d *DisputeLogic) Resolve(ctx context.Context, id int64, winner string, amount decimal.Decimal, at time.Time) error {
	err := d.db.WithContext(ctx).Model(&model.DisputeModel{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":              model.DisputeStatusResolved,
			"winner_wallet":       normalizeWallet(winner),
			"amount_awarded_daos": amount,
			"resolved_at":         at,
		}).Error
	if err != nil {
		return errs.NewStoreWriteError("resolve dispute", err)
	}
	return nil
}

// ExpireOverdue 将投票截止时间已过的争议标记为过期，返回更新数量
func (d *DisputeLogic) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	result := d.db.WithContext(ctx).Model(&model.DisputeModel{}).
		Where("status = ? AND voting_deadline < ?", model.DisputeStatusVoting, now).
		Update("status", model.DisputeStatusExpired)
	if result.Error != nil {
		return 0, errs.NewStoreWriteError("expire disputes", result.Error)
	}
	return result.RowsAffected, nil
}
