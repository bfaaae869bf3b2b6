package logic

import (
	"context"
	"fmt"
	"time"

	"github.com/ccolleatte/dao-services/internal/errs"
	"github.com/ccolleatte/dao-services/internal/model"
	"gorm.io/gorm"
)

// MilestoneLogic 里程碑业务逻辑
type MilestoneLogic struct {
	db *gorm.DB
}

// NewMilestoneLogic 创建里程碑业务逻辑
func NewMilestoneLogic(db *gorm.DB) *MilestoneLogic {
	return &MilestoneLogic{db: db}
}

// Create 创建里程碑
func (m *MilestoneLogic) Create(ctx context.Context, milestone *model.MilestoneModel) error {
	if milestone.MissionId == 0 {
		return errs.NewValidationError("mission_id", "mission_id is required")
	}
	if milestone.AmountDaos.IsNegative() {
		return errs.NewValidationError("amount_daos", "amount_daos must not be negative")
	}
	if milestone.Status == "" {
		milestone.Status = model.MilestoneStatusPending
	}
	if err := m.db.WithContext(ctx).Create(milestone).Error; err != nil {
		return errs.NewStoreWriteError("create milestone", err)
	}
	return nil
}

// FindByOnChainID 按链上里程碑ID查找，未找到返回 nil
func (m *MilestoneLogic) FindByOnChainID(ctx context.Context, onChainID string) (*model.MilestoneModel, error) {
	var milestone model.MilestoneModel
	err := m.db.WithContext(ctx).Where("on_chain_milestone_id = ?", onChainID).Order("id DESC").First(&milestone).Error
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("按链上ID查找里程碑失败: %w", err)
	}
	return &milestone, nil
}

// ListByMission 获取任务的里程碑
func (m *MilestoneLogic) ListByMission(ctx context.Context, missionId int64) ([]model.MilestoneModel, error) {
	var milestones []model.MilestoneModel
	if err := m.db.WithContext(ctx).Where("mission_id = ?", missionId).Order("id ASC").Find(&milestones).Error; err != nil {
		return nil, fmt.Errorf("获取里程碑列表失败: %w", err)
	}
	return milestones, nil
}

// UpdateStatus 更新里程碑状态及附带字段
func (m *MilestoneLogic) UpdateStatus(ctx context.Context, id int64, status model.MilestoneStatus, fields map[string]interface{}) error {
	updates := map[string]interface{}{"status": status}
	for k, v := range fields {
		updates[k] = v
	}
	if err := m.db.WithContext(ctx).Model(&model.MilestoneModel{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return errs.NewStoreWriteError("update milestone status", err)
	}
	return nil
}

// Submit 提交交付物
func (m *MilestoneLogic) Submit(ctx context.Context, id int64, deliverable string, at time.Time) error {
	return m.UpdateStatus(ctx, id, model.MilestoneStatusSubmitted, map[string]interface{}{
		"deliverable":  deliverable,
		"submitted_at": at,
	})
}

// Approve 审批通过
func (m *MilestoneLogic) Approve(ctx context.Context, id int64, at time.Time) error {
	return m.UpdateStatus(ctx, id, model.MilestoneStatusApproved, map[string]interface{}{"approved_at": at})
}

// Reject 驳回
func (m *MilestoneLogic) Reject(ctx context.Context, id int64, reason string) error {
	return m.UpdateStatus(ctx, id, model.MilestoneStatusRejected, map[string]interface{}{"rejection_reason": reason})
}
