package logic

import (
	"context"
	"fmt"

	"github.com/ccolleatte/dao-services/internal/errs"
	"github.com/ccolleatte/dao-services/internal/model"
	"github.com/ccolleatte/dao-services/internal/validation"
	"gorm.io/gorm"
)

// ApplicationLogic 任务申请业务逻辑
type ApplicationLogic struct {
	db *gorm.DB
}

// NewApplicationLogic 创建申请业务逻辑
func NewApplicationLogic(db *gorm.DB) *ApplicationLogic {
	return &ApplicationLogic{db: db}
}

// Create 提交申请，同一顾问对同一任务只能有一条待处理申请
func (a *ApplicationLogic) Create(ctx context.Context, application *model.ApplicationModel) error {
	if err := validation.ValidateAddress(application.ConsultantWallet, "consultant_wallet"); err != nil {
		return err
	}
	application.ConsultantWallet = normalizeWallet(application.ConsultantWallet)
	application.Status = model.ApplicationStatusPending

	existing, err := a.FindByMissionAndConsultant(ctx, application.MissionId, application.ConsultantWallet)
	if err != nil {
		return err
	}
	if existing != nil && existing.Status == model.ApplicationStatusPending {
		return errs.NewValidationError("consultant_wallet", "consultant already applied to mission %d", application.MissionId)
	}

	if err := a.db.WithContext(ctx).Create(application).Error; err != nil {
		return errs.NewStoreWriteError("create application", err)
	}
	return nil
}

// ListByMission 获取任务的所有申请
func (a *ApplicationLogic) ListByMission(ctx context.Context, missionId int64) ([]model.ApplicationModel, error) {
	var applications []model.ApplicationModel
	if err := a.db.WithContext(ctx).Where("mission_id = ?", missionId).Order("id ASC").Find(&applications).Error; err != nil {
		return nil, fmt.Errorf("获取申请列表失败: %w", err)
	}
	return applications, nil
}

// FindByMissionAndConsultant 查找顾问对任务的最新申请，未找到返回 nil
func (a *ApplicationLogic) FindByMissionAndConsultant(ctx context.Context, missionId int64, consultantWallet string) (*model.ApplicationModel, error) {
	var application model.ApplicationModel
	err := a.db.WithContext(ctx).
		Where("mission_id = ? AND consultant_wallet = ?", missionId, normalizeWallet(consultantWallet)).
		Order("id DESC").
		First(&application).Error
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("查找申请失败: %w", err)
	}
	return &application, nil
}

// SetOnChainID 记录链上申请ID
func (a *ApplicationLogic) SetOnChainID(ctx context.Context, id int64, onChainID string) error {
	err := a.db.WithContext(ctx).Model(&model.ApplicationModel{}).Where("id = ?", id).
		Update("on_chain_application_id", onChainID).Error
	if err != nil {
		return errs.NewStoreWriteError("set application on-chain id", err)
	}
	return nil
}

// MarkSelected 将申请标记为选中，同任务其他待处理申请标记为拒绝
func (a *ApplicationLogic) MarkSelected(ctx context.Context, application *model.ApplicationModel, matchScore *int64) error {
	db := a.db.WithContext(ctx)
	updates := map[string]interface{}{"status": model.ApplicationStatusSelected}
	if matchScore != nil {
		updates["match_score"] = *matchScore
	}
	if err := db.Model(&model.ApplicationModel{}).Where("id = ?", application.Id).Updates(updates).Error; err != nil {
		return errs.NewStoreWriteError("select application", err)
	}

	err := db.Model(&model.ApplicationModel{}).
		Where("mission_id = ? AND id <> ? AND status = ?", application.MissionId, application.Id, model.ApplicationStatusPending).
		Update("status", model.ApplicationStatusRejected).Error
	if err != nil {
		return errs.NewStoreWriteError("reject other applications", err)
	}
	return nil
}
