package logic

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ccolleatte/dao-services/internal/errs"
	"github.com/ccolleatte/dao-services/internal/model"
	"github.com/ccolleatte/dao-services/internal/validation"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// ErrCreationTxConflict 任务已绑定了另一笔创建交易，或该交易已被其他任务登记
var ErrCreationTxConflict = errors.New("任务已绑定其他创建交易")

// MissionLogic 任务业务逻辑
type MissionLogic struct {
	db *gorm.DB
}

// NewMissionLogic 创建任务业务逻辑
func NewMissionLogic(db *gorm.DB) *MissionLogic {
	return &MissionLogic{db: db}
}

// MissionFilter 任务列表过滤条件
type MissionFilter struct {
	Status       string
	ClientWallet string
	Page
}

// Create 创建任务
func (m *MissionLogic) Create(ctx context.Context, mission *model.MissionModel) error {
	if err := m.validateMission(mission); err != nil {
		return err
	}

	mission.ClientWallet = normalizeWallet(mission.ClientWallet)
	if mission.CreationTxHash != nil {
		txHash := normalizeTxHash(*mission.CreationTxHash)
		mission.CreationTxHash = &txHash
	}
	if mission.Status == "" {
		mission.Status = model.MissionStatusDraft
	}
	mission.OnChainMissionId = nil

	if err := m.db.WithContext(ctx).Create(mission).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrCreationTxConflict
		}
		return errs.NewStoreWriteError("create mission", err)
	}
	return nil
}

func (m *MissionLogic) validateMission(mission *model.MissionModel) error {
	if mission.Title == "" {
		return errs.NewValidationError("title", "title is required")
	}
	if err := validation.ValidateAddress(mission.ClientWallet, "client_wallet"); err != nil {
		return err
	}
	if !mission.BudgetMaxDaos.IsPositive() {
		return errs.NewValidationError("budget_max_daos", "budget_max_daos must be positive")
	}
	if mission.CreationTxHash != nil && !txHashPattern.MatchString(normalizeTxHash(*mission.CreationTxHash)) {
		return errs.NewValidationError("creation_tx_hash", "invalid transaction hash: %s", *mission.CreationTxHash)
	}
	return nil
}

// Get 获取任务详情
func (m *MissionLogic) Get(ctx context.Context, id int64) (*model.MissionModel, error) {
	var mission model.MissionModel
	if err := m.db.WithContext(ctx).First(&mission, id).Error; err != nil {
		if isNotFound(err) {
			return nil, ErrMissionNotFound
		}
		return nil, fmt.Errorf("获取任务失败: %w", err)
	}
	return &mission, nil
}

// List 获取任务列表
func (m *MissionLogic) List(ctx context.Context, filter MissionFilter) ([]model.MissionModel, int64, error) {
	var (
		missions []model.MissionModel
		total    int64
	)

	query := m.db.WithContext(ctx).Model(&model.MissionModel{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.ClientWallet != "" {
		query = query.Where("client_wallet = ?", normalizeWallet(filter.ClientWallet))
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("获取任务总数失败: %w", err)
	}

	offset, limit := filter.normalize()
	if err := query.Order("created_at DESC, id DESC").Offset(offset).Limit(limit).Find(&missions).Error; err != nil {
		return nil, 0, fmt.Errorf("获取任务列表失败: %w", err)
	}
	return missions, total, nil
}

// UpdateStatus 更新任务状态，block 为触发更新的区块号，0 表示链下更新
func (m *MissionLogic) UpdateStatus(ctx context.Context, id int64, status model.MissionStatus, block uint64) error {
	updates := map[string]interface{}{"status": status}
	if block > 0 {
		updates["last_chain_block"] = block
	}
	if err := m.db.WithContext(ctx).Model(&model.MissionModel{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return errs.NewStoreWriteError("update mission status", err)
	}
	return nil
}

// Cancel 取消尚未上链关联的任务
func (m *MissionLogic) Cancel(ctx context.Context, id int64) (*model.MissionModel, error) {
	mission, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if mission.Status != model.MissionStatusDraft && mission.Status != model.MissionStatusActive {
		return nil, errs.NewValidationError("status", "mission in status %s cannot be cancelled", mission.Status)
	}
	if err := m.UpdateStatus(ctx, id, model.MissionStatusCancelled, 0); err != nil {
		return nil, err
	}
	mission.Status = model.MissionStatusCancelled
	return mission, nil
}

// SetCreationTx 记录任务的创建交易哈希，作为链上关联的幂等键
func (m *MissionLogic) SetCreationTx(ctx context.Context, id int64, txHash string) (*model.MissionModel, error) {
	txHash = normalizeTxHash(txHash)
	if !txHashPattern.MatchString(txHash) {
		return nil, errs.NewValidationError("tx_hash", "invalid transaction hash: %s", txHash)
	}

	mission, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if mission.CreationTxHash != nil {
		if *mission.CreationTxHash == txHash {
			return mission, nil
		}
		return nil, ErrCreationTxConflict
	}

	result := m.db.WithContext(ctx).Model(&model.MissionModel{}).
		Where("id = ? AND creation_tx_hash IS NULL", id).
		Update("creation_tx_hash", txHash)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return nil, ErrCreationTxConflict
		}
		return nil, errs.NewStoreWriteError("set mission creation tx", result.Error)
	}
	if result.RowsAffected == 0 {
		// 并发登记，以已写入的值为准
		current, err := m.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.CreationTxHash == nil || *current.CreationTxHash != txHash {
			return nil, ErrCreationTxConflict
		}
		return current, nil
	}
	mission.CreationTxHash = &txHash
	return mission, nil
}

// FindByCreationTx 按创建交易哈希精确查找，未找到返回 nil
func (m *MissionLogic) FindByCreationTx(ctx context.Context, txHash string) (*model.MissionModel, error) {
	var mission model.MissionModel
	err := m.db.WithContext(ctx).Where("creation_tx_hash = ?", normalizeTxHash(txHash)).First(&mission).Error
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("按交易哈希查找任务失败: %w", err)
	}
	return &mission, nil
}

// FindUnlinked 按客户钱包与预算查找最近创建、尚未关联链上ID且未登记创建交易的任务，未找到返回 nil
func (m *MissionLogic) FindUnlinked(ctx context.Context, clientWallet string, budget decimal.Decimal) (*model.MissionModel, error) {
	var mission model.MissionModel
	err := m.db.WithContext(ctx).
		Where("client_wallet = ? AND budget_max_daos = ? AND on_chain_mission_id IS NULL AND creation_tx_hash IS NULL", normalizeWallet(clientWallet), budget).
		Order("created_at DESC, id DESC").
		First(&mission).Error
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("查找未关联任务失败: %w", err)
	}
	return &mission, nil
}

// LinkOnChainID 设置链上任务ID，只在尚未设置时生效，返回是否更新
func (m *MissionLogic) LinkOnChainID(ctx context.Context, id int64, onChainID string, budgetLocked decimal.Decimal, block uint64) (bool, error) {
	result := m.db.WithContext(ctx).Model(&model.MissionModel{}).
		Where("id = ? AND on_chain_mission_id IS NULL", id).
		Updates(map[string]interface{}{
			"on_chain_mission_id": onChainID,
			"budget_locked_daos":  budgetLocked,
			"last_chain_block":    block,
		})
	if result.Error != nil {
		return false, errs.NewStoreWriteError("link mission", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// FindByOnChainID 按链上任务ID查找，未找到返回 nil
func (m *MissionLogic) FindByOnChainID(ctx context.Context, onChainID string) (*model.MissionModel, error) {
	var mission model.MissionModel
	err := m.db.WithContext(ctx).Where("on_chain_mission_id = ?", onChainID).First(&mission).Error
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("按链上ID查找任务失败: %w", err)
	}
	return &mission, nil
}

// SelectConsultant 记录选中的顾问并将任务置为 on_hold
func (m *MissionLogic) SelectConsultant(ctx context.Context, id int64, consultantWallet string, block uint64) error {
	err := m.db.WithContext(ctx).Model(&model.MissionModel{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"selected_consultant_wallet": normalizeWallet(consultantWallet),
			"status":                     model.MissionStatusOnHold,
			"last_chain_block":           block,
		}).Error
	if err != nil {
		return errs.NewStoreWriteError("select consultant", err)
	}
	return nil
}

// normalizeTxHash 交易哈希统一为小写存储与比较
func normalizeTxHash(txHash string) string {
	return strings.ToLower(strings.TrimSpace(txHash))
}
