package logic

import (
	"context"
	"fmt"

	"github.com/ccolleatte/dao-services/internal/errs"
	"github.com/ccolleatte/dao-services/internal/model"
	"gorm.io/gorm"
)

// PaymentLogic 支付记录业务逻辑
type PaymentLogic struct {
	db *gorm.DB
}

// NewPaymentLogic 创建支付业务逻辑
func NewPaymentLogic(db *gorm.DB) *PaymentLogic {
	return &PaymentLogic{db: db}
}

// Create 创建支付记录
func (p *PaymentLogic) Create(ctx context.Context, payment *model.PaymentModel) error {
	if payment.AmountDaos.IsNegative() {
		return errs.NewValidationError("amount_daos", "amount_daos must not be negative")
	}
	payment.RecipientWallet = normalizeWallet(payment.RecipientWallet)
	if payment.ContributorType == "" {
		payment.ContributorType = model.ContributorHuman
	}
	if err := p.db.WithContext(ctx).Create(payment).Error; err != nil {
		return errs.NewStoreWriteError("create payment", err)
	}
	return nil
}

// ListByMission 获取任务的支付记录
func (p *PaymentLogic) ListByMission(ctx context.Context, missionId int64) ([]model.PaymentModel, error) {
	var payments []model.PaymentModel
	if err := p.db.WithContext(ctx).Where("mission_id = ?", missionId).Order("id ASC").Find(&payments).Error; err != nil {
		return nil, fmt.Errorf("获取支付记录失败: %w", err)
	}
	return payments, nil
}

// ListByTxHash 获取交易产生的支付记录
func (p *PaymentLogic) ListByTxHash(ctx context.Context, txHash string) ([]model.PaymentModel, error) {
	var payments []model.PaymentModel
	if err := p.db.WithContext(ctx).Where("transaction_hash = ?", txHash).Order("id ASC").Find(&payments).Error; err != nil {
		return nil, fmt.Errorf("获取支付记录失败: %w", err)
	}
	return payments, nil
}
