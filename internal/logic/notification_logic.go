package logic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ccolleatte/dao-services/internal/errs"
	"github.com/ccolleatte/dao-services/internal/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// NotificationLogic 通知业务逻辑
type NotificationLogic struct {
	db *gorm.DB
}

// NewNotificationLogic 创建通知业务逻辑
func NewNotificationLogic(db *gorm.DB) *NotificationLogic {
	return &NotificationLogic{db: db}
}

// Create 创建通知，metadata 序列化为 JSON
func (n *NotificationLogic) Create(ctx context.Context, notification *model.NotificationModel, metadata map[string]interface{}) error {
	if metadata != nil {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("序列化通知元数据失败: %w", err)
		}
		notification.Metadata = datatypes.JSON(raw)
	}
	notification.RecipientWallet = normalizeWallet(notification.RecipientWallet)
	if err := n.db.WithContext(ctx).Create(notification).Error; err != nil {
		return errs.NewStoreWriteError("create notification", err)
	}
	return nil
}

// ListByRecipient 获取用户的通知
func (n *NotificationLogic) ListByRecipient(ctx context.Context, wallet string) ([]model.NotificationModel, error) {
	var notifications []model.NotificationModel
	if err := n.db.WithContext(ctx).Where("recipient_wallet = ?", normalizeWallet(wallet)).
		Order("created_at DESC").Find(&notifications).Error; err != nil {
		return nil, fmt.Errorf("获取通知失败: %w", err)
	}
	return notifications, nil
}
