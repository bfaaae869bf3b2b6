package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// NotificationModel 用户通知
type NotificationModel struct {
	Id        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	CreatedAt time.Time `json:"created_at"`

	RecipientWallet string         `json:"recipient_wallet" gorm:"not null;index"`
	Type            string         `json:"type" gorm:"not null"`
	Title           string         `json:"title"`
	Message         string         `json:"message" gorm:"type:text"`
	LinkUrl         string         `json:"link_url"`
	Metadata        datatypes.JSON `json:"metadata"`
	Read            bool           `json:"read" gorm:"default:false"`
}

// BeforeCreate 生成 uuid 主键
func (n *NotificationModel) BeforeCreate(tx *gorm.DB) error {
	if n.Id == "" {
		n.Id = uuid.NewString()
	}
	return nil
}

// TableName 自定义表名
func (NotificationModel) TableName() string {
	return "notifications"
}
