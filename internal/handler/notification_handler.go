package handler

import (
	"net/http"

	"github.com/ccolleatte/dao-services/internal/logic"
	"github.com/ccolleatte/dao-services/internal/validation"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type NotificationHandler struct {
	notificationLogic *logic.NotificationLogic
}

func NewNotificationHandler(db *gorm.DB) *NotificationHandler {
	return &NotificationHandler{
		notificationLogic: logic.NewNotificationLogic(db),
	}
}

// GetNotifications 获取钱包地址的通知
func (h *NotificationHandler) GetNotifications(c *gin.Context) {
	wallet := c.Query("wallet")
	if err := validation.ValidateAddress(wallet, "wallet"); err != nil {
		FailResponse(c, err)
		return
	}

	notifications, err := h.notificationLogic.ListByRecipient(c.Request.Context(), wallet)
	if err != nil {
		FailResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "", notifications)
}
