package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/ccolleatte/dao-services/internal/logic"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// StatusProvider 提供监听器运行状态
type StatusProvider interface {
	GetStatus(ctx context.Context) map[string]interface{}
}

type SyncHandler struct {
	status          StatusProvider
	deadLetterLogic *logic.DeadLetterLogic
}

func NewSyncHandler(db *gorm.DB, status StatusProvider) *SyncHandler {
	return &SyncHandler{
		status:          status,
		deadLetterLogic: logic.NewDeadLetterLogic(db),
	}
}

// GetStatus 获取同步状态
func (h *SyncHandler) GetStatus(c *gin.Context) {
	ctx := c.Request.Context()
	data := map[string]interface{}{}
	if h.status != nil {
		data = h.status.GetStatus(ctx)
	}

	pending, err := h.deadLetterLogic.CountPending(ctx)
	if err != nil {
		FailResponse(c, err)
		return
	}
	data["pending_dead_letters"] = pending
	SuccessResponse(c, http.StatusOK, "", data)
}

// GetDeadLetters 获取死信列表
func (h *SyncHandler) GetDeadLetters(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	letters, total, err := h.deadLetterLogic.List(c.Request.Context(), c.Query("status"),
		logic.Page{Page: page, PageSize: pageSize})
	if err != nil {
		FailResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "", ListResponse{
		Items:      letters,
		Pagination: newPagination(page, pageSize, total),
	})
}
