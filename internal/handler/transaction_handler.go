package handler

import (
	"net/http"
	"strconv"

	"github.com/ccolleatte/dao-services/internal/logic"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type TransactionHandler struct {
	transactionLogic *logic.TransactionLogic
}

func NewTransactionHandler(db *gorm.DB) *TransactionHandler {
	return &TransactionHandler{
		transactionLogic: logic.NewTransactionLogic(db),
	}
}

// GetTransactions 获取链上事件审计日志
func (h *TransactionHandler) GetTransactions(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	var missionID int64
	if raw := c.Query("mission_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			ErrorResponse(c, http.StatusBadRequest, "无效的任务ID")
			return
		}
		missionID = id
	}

	transactions, total, err := h.transactionLogic.List(c.Request.Context(), logic.TransactionFilter{
		MissionId: missionID,
		EventName: c.Query("event_name"),
		TxHash:    c.Query("tx_hash"),
		Page:      logic.Page{Page: page, PageSize: pageSize},
	})
	if err != nil {
		FailResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "", ListResponse{
		Items:      transactions,
		Pagination: newPagination(page, pageSize, total),
	})
}
