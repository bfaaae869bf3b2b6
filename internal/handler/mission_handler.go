package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ccolleatte/dao-services/internal/logic"
	"github.com/ccolleatte/dao-services/internal/model"
	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type MissionHandler struct {
	missionLogic   *logic.MissionLogic
	milestoneLogic *logic.MilestoneLogic
	paymentLogic   *logic.PaymentLogic
}

func NewMissionHandler(db *gorm.DB) *MissionHandler {
	return &MissionHandler{
		missionLogic:   logic.NewMissionLogic(db),
		milestoneLogic: logic.NewMilestoneLogic(db),
		paymentLogic:   logic.NewPaymentLogic(db),
	}
}

// CreateMission 创建任务
func (h *MissionHandler) CreateMission(c *gin.Context) {
	var req CreateMissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	mission := model.MissionModel{
		Title:         req.Title,
		Description:   req.Description,
		ClientWallet:  req.ClientWallet,
		BudgetMaxDaos: req.BudgetMaxDaos,
	}
	if len(req.RequiredSkills) > 0 {
		skills, err := json.Marshal(req.RequiredSkills)
		if err != nil {
			ErrorResponse(c, http.StatusBadRequest, err.Error())
			return
		}
		mission.RequiredSkills = datatypes.JSON(skills)
	}

	if err := h.missionLogic.Create(c.Request.Context(), &mission); err != nil {
		FailResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, "任务创建成功", mission)
}

// GetMissions 获取任务列表
func (h *MissionHandler) GetMissions(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	missions, total, err := h.missionLogic.List(c.Request.Context(), logic.MissionFilter{
		Status:       c.Query("status"),
		ClientWallet: c.Query("client"),
		Page:         logic.Page{Page: page, PageSize: pageSize},
	})
	if err != nil {
		FailResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "", ListResponse{
		Items:      missions,
		Pagination: newPagination(page, pageSize, total),
	})
}

// GetMission 获取单个任务详情
func (h *MissionHandler) GetMission(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	mission, err := h.missionLogic.Get(c.Request.Context(), id)
	if err != nil {
		FailResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "", mission)
}

// LinkCreationTx 记录任务的链上创建交易
func (h *MissionHandler) LinkCreationTx(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req LinkTxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	mission, err := h.missionLogic.SetCreationTx(c.Request.Context(), id, req.TxHash)
	if err != nil {
		FailResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "创建交易已记录", mission)
}

// CancelMission 取消任务
func (h *MissionHandler) CancelMission(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	mission, err := h.missionLogic.Cancel(c.Request.Context(), id)
	if err != nil {
		FailResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "任务已取消", mission)
}

// GetMilestones 获取任务的里程碑
func (h *MissionHandler) GetMilestones(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if _, err := h.missionLogic.Get(ctx, id); err != nil {
		FailResponse(c, err)
		return
	}
	milestones, err := h.milestoneLogic.ListByMission(ctx, id)
	if err != nil {
		FailResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "", milestones)
}

// GetPayments 获取任务的支付记录
func (h *MissionHandler) GetPayments(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if _, err := h.missionLogic.Get(ctx, id); err != nil {
		FailResponse(c, err)
		return
	}
	payments, err := h.paymentLogic.ListByMission(ctx, id)
	if err != nil {
		FailResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "", payments)
}

// parseID 解析路径中的任务ID，失败时已写入响应
func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		ErrorResponse(c, http.StatusBadRequest, "无效的任务ID")
		return 0, false
	}
	return id, true
}
