package handler

import (
	"net/http"

	"github.com/ccolleatte/dao-services/internal/logic"
	"github.com/ccolleatte/dao-services/internal/model"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type ApplicationHandler struct {
	missionLogic     *logic.MissionLogic
	applicationLogic *logic.ApplicationLogic
}

func NewApplicationHandler(db *gorm.DB) *ApplicationHandler {
	return &ApplicationHandler{
		missionLogic:     logic.NewMissionLogic(db),
		applicationLogic: logic.NewApplicationLogic(db),
	}
}

// CreateApplication 顾问申请任务
func (h *ApplicationHandler) CreateApplication(c *gin.Context) {
	missionID, ok := parseID(c)
	if !ok {
		return
	}

	var req CreateApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx := c.Request.Context()
	if _, err := h.missionLogic.Get(ctx, missionID); err != nil {
		FailResponse(c, err)
		return
	}

	application := model.ApplicationModel{
		MissionId:        missionID,
		ConsultantWallet: req.ConsultantWallet,
		Proposal:         req.Proposal,
	}
	if err := h.applicationLogic.Create(ctx, &application); err != nil {
		FailResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, "申请提交成功", application)
}

// GetApplications 获取任务的申请列表
func (h *ApplicationHandler) GetApplications(c *gin.Context) {
	missionID, ok := parseID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if _, err := h.missionLogic.Get(ctx, missionID); err != nil {
		FailResponse(c, err)
		return
	}

	applications, err := h.applicationLogic.ListByMission(ctx, missionID)
	if err != nil {
		FailResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "", applications)
}
