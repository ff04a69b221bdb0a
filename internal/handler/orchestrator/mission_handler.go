/**
 * 编排处理器:任务与资源接口
 * @description: 外部目标(产品后端)调用的 HTTP 入口，参数校验后委托编排服务
 */
package orchestrator

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	missionModel "reachmaster/internal/model/mission"
	"reachmaster/internal/model/system"
	"reachmaster/internal/pkg/logger"
	"reachmaster/internal/pkg/utils"
	orchestratorService "reachmaster/internal/service/orchestrator"
	"reachmaster/internal/service/orchestrator/scheduler"
)

// MissionHandler 任务编排处理器
type MissionHandler struct {
	service orchestratorService.OrchestratorService
}

// NewMissionHandler 创建任务编排处理器
func NewMissionHandler(service orchestratorService.OrchestratorService) *MissionHandler {
	return &MissionHandler{
		service: service,
	}
}

// SubmitMission 提交任务
// POST /api/v1/missions
func (h *MissionHandler) SubmitMission(c *gin.Context) {
	var req orchestratorService.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, system.APIResponse{
			Code:    http.StatusBadRequest,
			Status:  "error",
			Message: "invalid request body",
			Error:   err.Error(),
		})
		return
	}

	m, err := h.service.SubmitMission(c.Request.Context(), &req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, orchestratorService.ErrInvalidMissionType) || errors.Is(err, orchestratorService.ErrInvalidPayload) {
			status = http.StatusBadRequest
		}
		c.JSON(status, system.APIResponse{
			Code:    status,
			Status:  "error",
			Message: "failed to submit mission",
			Error:   err.Error(),
		})
		return
	}

	logger.WithFields(map[string]interface{}{
		"mission_id": m.MissionID,
		"type":       string(m.Type),
		"client_ip":  utils.GetClientIP(c),
		"func_name":  "handler.SubmitMission",
	}).Info("mission submitted")

	c.JSON(http.StatusCreated, system.APIResponse{
		Code:    http.StatusCreated,
		Status:  "success",
		Message: "mission submitted",
		Data:    m,
	})
}

// CancelMission 取消任务
// POST /api/v1/missions/:mission_id/cancel
func (h *MissionHandler) CancelMission(c *gin.Context) {
	missionID := c.Param("mission_id")

	err := h.service.CancelMission(c.Request.Context(), missionID)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, scheduler.ErrMissionNotFound):
			status = http.StatusNotFound
		case errors.Is(err, scheduler.ErrMissionTerminal):
			status = http.StatusConflict
		}
		c.JSON(status, system.APIResponse{
			Code:    status,
			Status:  "error",
			Message: "failed to cancel mission",
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, system.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: "mission cancelled",
	})
}

// GetMissionStatus 查询任务状态
// GET /api/v1/missions/:mission_id
func (h *MissionHandler) GetMissionStatus(c *gin.Context) {
	missionID := c.Param("mission_id")

	view, err := h.service.GetMissionStatus(c.Request.Context(), missionID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, scheduler.ErrMissionNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, system.APIResponse{
			Code:    status,
			Status:  "error",
			Message: "failed to get mission status",
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, system.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: "mission status retrieved",
		Data:    view,
	})
}

// GetResourceSnapshot 资源池快照
// GET /api/v1/resources/snapshot
func (h *MissionHandler) GetResourceSnapshot(c *gin.Context) {
	snapshot, err := h.service.GetResourceSnapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, system.APIResponse{
			Code:    http.StatusInternalServerError,
			Status:  "error",
			Message: "failed to get resource snapshot",
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, system.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: "resource snapshot retrieved",
		Data:    snapshot,
	})
}

// deliveryOutcomeRequest 投递结果上报请求
type deliveryOutcomeRequest struct {
	Domain  string                       `json:"domain" binding:"required"`
	Outcome missionModel.DeliveryOutcome `json:"outcome" binding:"required"`
}

// ReportDeliveryOutcome 投递结果反馈
// POST /api/v1/domains/outcome
func (h *MissionHandler) ReportDeliveryOutcome(c *gin.Context) {
	var req deliveryOutcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, system.APIResponse{
			Code:    http.StatusBadRequest,
			Status:  "error",
			Message: "invalid request body",
			Error:   err.Error(),
		})
		return
	}

	if err := h.service.ReportDeliveryOutcome(c.Request.Context(), req.Domain, req.Outcome); err != nil {
		c.JSON(http.StatusInternalServerError, system.APIResponse{
			Code:    http.StatusInternalServerError,
			Status:  "error",
			Message: "failed to apply delivery outcome",
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, system.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: "delivery outcome applied",
	})
}
