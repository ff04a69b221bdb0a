/**
 * 路由管理器
 * @description: 装配全局中间件与编排核心的对外路由
 */
package master

import (
	"net/http"
	"time"

	"reachmaster/internal/app/master/setup"
	"reachmaster/internal/config"

	"github.com/gin-gonic/gin"
)

// Router 路由管理器
type Router struct {
	engine            *gin.Engine
	middlewareManager *MiddlewareManager
	orchestrator      *setup.OrchestratorModule
}

// NewRouter 创建路由管理器实例
func NewRouter(cfg *config.Config, orchestrator *setup.OrchestratorModule) *Router {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()

	return &Router{
		engine:            engine,
		middlewareManager: NewMiddlewareManager(),
		orchestrator:      orchestrator,
	}
}

// SetupRoutes 设置路由
func (r *Router) SetupRoutes() {
	// 全局中间件
	r.engine.Use(r.middlewareManager.GinRecoveryMiddleware())
	r.engine.Use(r.middlewareManager.GinCORSMiddleware())
	r.engine.Use(r.middlewareManager.GinSecurityHeadersMiddleware())
	r.engine.Use(r.middlewareManager.GinLoggingMiddleware())

	// API版本路由组
	// /api/v1
	api := r.engine.Group("/api")
	v1 := api.Group("/v1")

	r.setupMissionRoutes(v1)
	r.setupResourceRoutes(v1)
	r.setupHealthRoutes(api)
}

// setupMissionRoutes 任务生命周期路由
func (r *Router) setupMissionRoutes(v1 *gin.RouterGroup) {
	h := r.orchestrator.MissionHandler

	missions := v1.Group("/missions")
	{
		missions.POST("", h.SubmitMission)                       // 提交任务
		missions.GET("/:mission_id", h.GetMissionStatus)         // 查询任务状态(含租约与决策轨迹)
		missions.POST("/:mission_id/cancel", h.CancelMission)    // 取消任务
	}
}

// setupResourceRoutes 资源与反馈路由
func (r *Router) setupResourceRoutes(v1 *gin.RouterGroup) {
	h := r.orchestrator.MissionHandler

	resources := v1.Group("/resources")
	{
		resources.GET("/snapshot", h.GetResourceSnapshot) // 资源池利用率快照
	}

	domains := v1.Group("/domains")
	{
		domains.POST("/outcome", h.ReportDeliveryOutcome) // 渠道适配器上报投递结果
	}
}

// setupHealthRoutes 设置健康检查路由
func (r *Router) setupHealthRoutes(api *gin.RouterGroup) {
	api.GET("/health", r.healthCheck)
	api.GET("/live", r.livenessCheck)
}

// GetEngine 获取Gin引擎实例
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}

func (r *Router) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Format("2006-01-02 15:04:05"),
	})
}

func (r *Router) livenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now().Format("2006-01-02 15:04:05"),
	})
}
