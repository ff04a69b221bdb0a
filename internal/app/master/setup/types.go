/**
 * 初始化
 * @description: 包含master程序初始化相关的类型定义
 */
package setup

import (
	orchestratorHandler "reachmaster/internal/handler/orchestrator"
	"reachmaster/internal/repo/memory"
	orchestratorService "reachmaster/internal/service/orchestrator"
	"reachmaster/internal/service/orchestrator/allocator"
	"reachmaster/internal/service/orchestrator/decision"
	"reachmaster/internal/service/orchestrator/eventbus"
	"reachmaster/internal/service/orchestrator/scheduler"
)

// OrchestratorModule 是编排核心模块的聚合输出
// setup 层仅负责依赖装配(Repository → Service → Handler)，不侵入业务逻辑；
// Router 直接取用 Handler，App 生命周期管理取用核心组件的 Start/Stop
type OrchestratorModule struct {
	// Handlers
	MissionHandler *orchestratorHandler.MissionHandler

	// Services
	OrchestratorService orchestratorService.OrchestratorService
	ReputationService   orchestratorService.ReputationService

	// Core Components (核心组件)
	Scheduler     scheduler.Scheduler
	Allocator     allocator.ResourceAllocator
	Engine        decision.Engine
	Bus           eventbus.Bus
	DecisionCache *memory.TTLCache
}
