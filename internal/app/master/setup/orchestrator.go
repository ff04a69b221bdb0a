/**
 * 初始化:编排核心模块
 * @description: 编排核心模块初始化(Repository → Core Components → Service → Handler)
 */
package setup

import (
	"time"

	"reachmaster/internal/config"
	"reachmaster/internal/pkg/logger"
	"reachmaster/internal/repo/memory"
	missionRepo "reachmaster/internal/repo/mysql/mission"
	redisRepo "reachmaster/internal/repo/redis"

	orchestratorHandler "reachmaster/internal/handler/orchestrator"
	orchestratorService "reachmaster/internal/service/orchestrator"
	"reachmaster/internal/service/orchestrator/allocator"
	"reachmaster/internal/service/orchestrator/crew"
	"reachmaster/internal/service/orchestrator/decision"
	"reachmaster/internal/service/orchestrator/eventbus"
	"reachmaster/internal/service/orchestrator/scheduler"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// BuildOrchestratorModule 构建编排核心模块
func BuildOrchestratorModule(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *OrchestratorModule {
	logger.WithFields(map[string]interface{}{
		"path":      "setup.orchestrator",
		"operation": "build_module",
		"func_name": "setup.BuildOrchestratorModule",
	}).Info("initializing orchestrator module")

	orch := cfg.Orchestrator

	// 1. Repository 初始化
	missionRepository := missionRepo.NewMissionRepository(db)
	domainRepository := missionRepo.NewDomainRepository(db)
	leaseRepository := missionRepo.NewLeaseRepository(db)
	decisionRepository := missionRepo.NewDecisionRepository(db)

	// 2. 消息总线(进程内 Hub + 可选的 Redis 外部广播)
	bus := eventbus.NewHub(orch.Bus.SubscriberQueue)
	if orch.Bus.ExternalEnabled && redisClient != nil {
		bus.AttachForwarder(redisRepo.NewBusPublisher(redisClient, orch.Bus.ChannelPrefix))
	}

	// 3. Core Components 初始化 (Allocator → Decision Engine → Crew Runtime → Scheduler)
	resourceAllocator := allocator.NewResourceAllocator(orch, domainRepository, leaseRepository, bus)

	decisionCache := memory.NewTTLCache()
	reasoner := decision.NewHTTPReasoner(orch.LLM)
	engine := decision.NewEngine(orch.Decision, reasoner, decisionCache, resourceAllocator, decisionRepository, bus)

	runtime := crew.NewLocalRuntime(200 * time.Millisecond)
	sched := scheduler.NewScheduler(orch.Scheduler, orch.Crews, missionRepository, resourceAllocator, engine, runtime, bus)

	// 4. Service 初始化
	reputationService := orchestratorService.NewReputationService(orch.Domains, domainRepository)
	coreService := orchestratorService.NewOrchestratorService(
		missionRepository,
		leaseRepository,
		decisionRepository,
		sched,
		resourceAllocator,
		reputationService,
		bus,
		orch.Scheduler.MaxRetries,
	)

	// 5. Handler 初始化
	missionHandler := orchestratorHandler.NewMissionHandler(coreService)

	logger.WithFields(map[string]interface{}{
		"path":      "setup.orchestrator",
		"operation": "build_module",
		"func_name": "setup.BuildOrchestratorModule",
	}).Info("orchestrator module initialized")

	return &OrchestratorModule{
		MissionHandler: missionHandler,

		OrchestratorService: coreService,
		ReputationService:   reputationService,

		Scheduler:     sched,
		Allocator:     resourceAllocator,
		Engine:        engine,
		Bus:           bus,
		DecisionCache: decisionCache,
	}
}
