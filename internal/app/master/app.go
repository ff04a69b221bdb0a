/**
 * 应用程序生命周期
 * @description: 连接基础设施、装配编排核心模块、管理HTTP服务与后台循环的启停
 */
package master

import (
	"context"
	"fmt"
	"net/http"

	"reachmaster/internal/app/master/setup"
	"reachmaster/internal/config"
	missionModel "reachmaster/internal/model/mission"
	"reachmaster/internal/pkg/database"
	"reachmaster/internal/pkg/logger"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// App 应用程序结构体
type App struct {
	cfg          *config.Config
	db           *gorm.DB
	redisClient  *redis.Client
	orchestrator *setup.OrchestratorModule
	router       *Router
	server       *http.Server
}

// NewApp 创建新的应用程序实例
func NewApp(cfg *config.Config) (*App, error) {
	if err := cfg.Orchestrator.Validate(); err != nil {
		return nil, fmt.Errorf("invalid orchestrator config: %w", err)
	}

	db, err := database.NewMySQLConnection(&cfg.Database.MySQL)
	if err != nil {
		return nil, fmt.Errorf("connect mysql: %w", err)
	}

	if err := db.AutoMigrate(
		&missionModel.Mission{},
		&missionModel.SendingDomain{},
		&missionModel.ResourceLease{},
		&missionModel.DecisionRecord{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	// Redis 仅用于事件外发，禁用时不建立连接
	var redisClient *redis.Client
	if cfg.Orchestrator.Bus.ExternalEnabled {
		redisClient, err = database.NewRedisConnection(&cfg.Database.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
	}

	orchestrator := setup.BuildOrchestratorModule(db, redisClient, cfg)

	router := NewRouter(cfg, orchestrator)
	router.SetupRoutes()

	return &App{
		cfg:          cfg,
		db:           db,
		redisClient:  redisClient,
		orchestrator: orchestrator,
		router:       router,
	}, nil
}

// GetRouter 获取路由器实例
func (a *App) GetRouter() *Router {
	return a.router
}

// Start 启动后台循环与HTTP服务(阻塞直到服务退出)
func (a *App) Start() error {
	if err := a.orchestrator.Allocator.Start(); err != nil {
		return fmt.Errorf("start allocator: %w", err)
	}
	if err := a.orchestrator.Scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)
	a.server = &http.Server{
		Addr:           addr,
		Handler:        a.router.GetEngine(),
		ReadTimeout:    a.cfg.Server.ReadTimeout,
		WriteTimeout:   a.cfg.Server.WriteTimeout,
		IdleTimeout:    a.cfg.Server.IdleTimeout,
		MaxHeaderBytes: a.cfg.Server.MaxHeaderBytes,
	}

	logger.LogSystemEvent("app", "start", "http server listening", map[string]interface{}{
		"addr": addr,
	})
	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop 优雅停机: 先停收新请求，再停调度循环，最后断开基础设施
func (a *App) Stop(ctx context.Context) error {
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			logger.LogError(err, "app.Stop", nil)
		}
	}

	a.orchestrator.Scheduler.Stop()
	a.orchestrator.Allocator.Stop()
	a.orchestrator.DecisionCache.Close()

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			logger.LogError(err, "app.Stop", nil)
		}
	}
	if sqlDB, err := a.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			logger.LogError(err, "app.Stop", nil)
		}
	}

	logger.LogSystemEvent("app", "stop", "application stopped", nil)
	return nil
}
