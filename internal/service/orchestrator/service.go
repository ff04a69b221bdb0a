/**
 * 编排服务层:对外门面
 * @description: 外部目标提交/取消/查询任务与读取资源快照的唯一入口，内部委托给 Scheduler 与 Allocator
 */
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	missionModel "reachmaster/internal/model/mission"
	"reachmaster/internal/pkg/logger"
	"reachmaster/internal/pkg/utils"
	missionRepo "reachmaster/internal/repo/mysql/mission"
	"reachmaster/internal/service/orchestrator/allocator"
	"reachmaster/internal/service/orchestrator/eventbus"
	"reachmaster/internal/service/orchestrator/scheduler"
)

var (
	// ErrInvalidMissionType 未知任务类型
	ErrInvalidMissionType = errors.New("invalid mission type")
	// ErrInvalidPayload 载荷不是合法 JSON
	ErrInvalidPayload = errors.New("mission payload must be valid JSON")
)

// SubmitRequest 任务提交请求
type SubmitRequest struct {
	Type       missionModel.MissionType `json:"type" binding:"required"`
	Priority   int                      `json:"priority"`
	CrewID     string                   `json:"crew_id"`
	CampaignID string                   `json:"campaign_id"`
	MaxRetries *int                     `json:"max_retries"`
	Payload    json.RawMessage          `json:"payload"`
}

// MissionStatusView 任务状态查询结果
type MissionStatusView struct {
	Mission   *missionModel.Mission         `json:"mission"`
	Leases    []*missionModel.ResourceLease `json:"leases"`
	Decisions []*missionModel.DecisionRecord `json:"decisions"`
}

// OrchestratorService 编排核心对外接口
type OrchestratorService interface {
	// SubmitMission 提交任务，入队后由调度循环异步派发
	SubmitMission(ctx context.Context, req *SubmitRequest) (*missionModel.Mission, error)
	// CancelMission 取消任务(立即释放租约，不回滚已发出的消息)
	CancelMission(ctx context.Context, missionID string) error
	// GetMissionStatus 查询任务状态、租约与决策轨迹
	GetMissionStatus(ctx context.Context, missionID string) (*MissionStatusView, error)
	// GetResourceSnapshot 只读资源池利用率快照
	GetResourceSnapshot(ctx context.Context) (*missionModel.PoolSnapshot, error)
	// ReportDeliveryOutcome 渠道适配器上报投递结果，驱动域名声誉重算
	ReportDeliveryOutcome(ctx context.Context, domainName string, outcome missionModel.DeliveryOutcome) error
}

type orchestratorService struct {
	missionRepo  missionRepo.MissionRepository
	leaseRepo    missionRepo.LeaseRepository
	decisionRepo missionRepo.DecisionRepository
	sched        scheduler.Scheduler
	alloc        allocator.ResourceAllocator
	reputation   ReputationService
	bus          eventbus.Bus
	maxRetries   int
}

// NewOrchestratorService 创建编排服务实例
func NewOrchestratorService(
	missionRepository missionRepo.MissionRepository,
	leaseRepository missionRepo.LeaseRepository,
	decisionRepository missionRepo.DecisionRepository,
	sched scheduler.Scheduler,
	alloc allocator.ResourceAllocator,
	reputation ReputationService,
	bus eventbus.Bus,
	maxRetries int,
) OrchestratorService {
	return &orchestratorService{
		missionRepo:  missionRepository,
		leaseRepo:    leaseRepository,
		decisionRepo: decisionRepository,
		sched:        sched,
		alloc:        alloc,
		reputation:   reputation,
		bus:          bus,
		maxRetries:   maxRetries,
	}
}

// SubmitMission 提交任务
func (s *orchestratorService) SubmitMission(ctx context.Context, req *SubmitRequest) (*missionModel.Mission, error) {
	switch req.Type {
	case missionModel.TypeEmailOutreach, missionModel.TypeSMSOutreach, missionModel.TypeWhatsAppOutreach,
		missionModel.TypeDomainWarmup, missionModel.TypeReplyFollowup:
	default:
		return nil, ErrInvalidMissionType
	}

	payload := "{}"
	if len(req.Payload) > 0 {
		if !json.Valid(req.Payload) {
			return nil, ErrInvalidPayload
		}
		payload = string(req.Payload)
	}

	maxRetries := s.maxRetries
	if req.MaxRetries != nil && *req.MaxRetries >= 0 {
		maxRetries = *req.MaxRetries
	}

	m := &missionModel.Mission{
		MissionID:  utils.GenerateUUID(),
		Type:       req.Type,
		Priority:   req.Priority,
		Status:     missionModel.StatusQueued,
		CrewID:     req.CrewID,
		CampaignID: req.CampaignID,
		MaxRetries: maxRetries,
		Payload:    payload,
	}
	if err := s.missionRepo.CreateMission(ctx, m); err != nil {
		return nil, fmt.Errorf("create mission: %w", err)
	}

	s.bus.Publish(ctx, eventbus.Event{
		Topic: eventbus.TopicMissionCreated,
		Payload: map[string]interface{}{
			"mission_id": m.MissionID,
			"type":       string(m.Type),
			"priority":   m.Priority,
		},
	})
	logger.LogSystemEvent("orchestrator", "submit", "mission submitted", map[string]interface{}{
		"mission_id": m.MissionID,
		"type":       string(m.Type),
		"priority":   m.Priority,
	})
	return m, nil
}

// CancelMission 取消任务
func (s *orchestratorService) CancelMission(ctx context.Context, missionID string) error {
	return s.sched.Cancel(ctx, missionID)
}

// GetMissionStatus 查询任务状态
func (s *orchestratorService) GetMissionStatus(ctx context.Context, missionID string) (*MissionStatusView, error) {
	m, err := s.missionRepo.GetMissionByID(ctx, missionID)
	if err != nil {
		return nil, fmt.Errorf("load mission: %w", err)
	}
	if m == nil {
		return nil, scheduler.ErrMissionNotFound
	}

	leases, err := s.leaseRepo.ListByMission(ctx, missionID)
	if err != nil {
		return nil, fmt.Errorf("load leases: %w", err)
	}
	decisions, err := s.decisionRepo.ListByMission(ctx, missionID, 50)
	if err != nil {
		return nil, fmt.Errorf("load decisions: %w", err)
	}

	return &MissionStatusView{
		Mission:   m,
		Leases:    leases,
		Decisions: decisions,
	}, nil
}

// GetResourceSnapshot 资源池快照
func (s *orchestratorService) GetResourceSnapshot(ctx context.Context) (*missionModel.PoolSnapshot, error) {
	return s.alloc.Snapshot(ctx)
}

// ReportDeliveryOutcome 投递结果反馈
func (s *orchestratorService) ReportDeliveryOutcome(ctx context.Context, domainName string, outcome missionModel.DeliveryOutcome) error {
	switch outcome {
	case missionModel.OutcomeDelivered, missionModel.OutcomeBounce, missionModel.OutcomeComplaint:
	default:
		return fmt.Errorf("invalid delivery outcome: %s", outcome)
	}
	return s.reputation.ApplyOutcome(ctx, domainName, outcome)
}
