// ResourceAllocator 资源分配器
// 职责: 管理三类有限资源池(Crew 并发槽位 / 发信域名 / 服务商配额)并发放、回收租约。
// Allocator 是池状态的唯一写入方：Scheduler 与 Decision Engine 只发起请求或读取快照，
// 其余组件一律不得改写租约或池状态。
package allocator

import (
	"context"
	"errors"
	"sync"
	"time"

	"reachmaster/internal/config"
	missionModel "reachmaster/internal/model/mission"
	"reachmaster/internal/pkg/logger"
	"reachmaster/internal/pkg/utils"
	missionRepo "reachmaster/internal/repo/mysql/mission"
	"reachmaster/internal/service/orchestrator/eventbus"
)

// 资源竞争属于预期内的非异常情况，以哨兵错误表达 Denied 语义，由调用方择机重试
var (
	ErrSlotsExhausted   = errors.New("allocator: crew agent slots exhausted")
	ErrQuotaExhausted   = errors.New("allocator: provider quota exhausted")
	ErrNoEligibleDomain = errors.New("allocator: no domain above tier floor")
	ErrUnknownProvider  = errors.New("allocator: unknown quota provider")
)

// AcquireRequest 租约申请
type AcquireRequest struct {
	Kind      missionModel.LeaseKind
	MissionID string

	// agent_slot
	CrewID string

	// api_quota
	Provider string

	// domain
	CampaignID   string                  // 专属域名查找用
	Tier         missionModel.DomainTier // 指定池层级(决策引擎的裁决结果)；为空时按 dedicated→custom→pre_warmed 顺序
	AllowWarming bool                    // warmup 类任务允许选取 warming 状态域名
}

// ResourceAllocator 资源分配器接口
type ResourceAllocator interface {
	// Acquire 申请租约；资源不足时立即返回哨兵错误(非阻塞)，重试由 Scheduler 负责
	Acquire(ctx context.Context, req AcquireRequest) (*missionModel.ResourceLease, error)
	// Release 释放租约；对未知或已释放的租约ID是无害的no-op(容忍恢复循环的重复释放)
	Release(ctx context.Context, leaseID string)
	// ReleaseAllForMission 释放任务持有的全部在活租约
	ReleaseAllForMission(ctx context.Context, missionID string)
	// Snapshot 只读池利用率快照，供 Scheduler 准入检查与外部分析
	Snapshot(ctx context.Context) (*missionModel.PoolSnapshot, error)
	// SelectionFacts 汇总域名池现状，供决策引擎构造 DOMAIN_SELECTION 上下文
	SelectionFacts(ctx context.Context, campaignID string) (*SelectionFacts, error)
	// Start 启动配额补充计划与租约过期巡检
	Start() error
	// Stop 停止后台任务
	Stop()
}

// SelectionFacts 域名池选取现状
type SelectionFacts struct {
	DedicatedDomain   string
	CustomEligible    int
	PrewarmedEligible int
}

// activeLease Allocator 内存账本中的在活租约
type activeLease struct {
	lease *missionModel.ResourceLease
	req   AcquireRequest
}

type resourceAllocator struct {
	cfg        config.OrchestratorConfig
	domainRepo missionRepo.DomainRepository
	leaseRepo  missionRepo.LeaseRepository
	bus        eventbus.Bus

	mu      sync.Mutex
	slots   map[string]*slotPool  // crewID -> 槽位池
	quotas  map[string]*tokenPool // provider -> 令牌桶
	cursors map[missionModel.DomainTier]int
	active  map[string]*activeLease // leaseID -> 在活租约

	refiller *quotaRefiller
}

// NewResourceAllocator 创建资源分配器
func NewResourceAllocator(
	cfg config.OrchestratorConfig,
	domainRepo missionRepo.DomainRepository,
	leaseRepo missionRepo.LeaseRepository,
	bus eventbus.Bus,
) ResourceAllocator {
	a := &resourceAllocator{
		cfg:        cfg,
		domainRepo: domainRepo,
		leaseRepo:  leaseRepo,
		bus:        bus,
		slots:      make(map[string]*slotPool),
		quotas:     make(map[string]*tokenPool),
		cursors:    make(map[missionModel.DomainTier]int),
		active:     make(map[string]*activeLease),
	}
	for provider, qc := range cfg.Quotas {
		a.quotas[provider] = newTokenPool(qc.Capacity)
	}
	a.refiller = newQuotaRefiller(a, cfg.Quotas)
	return a
}

// Start 启动配额补充计划与租约过期巡检
func (a *resourceAllocator) Start() error {
	return a.refiller.start()
}

// Stop 停止后台任务
func (a *resourceAllocator) Stop() {
	a.refiller.stop()
}

// Acquire 申请租约
func (a *resourceAllocator) Acquire(ctx context.Context, req AcquireRequest) (*missionModel.ResourceLease, error) {
	var (
		resourceID string
		expiresAt  *time.Time
		err        error
	)

	switch req.Kind {
	case missionModel.LeaseAgentSlot:
		resourceID, err = a.acquireSlot(req.CrewID)
	case missionModel.LeaseAPIQuota:
		resourceID, err = a.acquireQuota(req.Provider)
		expiresAt = a.leaseExpiry()
	case missionModel.LeaseDomain:
		resourceID, err = a.acquireDomain(ctx, req)
		expiresAt = a.leaseExpiry()
	default:
		return nil, errors.New("allocator: unknown lease kind")
	}
	if err != nil {
		// 池耗尽属于预期事件，广播给外部观察者后原样返回 Denied
		a.bus.Publish(ctx, eventbus.Event{
			Topic: eventbus.TopicPoolExhausted,
			Payload: map[string]interface{}{
				"kind":       string(req.Kind),
				"mission_id": req.MissionID,
				"reason":     err.Error(),
			},
		})
		return nil, err
	}

	lease := &missionModel.ResourceLease{
		LeaseID:    utils.GenerateUUID(),
		Kind:       req.Kind,
		ResourceID: resourceID,
		MissionID:  req.MissionID,
		Status:     missionModel.LeaseActive,
		AcquiredAt: time.Now(),
		ExpiresAt:  expiresAt,
	}

	a.mu.Lock()
	a.active[lease.LeaseID] = &activeLease{lease: lease, req: req}
	a.mu.Unlock()

	// 审计落库失败不回滚发放，只记日志
	if err := a.leaseRepo.CreateLease(ctx, lease); err != nil {
		logger.LogError(err, "allocator.Acquire", map[string]interface{}{
			"lease_id": lease.LeaseID,
		})
	}

	a.bus.Publish(ctx, eventbus.Event{
		Topic: eventbus.TopicLeaseGranted,
		Payload: map[string]interface{}{
			"lease_id":    lease.LeaseID,
			"kind":        string(lease.Kind),
			"resource_id": lease.ResourceID,
			"mission_id":  lease.MissionID,
		},
	})
	return lease, nil
}

// Release 释放租约(幂等)
func (a *resourceAllocator) Release(ctx context.Context, leaseID string) {
	a.releaseInternal(ctx, leaseID, missionModel.LeaseReleased)
}

// ReleaseAllForMission 释放任务持有的全部在活租约
func (a *resourceAllocator) ReleaseAllForMission(ctx context.Context, missionID string) {
	a.mu.Lock()
	ids := make([]string, 0, 2)
	for id, al := range a.active {
		if al.lease.MissionID == missionID {
			ids = append(ids, id)
		}
	}
	a.mu.Unlock()

	for _, id := range ids {
		a.releaseInternal(ctx, id, missionModel.LeaseReleased)
	}
}

// releaseInternal 从内存账本移除租约并归还底层资源
// 未知的 leaseID 直接返回，保证重复释放后池状态与单次释放完全一致
func (a *resourceAllocator) releaseInternal(ctx context.Context, leaseID string, status missionModel.LeaseStatus) {
	a.mu.Lock()
	al, ok := a.active[leaseID]
	if !ok {
		a.mu.Unlock()
		return
	}
	delete(a.active, leaseID)

	if al.lease.Kind == missionModel.LeaseAgentSlot {
		if pool, exists := a.slots[al.req.CrewID]; exists {
			pool.release()
		}
	}
	// domain 租约没有计数型资源需要归还；api_quota 的令牌在发放时即被消耗
	a.mu.Unlock()

	if err := a.leaseRepo.MarkReleased(ctx, leaseID, status); err != nil {
		logger.LogError(err, "allocator.releaseInternal", map[string]interface{}{
			"lease_id": leaseID,
		})
	}

	a.bus.Publish(ctx, eventbus.Event{
		Topic: eventbus.TopicLeaseReleased,
		Payload: map[string]interface{}{
			"lease_id":    leaseID,
			"kind":        string(al.lease.Kind),
			"resource_id": al.lease.ResourceID,
			"mission_id":  al.lease.MissionID,
			"status":      string(status),
		},
	})
}

// expireStale 回收已过期的域名/配额租约(由 refiller 的巡检计划触发)
// 卡死的执行端不能无限期占用稀缺资源
func (a *resourceAllocator) expireStale() {
	now := time.Now()

	a.mu.Lock()
	expired := make([]string, 0)
	for id, al := range a.active {
		if al.lease.ExpiresAt != nil && al.lease.ExpiresAt.Before(now) {
			expired = append(expired, id)
		}
	}
	a.mu.Unlock()

	ctx := context.Background()
	for _, id := range expired {
		a.releaseInternal(ctx, id, missionModel.LeaseExpired)
	}
}

// leaseExpiry 计算域名/配额租约的过期时间
func (a *resourceAllocator) leaseExpiry() *time.Time {
	ttl := a.cfg.Domains.LeaseTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	t := time.Now().Add(ttl)
	return &t
}

// Snapshot 只读池利用率快照
func (a *resourceAllocator) Snapshot(ctx context.Context) (*missionModel.PoolSnapshot, error) {
	facts, err := a.SelectionFacts(ctx, "")
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	snap := &missionModel.PoolSnapshot{
		Crews:   make(map[string]missionModel.CrewSlotSnapshot, len(a.slots)),
		Quotas:  make(map[string]missionModel.QuotaSnapshot, len(a.quotas)),
		TakenAt: time.Now(),
	}
	for crewID, pool := range a.slots {
		snap.Crews[crewID] = missionModel.CrewSlotSnapshot{
			MaxSlots:  pool.max,
			UsedSlots: pool.used,
		}
	}
	for provider, pool := range a.quotas {
		snap.Quotas[provider] = missionModel.QuotaSnapshot{
			Capacity: pool.capacity,
			Tokens:   pool.tokens,
		}
	}

	domainLeases := 0
	for _, al := range a.active {
		if al.lease.Kind == missionModel.LeaseDomain {
			domainLeases++
		}
	}
	snap.Domains = missionModel.DomainPoolSnapshot{
		CustomEligible:    facts.CustomEligible,
		PrewarmedEligible: facts.PrewarmedEligible,
		ActiveLeases:      domainLeases,
	}
	return snap, nil
}
