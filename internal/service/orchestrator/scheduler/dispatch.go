package scheduler

import (
	"context"
	"errors"
	"time"

	missionModel "reachmaster/internal/model/mission"
	"reachmaster/internal/pkg/logger"
	"reachmaster/internal/service/orchestrator/allocator"
	"reachmaster/internal/service/orchestrator/crew"
	"reachmaster/internal/service/orchestrator/eventbus"
)

// dispatchBatch 处理一轮可调度任务
// 单个任务的失败不影响同批其他任务；资源不足的任务留在 queued 等下一轮
func (s *scheduler) dispatchBatch() {
	ctx := context.Background()

	missions, err := s.missionRepo.GetDispatchable(ctx, time.Now(), s.cfg.BatchSize)
	if err != nil {
		logger.LogError(err, "scheduler.dispatchBatch", nil)
		return
	}

	for _, m := range missions {
		select {
		case <-s.stopChan:
			return
		default:
		}
		s.dispatchOne(ctx, m)
	}
}

// dispatchOne 尝试派发单个任务
// 准入检查 → 槽位租约 → 域名裁决与租约 → 配额租约 → CAS 抢占 → 执行 goroutine
// 任何一步失败都回收已取得的租约，任务留在 queued(或按裁决转终态)
func (s *scheduler) dispatchOne(ctx context.Context, m *missionModel.Mission) {
	unlock := s.locks.lock(m.MissionID)
	defer unlock()

	crewID := s.resolveCrew(m)

	// 准入检查(ELIGIBILITY_CHECK)
	eligibility := s.engine.Resolve(ctx, s.buildEligibilityContext(ctx, m, crewID))
	switch eligibility.Value {
	case missionModel.DecideHold:
		return
	case missionModel.DecideReject:
		s.failTerminal(ctx, m, missionModel.StatusQueued, "rejected by eligibility check")
		return
	}

	// Crew 槽位
	slotLease, err := s.alloc.Acquire(ctx, allocator.AcquireRequest{
		Kind:      missionModel.LeaseAgentSlot,
		MissionID: m.MissionID,
		CrewID:    crewID,
	})
	if err != nil {
		if !errors.Is(err, allocator.ErrSlotsExhausted) {
			logger.LogError(err, "scheduler.dispatchOne", map[string]interface{}{"mission_id": m.MissionID})
		}
		return
	}

	// 发信域名(DOMAIN_SELECTION 裁决用哪个池，Allocator 在池内轮询选取)
	if m.Type.NeedsDomain() {
		if ok := s.acquireDomain(ctx, m); !ok {
			s.alloc.Release(ctx, slotLease.LeaseID)
			return
		}
	}

	// 服务商配额放在最后申请: 令牌发放即消耗不返还，
	// 可返还的槽位/域名租约都到手后才消耗令牌，域名反复选不中时不烧配额
	if provider := m.Type.QuotaProvider(); provider != "" {
		if _, err := s.alloc.Acquire(ctx, allocator.AcquireRequest{
			Kind:      missionModel.LeaseAPIQuota,
			MissionID: m.MissionID,
			Provider:  provider,
		}); err != nil {
			s.alloc.ReleaseAllForMission(ctx, m.MissionID)
			return
		}
	}

	// 原子抢占: 租约在手才迁移状态；CAS 失败说明任务已被取消，租约立即归还
	ok, err := s.missionRepo.TransitionStatus(ctx, m.MissionID, missionModel.StatusQueued, missionModel.StatusAssigned, map[string]interface{}{
		"crew_id": crewID,
	})
	if err != nil || !ok {
		if err != nil {
			logger.LogError(err, "scheduler.dispatchOne", map[string]interface{}{"mission_id": m.MissionID})
		}
		s.alloc.ReleaseAllForMission(ctx, m.MissionID)
		return
	}
	m.CrewID = crewID
	s.publishStateChange(ctx, m, missionModel.StatusQueued, missionModel.StatusAssigned)

	s.wg.Add(1)
	go s.runMission(m)
}

// buildEligibilityContext 汇集准入判定所需事实
func (s *scheduler) buildEligibilityContext(ctx context.Context, m *missionModel.Mission, crewID string) missionModel.EligibilityContext {
	ec := missionModel.EligibilityContext{
		MissionID:   m.MissionID,
		MissionType: m.Type,
		Status:      m.Status,
		CrewKnown:   crewID != "",
		QuotaTokens: -1,
	}
	if !ec.CrewKnown {
		return ec
	}

	snapshot, err := s.alloc.Snapshot(ctx)
	if err != nil {
		logger.LogError(err, "scheduler.buildEligibilityContext", map[string]interface{}{"mission_id": m.MissionID})
		// 快照不可得时按保守事实走规则层(hold)
		return ec
	}

	if slots, ok := snapshot.Crews[crewID]; ok {
		ec.CrewSlotsFree = slots.MaxSlots - slots.UsedSlots
	} else {
		// 该 Crew 尚无在活租约，槽位池未实例化，按配置容量计
		ec.CrewSlotsFree = s.crewCapacity(crewID)
	}

	if provider := m.Type.QuotaProvider(); provider != "" {
		if quota, ok := snapshot.Quotas[provider]; ok {
			ec.QuotaTokens = quota.Tokens
		} else {
			ec.QuotaTokens = 0
		}
	}
	return ec
}

// crewCapacity 读取 Crew 的配置槽位容量
func (s *scheduler) crewCapacity(crewID string) int {
	if max, ok := s.crews.MaxSlots[crewID]; ok {
		return max
	}
	return s.crews.DefaultMaxSlots
}

// acquireDomain 裁决域名池层级并取得域名租约
func (s *scheduler) acquireDomain(ctx context.Context, m *missionModel.Mission) bool {
	facts, err := s.alloc.SelectionFacts(ctx, m.CampaignID)
	if err != nil {
		logger.LogError(err, "scheduler.acquireDomain", map[string]interface{}{"mission_id": m.MissionID})
		return false
	}

	resolution := s.engine.Resolve(ctx, missionModel.DomainSelectionContext{
		MissionID:          m.MissionID,
		MissionType:        m.Type,
		DedicatedDomain:    facts.DedicatedDomain,
		CustomEligible:     facts.CustomEligible,
		PrewarmedEligible:  facts.PrewarmedEligible,
		WarmupOnlyEligible: m.Type == missionModel.TypeDomainWarmup,
	})

	req := allocator.AcquireRequest{
		Kind:         missionModel.LeaseDomain,
		MissionID:    m.MissionID,
		CampaignID:   m.CampaignID,
		AllowWarming: m.Type == missionModel.TypeDomainWarmup,
	}
	switch resolution.Value {
	case missionModel.DecideDeny:
		return false
	case missionModel.DecideDedicated:
		// Tier 留空，Allocator 优先匹配 Campaign 专属域名
	case missionModel.DecideCustom:
		req.Tier = missionModel.TierCustom
	case missionModel.DecidePrewarmed:
		req.Tier = missionModel.TierPrewarmed
	default:
		return false
	}

	if _, err := s.alloc.Acquire(ctx, req); err != nil {
		return false
	}
	return true
}

// runMission 在独立 goroutine 中驱动任务执行
func (s *scheduler) runMission(m *missionModel.Mission) {
	defer s.wg.Done()
	ctx := context.Background()

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.running[m.MissionID] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.running, m.MissionID)
		s.mu.Unlock()
	}()

	now := time.Now()
	ok, err := s.missionRepo.TransitionStatus(ctx, m.MissionID, missionModel.StatusAssigned, missionModel.StatusRunning, map[string]interface{}{
		"started_at":       &now,
		"last_progress_at": &now,
	})
	if err != nil || !ok {
		// 已在 assigned 阶段被取消；租约由取消方回收
		if err != nil {
			logger.LogError(err, "scheduler.runMission", map[string]interface{}{"mission_id": m.MissionID})
		}
		return
	}
	s.publishStateChange(ctx, m, missionModel.StatusAssigned, missionModel.StatusRunning)

	report := func(note string) {
		if err := s.missionRepo.UpdateProgress(ctx, m.MissionID, time.Now()); err != nil {
			logger.LogError(err, "scheduler.runMission.progress", map[string]interface{}{
				"mission_id": m.MissionID,
				"note":       note,
			})
		}
	}

	result, execErr := s.runtime.Execute(execCtx, m, report)

	if execCtx.Err() != nil {
		// 取消方已完成状态迁移与租约回收
		return
	}
	if execErr != nil {
		s.handleFailure(ctx, m, execErr)
		return
	}
	s.handleSuccess(ctx, m, result)
}

// handleSuccess 执行成功收尾
func (s *scheduler) handleSuccess(ctx context.Context, m *missionModel.Mission, result *crew.ExecutionReport) {
	unlock := s.locks.lock(m.MissionID)
	defer unlock()

	now := time.Now()
	updates := map[string]interface{}{
		"finished_at": &now,
	}
	if result != nil {
		updates["result"] = result.Result
	}
	ok, err := s.missionRepo.TransitionStatus(ctx, m.MissionID, missionModel.StatusRunning, missionModel.StatusCompleted, updates)
	if err != nil || !ok {
		if err != nil {
			logger.LogError(err, "scheduler.handleSuccess", map[string]interface{}{"mission_id": m.MissionID})
		}
		return
	}

	s.alloc.ReleaseAllForMission(ctx, m.MissionID)
	s.publishStateChange(ctx, m, missionModel.StatusRunning, missionModel.StatusCompleted)
	s.bus.Publish(ctx, eventbus.Event{
		Topic: eventbus.TopicMissionCompleted,
		Payload: map[string]interface{}{
			"mission_id": m.MissionID,
			"type":       string(m.Type),
			"crew_id":    m.CrewID,
		},
	})
	s.locks.forget(m.MissionID)
	s.nudge()
}

// handleFailure 执行失败收尾
// RETRY_DECISION 裁决重试与否: retry 进入退避等待，其余转终态失败；
// 无论走向哪个分支，租约都立即释放
func (s *scheduler) handleFailure(ctx context.Context, m *missionModel.Mission, execErr error) {
	unlock := s.locks.lock(m.MissionID)
	defer unlock()

	resolution := s.engine.Resolve(ctx, missionModel.RetryContext{
		MissionID:    m.MissionID,
		MissionType:  m.Type,
		Status:       missionModel.StatusRunning,
		RetryCount:   m.RetryCount,
		MaxRetries:   m.MaxRetries,
		FailureClass: crew.ClassifyFailure(execErr),
		ErrorMsg:     execErr.Error(),
	})

	if resolution.Value == missionModel.DecideRetry {
		nextAttempt := time.Now().Add(s.backoff(m.RetryCount))
		ok, err := s.missionRepo.TransitionStatus(ctx, m.MissionID, missionModel.StatusRunning, missionModel.StatusRetryPending, map[string]interface{}{
			"retry_count":     m.RetryCount + 1,
			"next_attempt_at": &nextAttempt,
			"error_msg":       execErr.Error(),
		})
		if err != nil || !ok {
			if err != nil {
				logger.LogError(err, "scheduler.handleFailure", map[string]interface{}{"mission_id": m.MissionID})
			}
			return
		}
		s.alloc.ReleaseAllForMission(ctx, m.MissionID)
		s.publishStateChange(ctx, m, missionModel.StatusRunning, missionModel.StatusRetryPending)
		logger.WithFields(map[string]interface{}{
			"mission_id":      m.MissionID,
			"retry_count":     m.RetryCount + 1,
			"next_attempt_at": nextAttempt.Format(time.RFC3339),
			"func_name":       "scheduler.handleFailure",
		}).Warn("mission failed, retry scheduled")
		return
	}

	// fail_terminal 或 escalate: 都转终态失败；escalate 在事件里标注转人工
	errMsg := execErr.Error()
	if resolution.Value == missionModel.DecideEscalate {
		errMsg = "escalated to operator: " + errMsg
	}
	s.failTerminal(ctx, m, missionModel.StatusRunning, errMsg)
}

// failTerminal 将任务迁移到终态失败并回收资源
func (s *scheduler) failTerminal(ctx context.Context, m *missionModel.Mission, from missionModel.MissionStatus, errMsg string) {
	now := time.Now()
	ok, err := s.missionRepo.TransitionStatus(ctx, m.MissionID, from, missionModel.StatusFailed, map[string]interface{}{
		"finished_at": &now,
		"error_msg":   errMsg,
	})
	if err != nil || !ok {
		if err != nil {
			logger.LogError(err, "scheduler.failTerminal", map[string]interface{}{"mission_id": m.MissionID})
		}
		return
	}

	s.alloc.ReleaseAllForMission(ctx, m.MissionID)
	s.publishStateChange(ctx, m, from, missionModel.StatusFailed)
	s.bus.Publish(ctx, eventbus.Event{
		Topic: eventbus.TopicMissionFailed,
		Payload: map[string]interface{}{
			"mission_id": m.MissionID,
			"type":       string(m.Type),
			"error":      errMsg,
		},
	})
	s.locks.forget(m.MissionID)
	s.nudge()
}
