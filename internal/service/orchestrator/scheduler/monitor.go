package scheduler

import (
	"context"
	"time"

	missionModel "reachmaster/internal/model/mission"
	"reachmaster/internal/pkg/logger"
)

// sweepStale 进度监控
// last_progress_at 超过 progress_timeout 未刷新的 running 任务判为超时:
// 中断本地执行，按可恢复失败走 RETRY_DECISION(有重试预算则退避重试，否则终态失败)
func (s *scheduler) sweepStale() {
	ctx := context.Background()
	cutoff := time.Now().Add(-s.cfg.ProgressTimeout)

	stale, err := s.missionRepo.GetStaleRunning(ctx, cutoff)
	if err != nil {
		logger.LogError(err, "scheduler.sweepStale", nil)
		return
	}

	for _, m := range stale {
		select {
		case <-s.stopChan:
			return
		default:
		}
		s.timeoutMission(ctx, m)
	}
}

// timeoutMission 处理单个超时任务
func (s *scheduler) timeoutMission(ctx context.Context, m *missionModel.Mission) {
	unlock := s.locks.lock(m.MissionID)
	defer unlock()

	// 中断执行 goroutine；其收尾逻辑看到 ctx 已取消后直接退出
	s.mu.Lock()
	if cancel, ok := s.running[m.MissionID]; ok {
		cancel()
	}
	s.mu.Unlock()

	resolution := s.engine.Resolve(ctx, missionModel.RetryContext{
		MissionID:    m.MissionID,
		MissionType:  m.Type,
		Status:       missionModel.StatusRunning,
		RetryCount:   m.RetryCount,
		MaxRetries:   m.MaxRetries,
		FailureClass: missionModel.FailureRecoverable,
		ErrorMsg:     "progress timeout",
	})

	logger.WithFields(map[string]interface{}{
		"mission_id":  m.MissionID,
		"crew_id":     m.CrewID,
		"decision":    resolution.Value,
		"retry_count": m.RetryCount,
		"func_name":   "scheduler.timeoutMission",
	}).Warn("running mission exceeded progress timeout")

	if resolution.Value == missionModel.DecideRetry {
		nextAttempt := time.Now().Add(s.backoff(m.RetryCount))
		ok, err := s.missionRepo.TransitionStatus(ctx, m.MissionID, missionModel.StatusRunning, missionModel.StatusRetryPending, map[string]interface{}{
			"retry_count":     m.RetryCount + 1,
			"next_attempt_at": &nextAttempt,
			"error_msg":       "progress timeout",
		})
		if err != nil || !ok {
			if err != nil {
				logger.LogError(err, "scheduler.timeoutMission", map[string]interface{}{"mission_id": m.MissionID})
			}
			return
		}
		s.alloc.ReleaseAllForMission(ctx, m.MissionID)
		s.publishStateChange(ctx, m, missionModel.StatusRunning, missionModel.StatusRetryPending)
		return
	}

	s.failTerminal(ctx, m, missionModel.StatusRunning, "progress timeout, retry budget exhausted")
}
