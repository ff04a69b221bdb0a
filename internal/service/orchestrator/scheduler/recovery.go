package scheduler

import (
	"context"
	"time"

	missionModel "reachmaster/internal/model/mission"
	"reachmaster/internal/pkg/logger"
)

// requeueDue 错误恢复
// 退避时间已到的 retry_pending 任务重新入队，由调度循环按正常优先级竞争资源
func (s *scheduler) requeueDue() {
	ctx := context.Background()

	due, err := s.missionRepo.GetRetryDue(ctx, time.Now(), s.cfg.BatchSize)
	if err != nil {
		logger.LogError(err, "scheduler.requeueDue", nil)
		return
	}

	requeued := 0
	for _, m := range due {
		select {
		case <-s.stopChan:
			return
		default:
		}

		unlock := s.locks.lock(m.MissionID)
		ok, err := s.missionRepo.TransitionStatus(ctx, m.MissionID, missionModel.StatusRetryPending, missionModel.StatusQueued, nil)
		if err != nil {
			logger.LogError(err, "scheduler.requeueDue", map[string]interface{}{"mission_id": m.MissionID})
		}
		if ok {
			s.publishStateChange(ctx, m, missionModel.StatusRetryPending, missionModel.StatusQueued)
			requeued++
		}
		unlock()
	}

	if requeued > 0 {
		logger.WithFields(map[string]interface{}{
			"requeued":  requeued,
			"func_name": "scheduler.requeueDue",
		}).Info("retry-pending missions requeued")
		s.nudge()
	}
}
