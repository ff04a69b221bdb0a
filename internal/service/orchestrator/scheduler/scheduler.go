// Mission Scheduler 任务调度器
// 三个并发循环驱动任务生命周期:
//   - 调度循环: 按优先级取 queued 任务，经准入与资源申请后派发执行
//   - 进度监控循环: 将进度停滞超时的 running 任务判为超时失败
//   - 错误恢复循环: 将退避时间已到的 retry_pending 任务重新入队
//
// 状态迁移全部走带前置状态的 CAS 更新；单个任务的"租约+迁移"由任务锁串行化
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"reachmaster/internal/config"
	missionModel "reachmaster/internal/model/mission"
	"reachmaster/internal/pkg/logger"
	missionRepo "reachmaster/internal/repo/mysql/mission"
	"reachmaster/internal/service/orchestrator/allocator"
	"reachmaster/internal/service/orchestrator/crew"
	"reachmaster/internal/service/orchestrator/decision"
	"reachmaster/internal/service/orchestrator/eventbus"
)

var (
	// ErrMissionNotFound 任务不存在
	ErrMissionNotFound = errors.New("mission not found")
	// ErrMissionTerminal 任务已是终态，不可取消
	ErrMissionTerminal = errors.New("mission already in terminal state")
)

// Scheduler 任务调度器接口
type Scheduler interface {
	// Start 启动三个调度循环
	Start() error
	// Stop 停止循环并等待在途派发收尾
	Stop()
	// Cancel 取消任务: 立即停止执行意图并释放全部租约，不回滚已发出的消息
	Cancel(ctx context.Context, missionID string) error
}

type scheduler struct {
	cfg         config.SchedulerConfig
	crews       config.CrewsConfig
	missionRepo missionRepo.MissionRepository
	alloc       allocator.ResourceAllocator
	engine      decision.Engine
	runtime     crew.Runtime
	bus         eventbus.Bus

	locks missionLocks

	// 在途执行的取消函数，Cancel 用它中断本地运行时
	mu      sync.Mutex
	running map[string]context.CancelFunc

	wake     chan struct{} // 租约释放后的提前唤醒信号
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	unsub    func()
}

// NewScheduler 创建任务调度器
func NewScheduler(
	cfg config.SchedulerConfig,
	crews config.CrewsConfig,
	repo missionRepo.MissionRepository,
	alloc allocator.ResourceAllocator,
	engine decision.Engine,
	runtime crew.Runtime,
	bus eventbus.Bus,
) Scheduler {
	return &scheduler{
		cfg:         cfg,
		crews:       crews,
		missionRepo: repo,
		alloc:       alloc,
		engine:      engine,
		runtime:     runtime,
		bus:         bus,
		running:     make(map[string]context.CancelFunc),
		wake:        make(chan struct{}, 1),
		stopChan:    make(chan struct{}),
	}
}

// Start 启动三个调度循环与总线唤醒订阅
func (s *scheduler) Start() error {
	events, unsub := s.bus.Subscribe()
	s.unsub = unsub

	s.wg.Add(4)
	go s.dispatchLoop()
	go s.monitorLoop()
	go s.recoveryLoop()
	go s.wakeOnEvents(events)

	logger.LogSystemEvent("scheduler", "start", "mission scheduler started", map[string]interface{}{
		"tick":             s.cfg.Tick.String(),
		"batch_size":       s.cfg.BatchSize,
		"progress_timeout": s.cfg.ProgressTimeout.String(),
	})
	return nil
}

// Stop 停止调度循环
func (s *scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		if s.unsub != nil {
			s.unsub()
		}
	})
	s.wg.Wait()
	logger.LogSystemEvent("scheduler", "stop", "mission scheduler stopped", nil)
}

// wakeOnEvents 新任务入队或租约释放都意味着可能有任务能派发了，提前唤醒调度循环
func (s *scheduler) wakeOnEvents(events <-chan eventbus.Event) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopChan:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Topic == eventbus.TopicLeaseReleased || ev.Topic == eventbus.TopicMissionCreated {
				s.nudge()
			}
		}
	}
}

// nudge 非阻塞唤醒
func (s *scheduler) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// dispatchLoop 调度循环
func (s *scheduler) dispatchLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
		case <-s.wake:
		}
		s.dispatchBatch()
	}
}

// monitorLoop 进度监控循环
func (s *scheduler) monitorLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.MonitorTick)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.sweepStale()
		}
	}
}

// recoveryLoop 错误恢复循环
func (s *scheduler) recoveryLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.requeueDue()
		}
	}
}

// backoff 指数退避: base * 2^retryCount，封顶 cap
func (s *scheduler) backoff(retryCount int) time.Duration {
	d := s.cfg.BackoffBase
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= s.cfg.BackoffCap {
			return s.cfg.BackoffCap
		}
	}
	if d > s.cfg.BackoffCap {
		return s.cfg.BackoffCap
	}
	return d
}

// resolveCrew 确定任务的执行 Crew
// 提交时指定优先；否则按任务类型查默认 Crew 配置
func (s *scheduler) resolveCrew(m *missionModel.Mission) string {
	if m.CrewID != "" {
		return m.CrewID
	}
	return s.crews.DefaultCrews[string(m.Type)]
}

// publishStateChange 广播状态迁移事件
func (s *scheduler) publishStateChange(ctx context.Context, m *missionModel.Mission, from, to missionModel.MissionStatus) {
	s.bus.Publish(ctx, eventbus.Event{
		Topic: eventbus.TopicMissionStateChanged,
		Payload: map[string]interface{}{
			"mission_id": m.MissionID,
			"type":       string(m.Type),
			"from":       string(from),
			"to":         string(to),
		},
	})
}

// Cancel 取消任务
// queued/retry_pending 直接取消；assigned/running 先中断本地执行再取消；
// 取消后立即释放全部租约，已发出的触达消息不回滚；终态任务返回 ErrMissionTerminal
func (s *scheduler) Cancel(ctx context.Context, missionID string) error {
	unlock := s.locks.lock(missionID)
	defer unlock()

	m, err := s.missionRepo.GetMissionByID(ctx, missionID)
	if err != nil {
		return fmt.Errorf("load mission: %w", err)
	}
	if m == nil {
		return ErrMissionNotFound
	}
	if m.Status.IsTerminal() {
		return ErrMissionTerminal
	}

	// 中断在途执行(若有)
	s.mu.Lock()
	if cancel, ok := s.running[missionID]; ok {
		cancel()
	}
	s.mu.Unlock()

	now := time.Now()
	ok, err := s.missionRepo.TransitionStatus(ctx, missionID, m.Status, missionModel.StatusCancelled, map[string]interface{}{
		"finished_at": &now,
	})
	if err != nil {
		return fmt.Errorf("transition to cancelled: %w", err)
	}
	if !ok {
		// 状态在加锁前已变化，按最新状态重判
		return fmt.Errorf("mission %s state changed during cancel", missionID)
	}

	s.alloc.ReleaseAllForMission(ctx, missionID)
	s.publishStateChange(ctx, m, m.Status, missionModel.StatusCancelled)
	s.locks.forget(missionID)

	logger.LogSystemEvent("scheduler", "cancel", "mission cancelled", map[string]interface{}{
		"mission_id": missionID,
		"from":       string(m.Status),
	})
	return nil
}
