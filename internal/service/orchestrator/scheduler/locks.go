package scheduler

import (
	"sync"
)

// missionLocks 按任务ID的互斥锁注册表
// 三个调度循环与外部取消请求可能同时触碰同一个任务，
// 状态迁移前先取任务锁，保证"租约操作+状态CAS"对单个任务是串行的
type missionLocks struct {
	locks sync.Map // missionID -> *sync.Mutex
}

// lock 取得指定任务的锁并加锁，返回解锁函数
func (l *missionLocks) lock(missionID string) func() {
	mu, _ := l.locks.LoadOrStore(missionID, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// forget 任务进入终态后移除锁条目，防止注册表无界增长
func (l *missionLocks) forget(missionID string) {
	l.locks.Delete(missionID)
}
