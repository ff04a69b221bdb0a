package allocator

// slotPool 单个 Crew 的有界并发槽位(计数信号量)
// 只在 resourceAllocator.mu 保护下访问
type slotPool struct {
	max  int
	used int
}

// tryAcquire 非阻塞占用一个槽位
func (p *slotPool) tryAcquire() bool {
	if p.used >= p.max {
		return false
	}
	p.used++
	return true
}

// release 归还一个槽位
func (p *slotPool) release() {
	if p.used > 0 {
		p.used--
	}
}

// acquireSlot 申请指定 Crew 的并发槽位
// 池满时立即 Denied(非阻塞)；失败路径不产生任何预留，重复申请是安全的
func (a *resourceAllocator) acquireSlot(crewID string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pool, ok := a.slots[crewID]
	if !ok {
		max := a.cfg.Crews.DefaultMaxSlots
		if override, exists := a.cfg.Crews.MaxSlots[crewID]; exists {
			max = override
		}
		pool = &slotPool{max: max}
		a.slots[crewID] = pool
	}

	if !pool.tryAcquire() {
		return "", ErrSlotsExhausted
	}
	return crewID, nil
}
