package allocator

import (
	"github.com/robfig/cron/v3"

	"reachmaster/internal/config"
	"reachmaster/internal/pkg/logger"
)

// tokenPool 单个服务商的令牌桶
// 只在 resourceAllocator.mu 保护下访问
type tokenPool struct {
	capacity int
	tokens   int
}

// newTokenPool 创建满桶的令牌桶
func newTokenPool(capacity int) *tokenPool {
	return &tokenPool{
		capacity: capacity,
		tokens:   capacity,
	}
}

// take 非阻塞消耗一个令牌
func (p *tokenPool) take() bool {
	if p.tokens <= 0 {
		return false
	}
	p.tokens--
	return true
}

// refill 按补充量加令牌，不超过容量
func (p *tokenPool) refill(amount int) {
	p.tokens += amount
	if p.tokens > p.capacity {
		p.tokens = p.capacity
	}
}

// acquireQuota 申请指定服务商的调用配额
// 空桶立即 Denied(非阻塞)，令牌在发放时即被消耗，释放不返还
func (a *resourceAllocator) acquireQuota(provider string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pool, ok := a.quotas[provider]
	if !ok {
		return "", ErrUnknownProvider
	}
	if !pool.take() {
		return "", ErrQuotaExhausted
	}
	return provider, nil
}

// refillQuota 补充指定服务商的令牌(cron 计划回调)
func (a *resourceAllocator) refillQuota(provider string, amount int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if pool, ok := a.quotas[provider]; ok {
		pool.refill(amount)
	}
}

// quotaRefiller 配额补充计划
// 每个服务商一条 cron 条目(如 "@every 1m")，另有一条固定的租约过期巡检
type quotaRefiller struct {
	alloc *resourceAllocator
	cfgs  map[string]config.QuotaConfig
	cron  *cron.Cron
}

// newQuotaRefiller 创建配额补充计划
func newQuotaRefiller(alloc *resourceAllocator, cfgs map[string]config.QuotaConfig) *quotaRefiller {
	return &quotaRefiller{
		alloc: alloc,
		cfgs:  cfgs,
		cron:  cron.New(),
	}
}

// start 注册补充计划与巡检并启动
func (r *quotaRefiller) start() error {
	for provider, qc := range r.cfgs {
		provider, qc := provider, qc
		spec := qc.RefillCron
		if spec == "" {
			spec = "@every 1m"
		}
		if _, err := r.cron.AddFunc(spec, func() {
			r.alloc.refillQuota(provider, qc.RefillAmount)
		}); err != nil {
			return err
		}
	}

	if _, err := r.cron.AddFunc("@every 1m", r.alloc.expireStale); err != nil {
		return err
	}

	r.cron.Start()
	logger.LogSystemEvent("allocator", "refiller_started", "Quota refill schedule started", map[string]interface{}{
		"providers": len(r.cfgs),
	})
	return nil
}

// stop 停止计划(等待在途回调结束)
func (r *quotaRefiller) stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}
