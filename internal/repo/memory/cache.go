/**
 * 缓存仓库层:进程内TTL缓存
 * @description: 决策引擎 LLM 响应缓存(内存存储,适合单实例部署)
 * @note: 单纯数据访问,不包含业务逻辑;键由调用方负责哈希
 */
package memory

import (
	"sync"
	"time"
)

// TTLCache 进程内带过期时间的KV缓存
type TTLCache struct {
	entries map[string]*cacheEntry
	mutex   sync.RWMutex
	stop    chan struct{}
}

// cacheEntry 缓存条目
type cacheEntry struct {
	value      string
	expiration time.Time
}

// NewTTLCache 创建TTL缓存实例
func NewTTLCache() *TTLCache {
	c := &TTLCache{
		entries: make(map[string]*cacheEntry),
		stop:    make(chan struct{}),
	}

	// 启动过期清理goroutine
	go c.cleanupExpired()

	return c
}

// Get 读取缓存，过期视为未命中
func (c *TTLCache) Get(key string) (string, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if time.Now().After(entry.expiration) {
		return "", false
	}
	return entry.value, true
}

// Set 写入缓存
func (c *TTLCache) Set(key, value string, ttl time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries[key] = &cacheEntry{
		value:      value,
		expiration: time.Now().Add(ttl),
	}
}

// Len 当前条目数(含未清理的过期条目)
func (c *TTLCache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.entries)
}

// Close 停止后台清理
func (c *TTLCache) Close() {
	close(c.stop)
}

// cleanupExpired 周期清理过期条目
func (c *TTLCache) cleanupExpired() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			now := time.Now()
			c.mutex.Lock()
			for key, entry := range c.entries {
				if now.After(entry.expiration) {
					delete(c.entries, key)
				}
			}
			c.mutex.Unlock()
		}
	}
}
