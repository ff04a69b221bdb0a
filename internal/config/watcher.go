/*
ConfigWatcher 配置文件监听器
监听配置文件的变化，当配置文件发生变化时，调用注册的回调函数。
调度器的可调参数(轮询间隔、超时、退避)通过回调热更新，无需重启服务。
*/
package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadCallback 配置重载回调函数类型
type ReloadCallback func(oldConfig, newConfig *Config) error

// ConfigWatcher 配置文件监听器
type ConfigWatcher struct {
	watcher    *fsnotify.Watcher
	configPath string // 配置文件目录
	env        string // 环境标识
	callbacks  []ReloadCallback
	current    *Config
	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewConfigWatcher 创建配置文件监听器
func NewConfigWatcher(configPath, env string, current *Config) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ConfigWatcher{
		watcher:    watcher,
		configPath: configPath,
		env:        env,
		callbacks:  make([]ReloadCallback, 0),
		current:    current,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// OnReload 注册配置重载回调
func (cw *ConfigWatcher) OnReload(cb ReloadCallback) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.callbacks = append(cw.callbacks, cb)
}

// Start 启动配置文件监听
func (cw *ConfigWatcher) Start() error {
	if cw.configPath == "" {
		cw.configPath = getDefaultConfigPath()
	}

	// fsnotify 监听目录而不是单个文件：编辑器的原子写会替换 inode
	if err := cw.watcher.Add(cw.configPath); err != nil {
		return fmt.Errorf("failed to add config path to watcher: %w", err)
	}

	go cw.loop()
	return nil
}

// Stop 停止监听
func (cw *ConfigWatcher) Stop() {
	cw.cancel()
	_ = cw.watcher.Close()
}

// loop 事件循环
// 写事件做 500ms 去抖，避免编辑器多次写入触发重复 reload
func (cw *ConfigWatcher) loop() {
	var debounce *time.Timer
	for {
		select {
		case <-cw.ctx.Done():
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".yaml" {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(500*time.Millisecond, cw.reload)
		case _, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// reload 重新加载配置并回调
func (cw *ConfigWatcher) reload() {
	newConfig, err := LoadConfig(cw.configPath, cw.env)
	if err != nil {
		// 配置非法时保留旧配置继续运行
		return
	}

	cw.mu.Lock()
	oldConfig := cw.current
	cw.current = newConfig
	callbacks := make([]ReloadCallback, len(cw.callbacks))
	copy(callbacks, cw.callbacks)
	cw.mu.Unlock()

	for _, cb := range callbacks {
		_ = cb(oldConfig, newConfig)
	}
}

// Current 返回当前生效的配置
func (cw *ConfigWatcher) Current() *Config {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.current
}
