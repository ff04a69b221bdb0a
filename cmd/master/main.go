/**
 * master程序入口
 * @description: 加载配置、初始化日志、启动编排核心并处理优雅停机
 */
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"reachmaster/internal/app/master"
	"reachmaster/internal/config"
	"reachmaster/internal/pkg/logger"
)

func main() {
	var (
		configPath = flag.String("config", "configs", "配置文件目录")
		env        = flag.String("env", "", "运行环境(dev/prod，空则读 NEOREACH_ENV)")
	)
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath, *env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if _, err := logger.InitLogger(&cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}

	app, err := master.NewApp(cfg)
	if err != nil {
		logger.LogError(err, "main", nil)
		os.Exit(1)
	}

	// 配置热加载(仅对可热更字段生效，连接类配置变更需要重启)
	watcher, err := config.NewConfigWatcher(*configPath, *env, cfg)
	if err != nil {
		logger.LogError(err, "main", nil)
	} else {
		watcher.OnReload(func(oldCfg, newCfg *config.Config) error {
			logger.LogSystemEvent("main", "configReload", "configuration reloaded", map[string]interface{}{
				"log_level": newCfg.Log.Level,
			})
			return nil
		})
		if err := watcher.Start(); err != nil {
			logger.LogError(err, "main", nil)
		}
		defer watcher.Stop()
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- app.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		if err != nil {
			logger.LogError(err, "main", nil)
		}
	case sig := <-quit:
		logger.LogSystemEvent("main", "shutdown", "shutdown signal received", map[string]interface{}{
			"signal": sig.String(),
		})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Stop(shutdownCtx); err != nil {
		logger.LogError(err, "main", nil)
		os.Exit(1)
	}
}
