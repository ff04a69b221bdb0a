package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// GlobalConfig 全局配置实例
	GlobalConfig *Config
)

// LoadConfig 加载配置文件
// configPath: 配置文件目录，如果为空则使用默认路径
// env: 环境标识，支持 development, test, production
func LoadConfig(configPath, env string) (*Config, error) {
	if env == "" {
		env = getEnvFromEnvironment()
	}

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	// 根据环境选择配置文件 (config.yaml / config.development.yaml ...)
	configFile := getConfigFileName(configPath, env)
	v.SetConfigFile(configFile)

	// 环境变量覆盖: NEOREACH_SERVER_PORT 等
	v.SetEnvPrefix("NEOREACH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Orchestrator.Validate(); err != nil {
		return nil, fmt.Errorf("invalid orchestrator config: %w", err)
	}

	GlobalConfig = &config
	return &config, nil
}

// setDefaults 设置编排核心的默认值
// 配置文件缺省时按产品默认策略运行(门槛 0.7/0.8、3次重试、2小时进度超时)
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.max_header_bytes", 1<<20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")

	v.SetDefault("orchestrator.scheduler.tick", 5*time.Second)
	v.SetDefault("orchestrator.scheduler.batch_size", 32)
	v.SetDefault("orchestrator.scheduler.progress_timeout", 2*time.Hour)
	v.SetDefault("orchestrator.scheduler.monitor_tick", time.Minute)
	v.SetDefault("orchestrator.scheduler.max_retries", 3)
	v.SetDefault("orchestrator.scheduler.backoff_base", 30*time.Second)
	v.SetDefault("orchestrator.scheduler.backoff_cap", time.Hour)

	v.SetDefault("orchestrator.crews.default_max_slots", 3)

	v.SetDefault("orchestrator.domains.custom_floor", 0.7)
	v.SetDefault("orchestrator.domains.prewarmed_floor", 0.8)
	v.SetDefault("orchestrator.domains.retire_streak", 5)
	v.SetDefault("orchestrator.domains.reputation_alpha", 0.2)
	v.SetDefault("orchestrator.domains.lease_ttl", 30*time.Minute)

	v.SetDefault("orchestrator.quotas.llm.capacity", 60)
	v.SetDefault("orchestrator.quotas.llm.refill_amount", 60)
	v.SetDefault("orchestrator.quotas.llm.refill_cron", "@every 1m")
	v.SetDefault("orchestrator.quotas.email.capacity", 600)
	v.SetDefault("orchestrator.quotas.email.refill_amount", 600)
	v.SetDefault("orchestrator.quotas.email.refill_cron", "@every 1m")
	v.SetDefault("orchestrator.quotas.sms.capacity", 120)
	v.SetDefault("orchestrator.quotas.sms.refill_amount", 120)
	v.SetDefault("orchestrator.quotas.sms.refill_cron", "@every 1m")
	v.SetDefault("orchestrator.quotas.whatsapp.capacity", 120)
	v.SetDefault("orchestrator.quotas.whatsapp.refill_amount", 120)
	v.SetDefault("orchestrator.quotas.whatsapp.refill_cron", "@every 1m")

	v.SetDefault("orchestrator.decision.rule_budget", 50*time.Millisecond)
	v.SetDefault("orchestrator.decision.llm_timeout", 5*time.Second)
	v.SetDefault("orchestrator.decision.cache_ttl", 10*time.Minute)

	v.SetDefault("orchestrator.bus.channel_prefix", "neoreach:events")
	v.SetDefault("orchestrator.bus.subscriber_queue", 256)
	v.SetDefault("orchestrator.bus.external_enabled", false)
}

// getEnvFromEnvironment 从环境变量获取环境标识
func getEnvFromEnvironment() string {
	env := os.Getenv("NEOREACH_ENV")
	if env == "" {
		env = "development"
	}
	return env
}

// getDefaultConfigPath 获取默认配置文件目录
func getDefaultConfigPath() string {
	if wd, err := os.Getwd(); err == nil {
		return filepath.Join(wd, "configs")
	}
	return "configs"
}

// getConfigFileName 根据环境拼接配置文件名
// 优先使用 config.<env>.yaml，不存在时回退到 config.yaml
func getConfigFileName(configPath, env string) string {
	envFile := filepath.Join(configPath, fmt.Sprintf("config.%s.yaml", env))
	if _, err := os.Stat(envFile); err == nil {
		return envFile
	}
	return filepath.Join(configPath, "config.yaml")
}
