package config

import (
	"fmt"
	"time"
)

// Config 应用配置结构体 [这里的字段和配置文件中一级字段保持一致，否则会没有值]
type Config struct {
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`             // 服务器配置
	Database     DatabaseConfig     `yaml:"database" mapstructure:"database"`         // 数据库配置
	Log          LogConfig          `yaml:"log" mapstructure:"log"`                   // 日志配置
	Orchestrator OrchestratorConfig `yaml:"orchestrator" mapstructure:"orchestrator"` // 编排核心配置
	App          AppConfig          `yaml:"app" mapstructure:"app"`                   // 应用配置
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host           string        `yaml:"host" mapstructure:"host"`                         // 服务器主机地址
	Port           int           `yaml:"port" mapstructure:"port"`                         // 服务器端口
	Mode           string        `yaml:"mode" mapstructure:"mode"`                         // 运行模式: debug, release, test
	ReadTimeout    time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`         // 读取超时时间
	WriteTimeout   time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`       // 写入超时时间
	IdleTimeout    time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`         // 空闲超时时间
	MaxHeaderBytes int           `yaml:"max_header_bytes" mapstructure:"max_header_bytes"` // 最大请求头字节数
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	MySQL MySQLConfig `yaml:"mysql" mapstructure:"mysql"` // MySQL配置
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"` // Redis配置
}

// MySQLConfig MySQL数据库配置
type MySQLConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`                           // 数据库主机
	Port            int           `yaml:"port" mapstructure:"port"`                           // 数据库端口
	Username        string        `yaml:"username" mapstructure:"username"`                   // 用户名
	Password        string        `yaml:"password" mapstructure:"password"`                   // 密码
	Database        string        `yaml:"database" mapstructure:"database"`                   // 数据库名
	Charset         string        `yaml:"charset" mapstructure:"charset"`                     // 字符集
	ParseTime       bool          `yaml:"parse_time" mapstructure:"parse_time"`               // 是否解析时间
	Loc             string        `yaml:"loc" mapstructure:"loc"`                             // 时区
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`       // 最大空闲连接数
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`       // 最大打开连接数
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"` // 连接最大生存时间
}

// RedisConfig Redis配置
type RedisConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`                     // Redis主机
	Port         int           `yaml:"port" mapstructure:"port"`                     // Redis端口
	Password     string        `yaml:"password" mapstructure:"password"`             // Redis密码
	Database     int           `yaml:"database" mapstructure:"database"`             // Redis数据库索引
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`           // 连接池大小
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"` // 最小空闲连接数
	DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`     // 连接超时
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`     // 读取超时
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`   // 写入超时
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`             // 日志级别
	Format     string `yaml:"format" mapstructure:"format"`           // 日志格式: json, text
	Output     string `yaml:"output" mapstructure:"output"`           // 输出方式: stdout, stderr, file
	FilePath   string `yaml:"file_path" mapstructure:"file_path"`     // 日志文件路径
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`       // 单个日志文件最大大小(MB)
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"` // 保留的日志文件数量
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`         // 日志文件保留天数
	Compress   bool   `yaml:"compress" mapstructure:"compress"`       // 是否压缩日志文件
	Caller     bool   `yaml:"caller" mapstructure:"caller"`           // 是否显示调用者信息
}

// AppConfig 应用配置
type AppConfig struct {
	Name    string `yaml:"name" mapstructure:"name"`       // 应用名称
	Version string `yaml:"version" mapstructure:"version"` // 应用版本
}

// OrchestratorConfig 编排核心配置
type OrchestratorConfig struct {
	Scheduler SchedulerConfig        `yaml:"scheduler" mapstructure:"scheduler"` // 调度器配置
	Crews     CrewsConfig            `yaml:"crews" mapstructure:"crews"`         // Crew 槽位配置
	Domains   DomainPoolConfig       `yaml:"domains" mapstructure:"domains"`     // 域名池配置
	Quotas    map[string]QuotaConfig `yaml:"quotas" mapstructure:"quotas"`       // 服务商配额配置(按 provider)
	Decision  DecisionConfig         `yaml:"decision" mapstructure:"decision"`   // 决策引擎配置
	LLM       LLMConfig              `yaml:"llm" mapstructure:"llm"`             // LLM 推理服务商配置
	Bus       BusConfig              `yaml:"bus" mapstructure:"bus"`             // 消息总线配置
}

// SchedulerConfig 调度器配置
type SchedulerConfig struct {
	Tick            time.Duration `yaml:"tick" mapstructure:"tick"`                         // 调度轮询间隔
	BatchSize       int           `yaml:"batch_size" mapstructure:"batch_size"`             // 每轮最多处理的任务数
	ProgressTimeout time.Duration `yaml:"progress_timeout" mapstructure:"progress_timeout"` // 无进度上报的超时时间
	MonitorTick     time.Duration `yaml:"monitor_tick" mapstructure:"monitor_tick"`         // 进度监控轮询间隔
	MaxRetries      int           `yaml:"max_retries" mapstructure:"max_retries"`           // 默认最大重试次数
	BackoffBase     time.Duration `yaml:"backoff_base" mapstructure:"backoff_base"`         // 指数退避基数
	BackoffCap      time.Duration `yaml:"backoff_cap" mapstructure:"backoff_cap"`           // 指数退避上限
}

// CrewsConfig Crew 槽位配置
type CrewsConfig struct {
	DefaultMaxSlots int               `yaml:"default_max_slots" mapstructure:"default_max_slots"` // 默认每个 Crew 的并发槽位数
	MaxSlots        map[string]int    `yaml:"max_slots" mapstructure:"max_slots"`                 // 按 Crew 覆盖槽位数
	DefaultCrews    map[string]string `yaml:"default_crews" mapstructure:"default_crews"`         // 按任务类型指定默认 Crew
}

// DomainPoolConfig 域名池配置
type DomainPoolConfig struct {
	CustomFloor     float64       `yaml:"custom_floor" mapstructure:"custom_floor"`         // custom 池声誉门槛
	PrewarmedFloor  float64       `yaml:"prewarmed_floor" mapstructure:"prewarmed_floor"`   // pre_warmed 池声誉门槛
	RetireStreak    int           `yaml:"retire_streak" mapstructure:"retire_streak"`       // 连续低于门槛多少次后退役
	ReputationAlpha float64       `yaml:"reputation_alpha" mapstructure:"reputation_alpha"` // 声誉 EWMA 平滑系数
	LeaseTTL        time.Duration `yaml:"lease_ttl" mapstructure:"lease_ttl"`               // 域名/配额租约有效期
}

// QuotaConfig 单个服务商的令牌桶配置
type QuotaConfig struct {
	Capacity     int    `yaml:"capacity" mapstructure:"capacity"`           // 桶容量
	RefillAmount int    `yaml:"refill_amount" mapstructure:"refill_amount"` // 每次补充的令牌数
	RefillCron   string `yaml:"refill_cron" mapstructure:"refill_cron"`     // 补充计划(cron 表达式，如 "@every 1m")
}

// DecisionConfig 决策引擎配置
type DecisionConfig struct {
	RuleBudget time.Duration `yaml:"rule_budget" mapstructure:"rule_budget"` // 规则层时间预算
	LLMTimeout time.Duration `yaml:"llm_timeout" mapstructure:"llm_timeout"` // LLM 层硬超时
	CacheTTL   time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`     // LLM 响应缓存有效期
}

// LLMConfig LLM 推理服务商配置(OpenAI 兼容接口)
type LLMConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"` // 服务地址
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`   // API密钥(为空则禁用 LLM 层)
	Model   string `yaml:"model" mapstructure:"model"`       // 模型名称
}

// BusConfig 消息总线配置
type BusConfig struct {
	ChannelPrefix   string `yaml:"channel_prefix" mapstructure:"channel_prefix"`     // Redis 频道前缀
	SubscriberQueue int    `yaml:"subscriber_queue" mapstructure:"subscriber_queue"` // 进程内订阅者的缓冲长度
	ExternalEnabled bool   `yaml:"external_enabled" mapstructure:"external_enabled"` // 是否向 Redis 广播
}

// GetDSN 生成MySQL连接字符串
func (c *MySQLConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=%s",
		c.Username, c.Password, c.Host, c.Port, c.Database, c.Charset, c.ParseTime, c.Loc)
}

// GetAddr 生成Redis连接地址
func (c *RedisConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate 校验编排核心配置的关键约束
func (c *OrchestratorConfig) Validate() error {
	if c.Domains.CustomFloor <= 0 || c.Domains.CustomFloor >= 1 {
		return fmt.Errorf("domains.custom_floor must be in (0,1), got %f", c.Domains.CustomFloor)
	}
	if c.Domains.PrewarmedFloor < c.Domains.CustomFloor {
		return fmt.Errorf("domains.prewarmed_floor must be >= custom_floor")
	}
	if c.Scheduler.BackoffCap < c.Scheduler.BackoffBase {
		return fmt.Errorf("scheduler.backoff_cap must be >= backoff_base")
	}
	if c.Crews.DefaultMaxSlots <= 0 {
		return fmt.Errorf("crews.default_max_slots must be positive")
	}
	return nil
}
