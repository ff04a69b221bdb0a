package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "config.yaml", `
server:
  port: 9000
mysql:
  host: localhost
  port: 3306
`)

	cfg, err := LoadConfig(dir, "production")
	require.NoError(t, err)

	// 文件中声明的值
	assert.Equal(t, 9000, cfg.Server.Port)
	// 文件缺省的值走默认策略
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 5*time.Second, cfg.Orchestrator.Scheduler.Tick)
	assert.Equal(t, 2*time.Hour, cfg.Orchestrator.Scheduler.ProgressTimeout)
	assert.Equal(t, 3, cfg.Orchestrator.Scheduler.MaxRetries)
	assert.Equal(t, 3, cfg.Orchestrator.Crews.DefaultMaxSlots)
	assert.InDelta(t, 0.7, cfg.Orchestrator.Domains.CustomFloor, 1e-9)
	assert.InDelta(t, 0.8, cfg.Orchestrator.Domains.PrewarmedFloor, 1e-9)
	assert.InDelta(t, 0.2, cfg.Orchestrator.Domains.ReputationAlpha, 1e-9)
	assert.Equal(t, 5, cfg.Orchestrator.Domains.RetireStreak)
	assert.Equal(t, 50*time.Millisecond, cfg.Orchestrator.Decision.RuleBudget)
	assert.Equal(t, 600, cfg.Orchestrator.Quotas["email"].Capacity)
	assert.Equal(t, "@every 1m", cfg.Orchestrator.Quotas["email"].RefillCron)
	assert.Equal(t, "neoreach:events", cfg.Orchestrator.Bus.ChannelPrefix)
	assert.False(t, cfg.Orchestrator.Bus.ExternalEnabled)
	// LLM 默认禁用
	assert.Empty(t, cfg.Orchestrator.LLM.APIKey)
}

func TestLoadConfigPrefersEnvSpecificFile(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "config.yaml", "server:\n  port: 9000\n")
	writeConfigFile(t, dir, "config.test.yaml", "server:\n  port: 9100\n")

	cfg, err := LoadConfig(dir, "test")
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)

	// 无该环境文件时回退到 config.yaml
	cfg, err = LoadConfig(dir, "production")
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(t.TempDir(), "production")
	assert.Error(t, err)
}

func TestLoadConfigRejectsInvalidOrchestrator(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "config.yaml", `
orchestrator:
  domains:
    custom_floor: 0.9
    prewarmed_floor: 0.5
`)

	_, err := LoadConfig(dir, "production")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prewarmed_floor")
}

func TestOrchestratorConfigValidate(t *testing.T) {
	valid := OrchestratorConfig{
		Scheduler: SchedulerConfig{BackoffBase: 30 * time.Second, BackoffCap: time.Hour},
		Crews:     CrewsConfig{DefaultMaxSlots: 3},
		Domains:   DomainPoolConfig{CustomFloor: 0.7, PrewarmedFloor: 0.8},
	}
	assert.NoError(t, valid.Validate())

	bad := valid
	bad.Domains.CustomFloor = 0
	assert.Error(t, bad.Validate())

	bad = valid
	bad.Scheduler.BackoffCap = time.Second
	assert.Error(t, bad.Validate())

	bad = valid
	bad.Crews.DefaultMaxSlots = 0
	assert.Error(t, bad.Validate())
}

func TestGetDSN(t *testing.T) {
	c := MySQLConfig{
		Host: "127.0.0.1", Port: 3306,
		Username: "reach", Password: "secret", Database: "reachmaster",
		Charset: "utf8mb4", ParseTime: true, Loc: "Local",
	}
	assert.Equal(t,
		"reach:secret@tcp(127.0.0.1:3306)/reachmaster?charset=utf8mb4&parseTime=true&loc=Local",
		c.GetDSN())
}
