package decision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"reachmaster/internal/config"
	missionModel "reachmaster/internal/model/mission"
	"reachmaster/internal/repo/memory"
	missionRepo "reachmaster/internal/repo/mysql/mission"
	"reachmaster/internal/service/orchestrator/allocator"
	"reachmaster/internal/service/orchestrator/eventbus"
)

// stubReasoner 确定性 LLM 桩
type stubReasoner struct {
	result *ReasonResult
	err    error
	calls  int
}

func (s *stubReasoner) Resolve(ctx context.Context, req ReasonRequest) (*ReasonResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func newTestEngine(t *testing.T, reasoner Reasoner) (Engine, *gorm.DB, *memory.TTLCache) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&missionModel.DecisionRecord{}))

	cache := memory.NewTTLCache()
	t.Cleanup(cache.Close)

	cfg := config.DecisionConfig{
		RuleBudget: 50 * time.Millisecond,
		LLMTimeout: time.Second,
		CacheTTL:   10 * time.Minute,
	}
	engine := NewEngine(cfg, reasoner, cache, nil, missionRepo.NewDecisionRepository(db), eventbus.NewHub(16))
	return engine, db, cache
}

func TestResolveStateMachineShortCircuit(t *testing.T) {
	reasoner := &stubReasoner{}
	engine, db, _ := newTestEngine(t, reasoner)

	// 终态任务的重试询问属于查表情形: 第1层直接裁决，置信度恒为1.0
	res := engine.Resolve(context.Background(), missionModel.RetryContext{
		MissionID:  "m1",
		Status:     missionModel.StatusCancelled,
		RetryCount: 0,
		MaxRetries: 3,
	})
	assert.Equal(t, missionModel.DecideFailTerminal, res.Value)
	assert.Equal(t, missionModel.LayerStateMachine, res.Layer)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Zero(t, reasoner.calls)

	// 每次决策都追加审计记录
	var count int64
	require.NoError(t, db.Model(&missionModel.DecisionRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestResolveRuleLayer(t *testing.T) {
	reasoner := &stubReasoner{}
	engine, _, _ := newTestEngine(t, reasoner)
	ctx := context.Background()

	// 重试预算耗尽: 规则层直接终态失败
	res := engine.Resolve(ctx, missionModel.RetryContext{
		MissionID:    "m1",
		Status:       missionModel.StatusRunning,
		RetryCount:   3,
		MaxRetries:   3,
		FailureClass: missionModel.FailureRecoverable,
	})
	assert.Equal(t, missionModel.DecideFailTerminal, res.Value)
	assert.Equal(t, missionModel.LayerRuleEngine, res.Layer)

	// 可恢复失败且有预算: 重试
	res = engine.Resolve(ctx, missionModel.RetryContext{
		MissionID:    "m2",
		Status:       missionModel.StatusRunning,
		RetryCount:   1,
		MaxRetries:   3,
		FailureClass: missionModel.FailureRecoverable,
	})
	assert.Equal(t, missionModel.DecideRetry, res.Value)
	assert.Zero(t, reasoner.calls)
}

func TestResolveEligibilityRules(t *testing.T) {
	engine, _, _ := newTestEngine(t, nil)
	ctx := context.Background()

	// 非 queued 状态: 查表拒绝
	res := engine.Resolve(ctx, missionModel.EligibilityContext{
		MissionID: "m1",
		Status:    missionModel.StatusRunning,
		CrewKnown: true,
	})
	assert.Equal(t, missionModel.DecideReject, res.Value)
	assert.Equal(t, missionModel.LayerStateMachine, res.Layer)

	// 无空闲槽位: hold
	res = engine.Resolve(ctx, missionModel.EligibilityContext{
		MissionID:     "m2",
		Status:        missionModel.StatusQueued,
		CrewKnown:     true,
		CrewSlotsFree: 0,
		QuotaTokens:   -1,
	})
	assert.Equal(t, missionModel.DecideHold, res.Value)

	// 槽位与配额都有: dispatch
	res = engine.Resolve(ctx, missionModel.EligibilityContext{
		MissionID:     "m3",
		Status:        missionModel.StatusQueued,
		CrewKnown:     true,
		CrewSlotsFree: 2,
		QuotaTokens:   10,
	})
	assert.Equal(t, missionModel.DecideDispatch, res.Value)
	assert.Equal(t, missionModel.LayerRuleEngine, res.Layer)
}

func TestResolveEscalatesToReasoner(t *testing.T) {
	reasoner := &stubReasoner{result: &ReasonResult{Decision: missionModel.DecideRetry, Confidence: 0.85}}
	engine, _, _ := newTestEngine(t, reasoner)

	// 未知失败分类: 规则层兜底升级到 LLM
	res := engine.Resolve(context.Background(), missionModel.RetryContext{
		MissionID:    "m1",
		Status:       missionModel.StatusRunning,
		RetryCount:   1,
		MaxRetries:   3,
		FailureClass: missionModel.FailureUnknown,
	})
	assert.Equal(t, missionModel.DecideRetry, res.Value)
	assert.Equal(t, missionModel.LayerLLM, res.Layer)
	assert.Equal(t, 0.85, res.Confidence)
	assert.Equal(t, 1, reasoner.calls)
}

func TestResolveReasonerFailureFallsBack(t *testing.T) {
	reasoner := &stubReasoner{err: errors.New("upstream timeout")}
	engine, db, _ := newTestEngine(t, reasoner)

	// LLM 失败降级到规则层保守默认值，layer 记为 llm-fallback
	res := engine.Resolve(context.Background(), missionModel.RetryContext{
		MissionID:    "m1",
		Status:       missionModel.StatusRunning,
		RetryCount:   1,
		MaxRetries:   3,
		FailureClass: missionModel.FailureUnknown,
	})
	assert.Equal(t, missionModel.DecideEscalate, res.Value)
	assert.Equal(t, missionModel.LayerLLMFallback, res.Layer)

	var rec missionModel.DecisionRecord
	require.NoError(t, db.First(&rec).Error)
	assert.Equal(t, missionModel.LayerLLMFallback, rec.Layer)
}

// 场景: LLM 调用受 llm 令牌桶限流，桶耗尽后降级到规则层默认值
func TestResolveReasonerQuotaExhausted(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&missionModel.DecisionRecord{},
		&missionModel.SendingDomain{},
		&missionModel.ResourceLease{},
	))

	bus := eventbus.NewHub(16)
	alloc := allocator.NewResourceAllocator(config.OrchestratorConfig{
		Quotas: map[string]config.QuotaConfig{
			QuotaProviderLLM: {Capacity: 1, RefillAmount: 1, RefillCron: "@every 1m"},
		},
	}, missionRepo.NewDomainRepository(db), missionRepo.NewLeaseRepository(db), bus)

	cache := memory.NewTTLCache()
	t.Cleanup(cache.Close)

	reasoner := &stubReasoner{result: &ReasonResult{Decision: missionModel.DecideRetry, Confidence: 0.9}}
	cfg := config.DecisionConfig{
		RuleBudget: 50 * time.Millisecond,
		LLMTimeout: time.Second,
		CacheTTL:   10 * time.Minute,
	}
	engine := NewEngine(cfg, reasoner, cache, alloc, missionRepo.NewDecisionRepository(db), bus)
	ctx := context.Background()

	// 第一次升级: 桶里有令牌，走 LLM 层
	res := engine.Resolve(ctx, missionModel.RetryContext{
		MissionID:    "m1",
		Status:       missionModel.StatusRunning,
		RetryCount:   1,
		MaxRetries:   5,
		FailureClass: missionModel.FailureUnknown,
	})
	assert.Equal(t, missionModel.LayerLLM, res.Layer)
	assert.Equal(t, 1, reasoner.calls)

	// 不同上下文绕过缓存；令牌发放即消耗，第二次被限流降级
	res = engine.Resolve(ctx, missionModel.RetryContext{
		MissionID:    "m2",
		Status:       missionModel.StatusRunning,
		RetryCount:   2,
		MaxRetries:   5,
		FailureClass: missionModel.FailureUnknown,
	})
	assert.Equal(t, missionModel.LayerLLMFallback, res.Layer)
	assert.Equal(t, missionModel.DecideEscalate, res.Value)
	assert.Equal(t, 1, reasoner.calls)
}

func TestResolveReasonerDisabled(t *testing.T) {
	engine, _, _ := newTestEngine(t, nil)

	res := engine.Resolve(context.Background(), missionModel.RetryContext{
		MissionID:    "m1",
		Status:       missionModel.StatusRunning,
		RetryCount:   0,
		MaxRetries:   3,
		FailureClass: missionModel.FailureUnknown,
	})
	assert.Equal(t, missionModel.DecideEscalate, res.Value)
	assert.Equal(t, missionModel.LayerLLMFallback, res.Layer)
}

func TestResolveConfidenceClamped(t *testing.T) {
	reasoner := &stubReasoner{result: &ReasonResult{Decision: missionModel.DecideRetry, Confidence: 1.7}}
	engine, _, _ := newTestEngine(t, reasoner)

	res := engine.Resolve(context.Background(), missionModel.RetryContext{
		MissionID:    "m1",
		Status:       missionModel.StatusRunning,
		RetryCount:   0,
		MaxRetries:   3,
		FailureClass: missionModel.FailureUnknown,
	})
	assert.Equal(t, 1.0, res.Confidence)
}

func TestResolveCachesReasonerResult(t *testing.T) {
	reasoner := &stubReasoner{result: &ReasonResult{Decision: missionModel.DecideRetry, Confidence: 0.9}}
	engine, _, _ := newTestEngine(t, reasoner)
	ctx := context.Background()

	dctx := missionModel.RetryContext{
		MissionID:    "m1",
		Status:       missionModel.StatusRunning,
		RetryCount:   1,
		MaxRetries:   3,
		FailureClass: missionModel.FailureUnknown,
	}
	first := engine.Resolve(ctx, dctx)
	second := engine.Resolve(ctx, dctx)

	// 相同脱敏上下文在 TTL 内命中缓存，不再调用 LLM
	assert.Equal(t, first.Value, second.Value)
	assert.Equal(t, 1, reasoner.calls)
}

func TestParseResultValidation(t *testing.T) {
	allowed := []string{missionModel.DecideRetry, missionModel.DecideFailTerminal}

	res, err := parseResult(`{"decision": "retry", "confidence": 0.8}`, allowed)
	require.NoError(t, err)
	assert.Equal(t, "retry", res.Decision)

	// markdown 代码块包裹可容忍
	res, err = parseResult("```json\n{\"decision\": \"retry\", \"confidence\": 0.8}\n```", allowed)
	require.NoError(t, err)
	assert.Equal(t, "retry", res.Decision)

	// 非法 JSON 与越界决策值都按失败处理
	_, err = parseResult(`definitely retry it`, allowed)
	assert.Error(t, err)
	_, err = parseResult(`{"decision": "launch_rockets", "confidence": 1.0}`, allowed)
	assert.Error(t, err)
}

func TestDomainSelectionStateTable(t *testing.T) {
	engine, _, _ := newTestEngine(t, nil)
	ctx := context.Background()

	res := engine.Resolve(ctx, missionModel.DomainSelectionContext{
		MissionID:       "m1",
		MissionType:     missionModel.TypeEmailOutreach,
		DedicatedDomain: "dedicated.example.com",
	})
	assert.Equal(t, missionModel.DecideDedicated, res.Value)

	res = engine.Resolve(ctx, missionModel.DomainSelectionContext{
		MissionID:         "m2",
		MissionType:       missionModel.TypeEmailOutreach,
		PrewarmedEligible: 3,
	})
	assert.Equal(t, missionModel.DecidePrewarmed, res.Value)

	// 全部池空: 升级；LLM 禁用时降级到保守默认 deny
	res = engine.Resolve(ctx, missionModel.DomainSelectionContext{
		MissionID:   "m3",
		MissionType: missionModel.TypeEmailOutreach,
	})
	assert.Equal(t, missionModel.DecideDeny, res.Value)
	assert.Equal(t, missionModel.LayerLLMFallback, res.Layer)
}
