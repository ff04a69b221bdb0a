// DecisionEngine 决策引擎
// 以三个有序层回答编排问题("要不要重试"/"用哪个域名池"/"能不能派发")：
//  1. 状态机层: 纯查表，无分支，覆盖绝大多数无歧义请求
//  2. 规则层: 按优先级求值的谓词→动作规则，首个命中生效，兜底规则保证全覆盖
//  3. LLM 推理层: 仅在前两层都未果且规则要求升级时调用，超时/非法响应降级到规则层保守默认值
//
// 前两层是全函数(对任何输入都有确定输出)且永不失败；每次决策追加一条审计记录并广播事件。
package decision

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"reachmaster/internal/config"
	missionModel "reachmaster/internal/model/mission"
	"reachmaster/internal/pkg/logger"
	"reachmaster/internal/pkg/utils"
	"reachmaster/internal/repo/memory"
	missionRepo "reachmaster/internal/repo/mysql/mission"
	"reachmaster/internal/service/orchestrator/allocator"
	"reachmaster/internal/service/orchestrator/eventbus"
)

// QuotaProviderLLM LLM 调用在配额池中的服务商标识
const QuotaProviderLLM = "llm"

// Engine 决策引擎接口
type Engine interface {
	// Resolve 解析一次决策请求；对任何输入都返回确定的结果，永不失败
	Resolve(ctx context.Context, dctx missionModel.DecisionContext) missionModel.Resolution
}

type engine struct {
	cfg          config.DecisionConfig
	reasoner     Reasoner
	cache        *memory.TTLCache
	quota        allocator.ResourceAllocator
	decisionRepo missionRepo.DecisionRepository
	bus          eventbus.Bus
}

// NewEngine 创建决策引擎
// reasoner 为 nil 时 LLM 层视为禁用，需要升级的请求直接走规则层默认值；
// quota 为 nil 时 LLM 调用不限流
func NewEngine(
	cfg config.DecisionConfig,
	reasoner Reasoner,
	cache *memory.TTLCache,
	quota allocator.ResourceAllocator,
	decisionRepo missionRepo.DecisionRepository,
	bus eventbus.Bus,
) Engine {
	return &engine{
		cfg:          cfg,
		reasoner:     reasoner,
		cache:        cache,
		quota:        quota,
		decisionRepo: decisionRepo,
		bus:          bus,
	}
}

// Resolve 解析一次决策请求
func (e *engine) Resolve(ctx context.Context, dctx missionModel.DecisionContext) missionModel.Resolution {
	start := time.Now()

	resolution := e.resolveLayers(ctx, dctx)

	e.record(ctx, dctx, resolution, time.Since(start))
	return resolution
}

// resolveLayers 依次尝试三层，前一层放弃才进入下一层
func (e *engine) resolveLayers(ctx context.Context, dctx missionModel.DecisionContext) missionModel.Resolution {
	// 第1层: 状态机查表
	if key := dctx.StateKey(); key != "" {
		if value, ok := lookupState(dctx.RequestType(), key); ok {
			return missionModel.Resolution{
				Value:      value,
				Layer:      missionModel.LayerStateMachine,
				Confidence: 1.0,
			}
		}
	}

	// 第2层: 规则引擎(带时间预算观测)
	ruleStart := time.Now()
	outcome := evaluateRules(dctx)
	if budget := e.cfg.RuleBudget; budget > 0 && time.Since(ruleStart) > budget {
		logger.WithFields(map[string]interface{}{
			"request_type": string(dctx.RequestType()),
			"elapsed_ms":   time.Since(ruleStart).Milliseconds(),
			"func_name":    "decision.engine.resolveLayers",
		}).Warn("rule layer exceeded budget")
	}

	if !outcome.Escalate {
		return missionModel.Resolution{
			Value:      outcome.Value,
			Layer:      missionModel.LayerRuleEngine,
			Confidence: 1.0,
		}
	}

	// 第3层: LLM 推理(仅在规则要求升级时)
	return e.resolveWithReasoner(ctx, dctx, outcome)
}

// resolveWithReasoner LLM 层调用
// 失败语义: 超时/非法响应/未配置都降级到规则层给出的保守默认值，
// 并以 layer=llm-fallback 记录，使降级频率可观测；绝不向调用方抛错
func (e *engine) resolveWithReasoner(ctx context.Context, dctx missionModel.DecisionContext, outcome RuleOutcome) missionModel.Resolution {
	fallback := missionModel.Resolution{
		Value:      outcome.Fallback,
		Layer:      missionModel.LayerLLMFallback,
		Confidence: 1.0,
	}
	if e.reasoner == nil {
		return fallback
	}

	redacted := dctx.Redacted()
	cacheKey := e.cacheKey(dctx.RequestType(), redacted)
	if e.cache != nil {
		if cached, ok := e.cache.Get(cacheKey); ok {
			var res missionModel.Resolution
			if err := json.Unmarshal([]byte(cached), &res); err == nil {
				return res
			}
		}
	}

	// LLM 调用走配额令牌桶限流，缓存命中不消耗令牌，所以放在缓存检查之后。
	// 未配置 llm 令牌桶的部署视为不限流
	if e.quota != nil {
		lease, err := e.quota.Acquire(ctx, allocator.AcquireRequest{
			Kind:      missionModel.LeaseAPIQuota,
			MissionID: missionIDOf(dctx),
			Provider:  QuotaProviderLLM,
		})
		switch {
		case err == nil:
			defer e.quota.Release(ctx, lease.LeaseID)
		case errors.Is(err, allocator.ErrUnknownProvider):
			// 不限流，继续
		default:
			logger.WithFields(map[string]interface{}{
				"request_type": string(dctx.RequestType()),
				"error":        err.Error(),
				"func_name":    "decision.engine.resolveWithReasoner",
			}).Warn("llm quota denied, degrading to rule-layer default")
			return fallback
		}
	}

	timeout := e.cfg.LLMTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := e.reasoner.Resolve(callCtx, ReasonRequest{
		RequestType: dctx.RequestType(),
		Context:     redacted,
		Allowed:     outcome.Allowed,
	})
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"request_type": string(dctx.RequestType()),
			"error":        err.Error(),
			"func_name":    "decision.engine.resolveWithReasoner",
		}).Warn("reasoner failed, degrading to rule-layer default")
		return fallback
	}

	resolution := missionModel.Resolution{
		Value:      result.Decision,
		Layer:      missionModel.LayerLLM,
		Confidence: utils.Clamp01(result.Confidence),
	}
	if e.cache != nil {
		if data, err := json.Marshal(resolution); err == nil {
			ttl := e.cfg.CacheTTL
			if ttl <= 0 {
				ttl = 10 * time.Minute
			}
			e.cache.Set(cacheKey, string(data), ttl)
		}
	}
	return resolution
}

// cacheKey 以 (请求类型, 规范化脱敏上下文) 的哈希作为缓存键
// encoding/json 对 map 键排序，序列化结果即规范形式
func (e *engine) cacheKey(reqType missionModel.DecisionRequestType, redacted map[string]interface{}) string {
	data, _ := json.Marshal(redacted)
	sum := sha256.Sum256(append([]byte(reqType), data...))
	return hex.EncodeToString(sum[:])
}

// record 追加审计记录并广播 decision.resolved
// 审计失败只记日志——决策结果本身已经产生，不能因审计通道抖动而失败
func (e *engine) record(ctx context.Context, dctx missionModel.DecisionContext, res missionModel.Resolution, latency time.Duration) {
	inputJSON, _ := json.Marshal(dctx.Redacted())

	rec := &missionModel.DecisionRecord{
		RequestType:  dctx.RequestType(),
		MissionID:    missionIDOf(dctx),
		Layer:        res.Layer,
		InputContext: string(inputJSON),
		Decision:     res.Value,
		Confidence:   res.Confidence,
		LatencyMs:    latency.Milliseconds(),
	}
	if err := e.decisionRepo.AppendRecord(ctx, rec); err != nil {
		logger.LogError(err, "decision.engine.record", map[string]interface{}{
			"request_type": string(dctx.RequestType()),
		})
	}

	e.bus.Publish(ctx, eventbus.Event{
		Topic: eventbus.TopicDecisionResolved,
		Payload: map[string]interface{}{
			"request_type": string(dctx.RequestType()),
			"mission_id":   rec.MissionID,
			"layer":        string(res.Layer),
			"decision":     res.Value,
			"confidence":   res.Confidence,
			"latency_ms":   rec.LatencyMs,
		},
	})
}

// missionIDOf 从类型化上下文提取任务ID
func missionIDOf(dctx missionModel.DecisionContext) string {
	switch c := dctx.(type) {
	case missionModel.RetryContext:
		return c.MissionID
	case missionModel.DomainSelectionContext:
		return c.MissionID
	case missionModel.EligibilityContext:
		return c.MissionID
	default:
		return ""
	}
}
