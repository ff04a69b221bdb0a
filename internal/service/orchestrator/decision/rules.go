package decision

import (
	missionModel "reachmaster/internal/model/mission"
)

// RuleOutcome 规则命中后的产出
// Escalate 为 true 表示该规则无法独立裁决，需要升级到 LLM 层；
// 此时 Fallback 携带保守默认值，Allowed 限定 LLM 可返回的决策值集合
type RuleOutcome struct {
	Value    string
	Escalate bool
	Fallback string
	Allowed  []string
}

// Rule 第2层规则
// 规则按切片顺序求值，首个 When 为 true 的规则生效；
// 每种请求类型的规则集都以无条件兜底规则收尾，保证本层是全函数
type Rule struct {
	Name string
	When func(dctx missionModel.DecisionContext) bool
	Then func(dctx missionModel.DecisionContext) RuleOutcome
}

// direct 无需升级的直接裁决
func direct(value string) func(missionModel.DecisionContext) RuleOutcome {
	return func(missionModel.DecisionContext) RuleOutcome {
		return RuleOutcome{Value: value}
	}
}

// escalate 升级到 LLM 层，fallback 为降级时的保守默认
func escalate(fallback string, allowed ...string) func(missionModel.DecisionContext) RuleOutcome {
	return func(missionModel.DecisionContext) RuleOutcome {
		return RuleOutcome{Escalate: true, Fallback: fallback, Allowed: allowed}
	}
}

// always 兜底谓词
func always(missionModel.DecisionContext) bool { return true }

var retryRules = []Rule{
	{
		// 重试预算耗尽的任务直接终态失败，不消耗 LLM 调用
		Name: "retry-budget-exhausted",
		When: func(dctx missionModel.DecisionContext) bool {
			c := dctx.(missionModel.RetryContext)
			return c.RetryCount >= c.MaxRetries
		},
		Then: direct(missionModel.DecideFailTerminal),
	},
	{
		Name: "terminal-failure-class",
		When: func(dctx missionModel.DecisionContext) bool {
			return dctx.(missionModel.RetryContext).FailureClass == missionModel.FailureTerminal
		},
		Then: direct(missionModel.DecideFailTerminal),
	},
	{
		Name: "recoverable-failure-class",
		When: func(dctx missionModel.DecisionContext) bool {
			return dctx.(missionModel.RetryContext).FailureClass == missionModel.FailureRecoverable
		},
		Then: direct(missionModel.DecideRetry),
	},
	{
		// 失败原因无法归类时升级 LLM 裁决；降级默认不重试、转人工
		Name: "unknown-failure-escalate",
		When: always,
		Then: escalate(missionModel.DecideEscalate,
			missionModel.DecideRetry, missionModel.DecideFailTerminal, missionModel.DecideEscalate),
	},
}

var domainRules = []Rule{
	{
		// 预热任务固定走 custom 池(由 Allocator 放行 warming 状态域名)
		Name: "warmup-uses-custom-pool",
		When: func(dctx missionModel.DecisionContext) bool {
			return dctx.(missionModel.DomainSelectionContext).MissionType == missionModel.TypeDomainWarmup
		},
		Then: direct(missionModel.DecideCustom),
	},
	{
		// 各池都无达标候选——拒发还是放宽，交 LLM 权衡；降级默认拒发保护声誉
		Name: "no-eligible-domain-escalate",
		When: always,
		Then: escalate(missionModel.DecideDeny,
			missionModel.DecideCustom, missionModel.DecidePrewarmed, missionModel.DecideDeny),
	},
}

var eligibilityRules = []Rule{
	{
		Name: "no-free-slots-hold",
		When: func(dctx missionModel.DecisionContext) bool {
			return dctx.(missionModel.EligibilityContext).CrewSlotsFree <= 0
		},
		Then: direct(missionModel.DecideHold),
	},
	{
		// QuotaTokens 为 -1 表示该任务类型不需要配额
		Name: "quota-exhausted-hold",
		When: func(dctx missionModel.DecisionContext) bool {
			return dctx.(missionModel.EligibilityContext).QuotaTokens == 0
		},
		Then: direct(missionModel.DecideHold),
	},
	{
		Name: "default-dispatch",
		When: always,
		Then: direct(missionModel.DecideDispatch),
	},
}

var ruleSets = map[missionModel.DecisionRequestType][]Rule{
	missionModel.RequestRetryDecision:    retryRules,
	missionModel.RequestDomainSelection:  domainRules,
	missionModel.RequestEligibilityCheck: eligibilityRules,
}

// evaluateRules 按序求值对应请求类型的规则集，返回首个命中规则的产出
// 每个规则集都有兜底规则，本函数对合法上下文必然有返回
func evaluateRules(dctx missionModel.DecisionContext) RuleOutcome {
	for _, rule := range ruleSets[dctx.RequestType()] {
		if rule.When(dctx) {
			return rule.Then(dctx)
		}
	}
	// 不可达: 兜底规则保证命中；这里只为编译器兜底
	return RuleOutcome{Value: missionModel.DecideEscalate}
}
