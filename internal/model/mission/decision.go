package mission

import (
	"reachmaster/internal/model/basemodel"
)

// DecisionRequestType 决策请求类型
type DecisionRequestType string

const (
	RequestRetryDecision    DecisionRequestType = "RETRY_DECISION"
	RequestDomainSelection  DecisionRequestType = "DOMAIN_SELECTION"
	RequestEligibilityCheck DecisionRequestType = "ELIGIBILITY_CHECK"
)

// DecisionLayer 作出决策的层
type DecisionLayer string

const (
	LayerStateMachine DecisionLayer = "state_machine"
	LayerRuleEngine   DecisionLayer = "rule_engine"
	LayerLLM          DecisionLayer = "llm"
	LayerLLMFallback  DecisionLayer = "llm-fallback" // LLM 超时/响应非法时降级到规则层默认值
)

// 决策值常量
// RETRY_DECISION: retry / fail_terminal / escalate
// DOMAIN_SELECTION: dedicated / custom / pre_warmed / deny
// ELIGIBILITY_CHECK: dispatch / hold / reject
const (
	DecideRetry        = "retry"
	DecideFailTerminal = "fail_terminal"
	DecideEscalate     = "escalate"

	DecideDedicated = "dedicated"
	DecideCustom    = "custom"
	DecidePrewarmed = "pre_warmed"
	DecideDeny      = "deny"

	DecideDispatch = "dispatch"
	DecideHold     = "hold"
	DecideReject   = "reject"
)

// FailureClass 任务失败分类
type FailureClass string

const (
	FailureRecoverable FailureClass = "recoverable" // 可重试(退避后重新入队)
	FailureTerminal    FailureClass = "terminal"    // 不可重试(如载荷校验失败)
	FailureUnknown     FailureClass = "unknown"     // 无法判定，交由规则层/LLM裁决
)

// DecisionContext 决策上下文
// 每种请求类型对应一个封闭的类型化上下文变体，在边界处校验，
// 状态机层与规则层只操作类型化数据，不接受自由格式 map
type DecisionContext interface {
	// RequestType 上下文所属的请求类型
	RequestType() DecisionRequestType
	// StateKey 状态机层(第1层)查表用的键；无法归入查表键时返回空字符串
	StateKey() string
	// Redacted 返回可出境(发送给 LLM)的脱敏字段集合，不含 PII
	Redacted() map[string]interface{}
}

// RetryContext RETRY_DECISION 的上下文
type RetryContext struct {
	MissionID    string
	MissionType  MissionType
	Status       MissionStatus
	RetryCount   int
	MaxRetries   int
	FailureClass FailureClass
	ErrorMsg     string // 可能包含收件人信息，脱敏时剔除
}

func (c RetryContext) RequestType() DecisionRequestType { return RequestRetryDecision }

// StateKey 终态与取消态属于无歧义情形，直接查表；其余交给规则层
func (c RetryContext) StateKey() string {
	if c.Status.IsTerminal() {
		return "terminal"
	}
	return ""
}

func (c RetryContext) Redacted() map[string]interface{} {
	return map[string]interface{}{
		"mission_type":  string(c.MissionType),
		"status":        string(c.Status),
		"retry_count":   c.RetryCount,
		"max_retries":   c.MaxRetries,
		"failure_class": string(c.FailureClass),
	}
}

// DomainSelectionContext DOMAIN_SELECTION 的上下文
// 候选数量由 Allocator 的快照提供，决策层只裁决"用哪一层池"，
// 池内轮询与门槛复核仍由 Allocator 在发放租约时执行
type DomainSelectionContext struct {
	MissionID          string
	MissionType        MissionType
	DedicatedDomain    string // Campaign 专属域名(为空表示无专属)
	CustomEligible     int    // custom 池中声誉达标的候选数
	PrewarmedEligible  int    // pre_warmed 池中声誉达标的候选数
	WarmupOnlyEligible bool   // 仅剩 warming 状态域名可用
}

func (c DomainSelectionContext) RequestType() DecisionRequestType { return RequestDomainSelection }

func (c DomainSelectionContext) StateKey() string {
	switch {
	case c.DedicatedDomain != "":
		return "dedicated"
	case c.CustomEligible > 0:
		return "custom_available"
	case c.PrewarmedEligible > 0:
		return "prewarmed_available"
	default:
		return ""
	}
}

func (c DomainSelectionContext) Redacted() map[string]interface{} {
	return map[string]interface{}{
		"mission_type":         string(c.MissionType),
		"has_dedicated":        c.DedicatedDomain != "",
		"custom_eligible":      c.CustomEligible,
		"prewarmed_eligible":   c.PrewarmedEligible,
		"warmup_only_eligible": c.WarmupOnlyEligible,
	}
}

// EligibilityContext ELIGIBILITY_CHECK 的上下文
type EligibilityContext struct {
	MissionID     string
	MissionType   MissionType
	Status        MissionStatus
	CrewKnown     bool // 目标 Crew 在配置中存在
	CrewSlotsFree int
	QuotaTokens   int // 所需服务商的剩余令牌(不需要配额时为 -1)
}

func (c EligibilityContext) RequestType() DecisionRequestType { return RequestEligibilityCheck }

// StateKey 非 queued 状态与未知 Crew 属于无歧义情形
func (c EligibilityContext) StateKey() string {
	if c.Status != StatusQueued {
		return "not_queued"
	}
	if !c.CrewKnown {
		return "unknown_crew"
	}
	return ""
}

func (c EligibilityContext) Redacted() map[string]interface{} {
	return map[string]interface{}{
		"mission_type":    string(c.MissionType),
		"status":          string(c.Status),
		"crew_known":      c.CrewKnown,
		"crew_slots_free": c.CrewSlotsFree,
		"quota_tokens":    c.QuotaTokens,
	}
}

// Resolution 决策结果
// Confidence: 前两层恒为 1.0；LLM 层为其自报置信度(截断到 [0,1])
type Resolution struct {
	Value      string        `json:"value"`
	Layer      DecisionLayer `json:"layer"`
	Confidence float64       `json:"confidence"`
}

// DecisionRecord 决策审计记录
// 只追加，绝不回读进决策逻辑(避免引入反馈回路破坏可复现性)
type DecisionRecord struct {
	basemodel.BaseModel

	RequestType  DecisionRequestType `json:"request_type" gorm:"index;not null;size:32;comment:决策请求类型"`
	MissionID    string              `json:"mission_id" gorm:"index;size:64;comment:关联任务ID"`
	Layer        DecisionLayer       `json:"layer" gorm:"index;size:20;comment:作出决策的层"`
	InputContext string              `json:"input_context" gorm:"type:json;comment:输入上下文(脱敏JSON)"`
	Decision     string              `json:"decision" gorm:"size:32;comment:决策值"`
	Confidence   float64             `json:"confidence" gorm:"comment:置信度(0.0-1.0)"`
	LatencyMs    int64               `json:"latency_ms" gorm:"comment:决策耗时(毫秒)"`
}

// TableName 定义表名
func (DecisionRecord) TableName() string {
	return "decision_records"
}
