package mission

import (
	"time"

	"reachmaster/internal/model/basemodel"
)

// MissionStatus 任务状态
// 状态机: queued -> assigned -> running -> {completed | failed | retry_pending | cancelled}
// retry_pending 在退避时间到达后回到 queued
// 终态(completed/failed/cancelled)不可再变更
type MissionStatus string

const (
	StatusQueued       MissionStatus = "queued"
	StatusAssigned     MissionStatus = "assigned"
	StatusRunning      MissionStatus = "running"
	StatusCompleted    MissionStatus = "completed"
	StatusFailed       MissionStatus = "failed"
	StatusRetryPending MissionStatus = "retry_pending"
	StatusCancelled    MissionStatus = "cancelled"
)

// IsTerminal 判断是否为终态
func (s MissionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// MissionType 任务类型
type MissionType string

const (
	TypeEmailOutreach    MissionType = "email_outreach"
	TypeSMSOutreach      MissionType = "sms_outreach"
	TypeWhatsAppOutreach MissionType = "whatsapp_outreach"
	TypeDomainWarmup     MissionType = "domain_warmup"
	TypeReplyFollowup    MissionType = "reply_followup"
)

// NeedsDomain 该类型任务是否需要发信域名租约
func (t MissionType) NeedsDomain() bool {
	switch t {
	case TypeEmailOutreach, TypeDomainWarmup, TypeReplyFollowup:
		return true
	default:
		return false
	}
}

// QuotaProvider 该类型任务消耗的外部服务商配额
// 不消耗配额的类型(domain_warmup)返回空字符串
func (t MissionType) QuotaProvider() string {
	switch t {
	case TypeEmailOutreach, TypeReplyFollowup:
		return "email"
	case TypeSMSOutreach:
		return "sms"
	case TypeWhatsAppOutreach:
		return "whatsapp"
	default:
		return ""
	}
}

// Mission 外联任务实体
// 由外部目标提交创建，仅由 Scheduler 变更状态
// Payload 为不透明的任务载荷(JSON)，核心层不解释其内容
// Result 只保存执行结果摘要(JSON)，明细数据由各渠道适配器自行落盘
type Mission struct {
	basemodel.BaseModel

	MissionID  string        `json:"mission_id" gorm:"uniqueIndex;not null;size:64;comment:任务唯一标识ID"`
	Type       MissionType   `json:"type" gorm:"index;not null;size:32;comment:任务类型"`
	Priority   int           `json:"priority" gorm:"index;default:0;comment:任务优先级(越大越先调度)"`
	Status     MissionStatus `json:"status" gorm:"index;size:20;default:'queued';comment:任务状态"`
	CrewID     string        `json:"crew_id" gorm:"index;size:64;comment:执行Crew的ID(派发后填写)"`
	CampaignID string        `json:"campaign_id" gorm:"index;size:64;comment:所属Campaign的ID"`

	RetryCount int `json:"retry_count" gorm:"default:0;comment:已重试次数"`
	MaxRetries int `json:"max_retries" gorm:"default:3;comment:最大重试次数"`

	Payload  string `json:"payload" gorm:"type:json;comment:任务载荷(JSON)"`
	Result   string `json:"result" gorm:"type:json;comment:执行结果摘要(JSON)"`
	ErrorMsg string `json:"error_msg" gorm:"type:text;comment:错误信息"`

	StartedAt      *time.Time `json:"started_at" gorm:"comment:开始执行时间"`
	FinishedAt     *time.Time `json:"finished_at" gorm:"comment:结束时间(终态)"`
	LastProgressAt *time.Time `json:"last_progress_at" gorm:"comment:最近进度上报时间"`
	NextAttemptAt  *time.Time `json:"next_attempt_at" gorm:"index;comment:退避后允许再次调度的时间"`
}

// TableName 定义表名
func (Mission) TableName() string {
	return "missions"
}

// canTransition 状态机允许的迁移表
// 任何未列出的迁移都是非法的(终态无出边)
var canTransition = map[MissionStatus][]MissionStatus{
	StatusQueued:       {StatusAssigned, StatusFailed, StatusCancelled},
	StatusAssigned:     {StatusRunning, StatusCancelled},
	StatusRunning:      {StatusCompleted, StatusFailed, StatusRetryPending, StatusCancelled},
	StatusRetryPending: {StatusQueued, StatusFailed, StatusCancelled},
}

// CanTransition 判断 from -> to 是否为合法状态迁移
func CanTransition(from, to MissionStatus) bool {
	for _, next := range canTransition[from] {
		if next == to {
			return true
		}
	}
	return false
}
