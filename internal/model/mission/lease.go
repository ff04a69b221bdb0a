package mission

import (
	"time"

	"reachmaster/internal/model/basemodel"
)

// LeaseKind 租约类型
type LeaseKind string

const (
	LeaseAgentSlot LeaseKind = "agent_slot" // Crew 并发槽位
	LeaseDomain    LeaseKind = "domain"     // 发信域名
	LeaseAPIQuota  LeaseKind = "api_quota"  // 外部服务商调用配额
)

// LeaseStatus 租约状态
type LeaseStatus string

const (
	LeaseActive   LeaseStatus = "active"
	LeaseReleased LeaseStatus = "released"
	LeaseExpired  LeaseStatus = "expired"
)

// ResourceLease 资源租约实体
// 租约的实时账本由 Allocator 在内存中持有(唯一写入方)，
// 数据库中的租约记录用于审计与重启后的追溯，不参与实时判定
type ResourceLease struct {
	basemodel.BaseModel

	LeaseID    string      `json:"lease_id" gorm:"uniqueIndex;not null;size:64;comment:租约唯一标识ID"`
	Kind       LeaseKind   `json:"kind" gorm:"index;not null;size:20;comment:租约类型"`
	ResourceID string      `json:"resource_id" gorm:"index;size:128;comment:资源标识(crew_id/域名/provider)"`
	MissionID  string      `json:"mission_id" gorm:"index;not null;size:64;comment:持有该租约的任务ID"`
	Status     LeaseStatus `json:"status" gorm:"index;size:16;default:'active';comment:租约状态"`
	AcquiredAt time.Time   `json:"acquired_at" gorm:"comment:获取时间"`
	ExpiresAt  *time.Time  `json:"expires_at" gorm:"comment:过期时间(域名/配额租约)"`
}

// TableName 定义表名
func (ResourceLease) TableName() string {
	return "resource_leases"
}

// PoolSnapshot 资源池利用率快照(只读)
// 供 Scheduler 准入检查与外部分析使用
type PoolSnapshot struct {
	Crews   map[string]CrewSlotSnapshot `json:"crews"`
	Domains DomainPoolSnapshot          `json:"domains"`
	Quotas  map[string]QuotaSnapshot    `json:"quotas"`
	TakenAt time.Time                   `json:"taken_at"`
}

// CrewSlotSnapshot 单个 Crew 的槽位占用情况
type CrewSlotSnapshot struct {
	MaxSlots  int `json:"max_slots"`
	UsedSlots int `json:"used_slots"`
}

// DomainPoolSnapshot 域名池概况
type DomainPoolSnapshot struct {
	CustomEligible    int `json:"custom_eligible"`    // 声誉达标的 custom 池域名数
	PrewarmedEligible int `json:"prewarmed_eligible"` // 声誉达标的 pre_warmed 池域名数
	ActiveLeases      int `json:"active_leases"`
}

// QuotaSnapshot 单个服务商的令牌桶状态
type QuotaSnapshot struct {
	Capacity int `json:"capacity"`
	Tokens   int `json:"tokens"`
}
