package mission

import (
	"reachmaster/internal/model/basemodel"
)

// DomainTier 域名池层级
// custom: 客户自有域名池，声誉门槛 0.7
// pre_warmed: 平台共享的预热域名池(更稀缺)，声誉门槛 0.8
type DomainTier string

const (
	TierCustom    DomainTier = "custom"
	TierPrewarmed DomainTier = "pre_warmed"
)

// DomainStatus 域名生命周期状态
type DomainStatus string

const (
	DomainWarming     DomainStatus = "warming"
	DomainActive      DomainStatus = "active"
	DomainCoolingDown DomainStatus = "cooling_down"
	DomainRetired     DomainStatus = "retired"
)

// SendingDomain 发信域名实体
// 声誉由投递结果反馈重算(EWMA)，任务执行中途绝不人工覆盖；
// 低于门槛的域名在"选取时"被排除，不存在独立的强制轮换事件；
// 连续 N 次低于门槛读数后退役(retired)
type SendingDomain struct {
	basemodel.BaseModel

	Name           string       `json:"name" gorm:"uniqueIndex;not null;size:253;comment:域名"`
	Tier           DomainTier   `json:"tier" gorm:"index;not null;size:16;comment:域名池层级(custom/pre_warmed)"`
	Reputation     float64      `json:"reputation" gorm:"default:1.0;comment:声誉评分(0.0-1.0)"`
	WarmupDay      int          `json:"warmup_day" gorm:"default:0;comment:预热天数计数"`
	Status         DomainStatus `json:"status" gorm:"index;size:16;default:'warming';comment:域名状态"`
	SubFloorStreak int          `json:"sub_floor_streak" gorm:"default:0;comment:连续低于门槛的读数次数"`
	CampaignID     string       `json:"campaign_id" gorm:"index;size:64;comment:专属Campaign的ID(空表示共享)"`
}

// TableName 定义表名
func (SendingDomain) TableName() string {
	return "sending_domains"
}

// DeliveryOutcome 投递结果反馈(由渠道适配器异步上报)
type DeliveryOutcome string

const (
	OutcomeDelivered DeliveryOutcome = "delivered"
	OutcomeBounce    DeliveryOutcome = "bounce"
	OutcomeComplaint DeliveryOutcome = "complaint"
)
