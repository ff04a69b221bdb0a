/**
 * 编排服务层:域名声誉反馈
 * @description: 消化渠道适配器上报的投递结果，以 EWMA 重算域名声誉并推进生命周期状态
 */
package orchestrator

import (
	"context"
	"fmt"

	"reachmaster/internal/config"
	missionModel "reachmaster/internal/model/mission"
	"reachmaster/internal/pkg/logger"
	"reachmaster/internal/pkg/utils"
	missionRepo "reachmaster/internal/repo/mysql/mission"
)

// ReputationService 域名声誉服务接口
type ReputationService interface {
	// ApplyOutcome 应用一次投递结果反馈
	// 声誉按 EWMA 平滑: new = alpha*obs + (1-alpha)*old；
	// delivered 观测为 1.0，bounce 为 0.0，complaint 为 0.0 且双倍权重(平滑两次)
	ApplyOutcome(ctx context.Context, domainName string, outcome missionModel.DeliveryOutcome) error
}

type reputationService struct {
	cfg        config.DomainPoolConfig
	domainRepo missionRepo.DomainRepository
}

// NewReputationService 创建域名声誉服务
func NewReputationService(cfg config.DomainPoolConfig, domainRepo missionRepo.DomainRepository) ReputationService {
	return &reputationService{
		cfg:        cfg,
		domainRepo: domainRepo,
	}
}

// ApplyOutcome 应用投递结果并推进域名状态
func (s *reputationService) ApplyOutcome(ctx context.Context, domainName string, outcome missionModel.DeliveryOutcome) error {
	d, err := s.domainRepo.GetDomainByName(ctx, domainName)
	if err != nil {
		return fmt.Errorf("load domain: %w", err)
	}
	if d == nil {
		return fmt.Errorf("domain %s not found", domainName)
	}
	if d.Status == missionModel.DomainRetired {
		// 退役域名不再参与声誉重算
		return nil
	}

	newReputation := nextReputation(d.Reputation, outcome, s.cfg.ReputationAlpha)

	floor := s.cfg.CustomFloor
	if d.Tier == missionModel.TierPrewarmed {
		floor = s.cfg.PrewarmedFloor
	}

	streak := 0
	status := d.Status
	if newReputation < floor {
		streak = d.SubFloorStreak + 1
		if streak >= s.cfg.RetireStreak {
			status = missionModel.DomainRetired
		} else if status == missionModel.DomainActive {
			status = missionModel.DomainCoolingDown
		}
	} else if status == missionModel.DomainCoolingDown {
		// 声誉恢复到门槛之上，重新进入选取池
		status = missionModel.DomainActive
	}

	if err := s.domainRepo.UpdateHealth(ctx, domainName, map[string]interface{}{
		"reputation":       newReputation,
		"sub_floor_streak": streak,
		"status":           status,
	}); err != nil {
		return fmt.Errorf("update domain health: %w", err)
	}

	if status != d.Status {
		logger.LogSystemEvent("reputation", "statusChange", "sending domain status changed", map[string]interface{}{
			"domain":     domainName,
			"from":       string(d.Status),
			"to":         string(status),
			"reputation": newReputation,
			"streak":     streak,
		})
	}
	return nil
}

// nextReputation EWMA 声誉重算
func nextReputation(current float64, outcome missionModel.DeliveryOutcome, alpha float64) float64 {
	observe := func(rep, obs float64) float64 {
		return utils.Clamp01(alpha*obs + (1-alpha)*rep)
	}
	switch outcome {
	case missionModel.OutcomeDelivered:
		return observe(current, 1.0)
	case missionModel.OutcomeBounce:
		return observe(current, 0.0)
	case missionModel.OutcomeComplaint:
		// 投诉双倍权重
		return observe(observe(current, 0.0), 0.0)
	default:
		return current
	}
}
