package allocator

import (
	"context"

	missionModel "reachmaster/internal/model/mission"
)

// acquireDomain 按三层偏好选取发信域名
// 顺序: Campaign 专属域名 → custom 池(声誉≥0.7) → pre_warmed 共享池(声誉≥0.8)；
// req.Tier 指定了决策引擎裁决过的层级时只在该层选取。
// 门槛判定发生在"选取时"：掉到门槛以下的域名自动不再入选，已发放的租约照常履行到完成；
// 不存在独立的强制轮换事件。
func (a *resourceAllocator) acquireDomain(ctx context.Context, req AcquireRequest) (string, error) {
	switch req.Tier {
	case missionModel.TierCustom:
		return a.pickFromTier(ctx, missionModel.TierCustom, req.AllowWarming)
	case missionModel.TierPrewarmed:
		return a.pickFromTier(ctx, missionModel.TierPrewarmed, req.AllowWarming)
	}

	// 未指定层级: dedicated → custom → pre_warmed
	if req.CampaignID != "" {
		dedicated, err := a.domainRepo.GetDedicated(ctx, req.CampaignID)
		if err != nil {
			return "", err
		}
		if dedicated != nil && a.passesFloor(dedicated, req.AllowWarming) {
			return dedicated.Name, nil
		}
	}

	if name, err := a.pickFromTier(ctx, missionModel.TierCustom, req.AllowWarming); err == nil {
		return name, nil
	} else if err != ErrNoEligibleDomain {
		return "", err
	}
	return a.pickFromTier(ctx, missionModel.TierPrewarmed, req.AllowWarming)
}

// pickFromTier 在指定层级内选取一个达标域名
// 达标者之间轮询(round-robin)以分散声誉风险；游标跨调用持久
func (a *resourceAllocator) pickFromTier(ctx context.Context, tier missionModel.DomainTier, allowWarming bool) (string, error) {
	domains, err := a.domainRepo.ListByTier(ctx, tier)
	if err != nil {
		return "", err
	}

	eligible := make([]*missionModel.SendingDomain, 0, len(domains))
	for _, d := range domains {
		if a.passesFloor(d, allowWarming) {
			eligible = append(eligible, d)
		}
	}
	if len(eligible) == 0 {
		return "", ErrNoEligibleDomain
	}

	a.mu.Lock()
	cursor := a.cursors[tier]
	a.cursors[tier] = cursor + 1
	a.mu.Unlock()

	return eligible[cursor%len(eligible)].Name, nil
}

// passesFloor 选取时的资格判定
// 声誉必须超过所属层级的门槛；warming 状态的域名只有预热类任务可以选取
func (a *resourceAllocator) passesFloor(d *missionModel.SendingDomain, allowWarming bool) bool {
	if d.Status == missionModel.DomainRetired {
		return false
	}
	if d.Status == missionModel.DomainWarming && !allowWarming {
		return false
	}
	return d.Reputation >= a.tierFloor(d.Tier)
}

// tierFloor 返回层级声誉门槛
func (a *resourceAllocator) tierFloor(tier missionModel.DomainTier) float64 {
	if tier == missionModel.TierPrewarmed {
		return a.cfg.Domains.PrewarmedFloor
	}
	return a.cfg.Domains.CustomFloor
}

// SelectionFacts 汇总域名池现状，供决策引擎构造 DOMAIN_SELECTION 上下文
func (a *resourceAllocator) SelectionFacts(ctx context.Context, campaignID string) (*SelectionFacts, error) {
	facts := &SelectionFacts{}

	if campaignID != "" {
		dedicated, err := a.domainRepo.GetDedicated(ctx, campaignID)
		if err != nil {
			return nil, err
		}
		if dedicated != nil && a.passesFloor(dedicated, false) {
			facts.DedicatedDomain = dedicated.Name
		}
	}

	for _, tier := range []missionModel.DomainTier{missionModel.TierCustom, missionModel.TierPrewarmed} {
		domains, err := a.domainRepo.ListByTier(ctx, tier)
		if err != nil {
			return nil, err
		}
		count := 0
		for _, d := range domains {
			if a.passesFloor(d, false) {
				count++
			}
		}
		if tier == missionModel.TierCustom {
			facts.CustomEligible = count
		} else {
			facts.PrewarmedEligible = count
		}
	}
	return facts, nil
}
