/**
 * 任务仓库层:发信域名数据访问
 * @description: SendingDomain 数据交互层
 * @note: 声誉读数在"选取时"生效，仓库只提供按层级的候选查询，门槛判定在 Allocator
 */
package mission

import (
	"context"
	"errors"

	missionModel "reachmaster/internal/model/mission"

	"gorm.io/gorm"
)

// DomainRepository 发信域名仓库接口
type DomainRepository interface {
	CreateDomain(ctx context.Context, d *missionModel.SendingDomain) error
	GetDomainByName(ctx context.Context, name string) (*missionModel.SendingDomain, error)
	// ListByTier 按层级列出未退役域名，按名称排序保证轮询顺序稳定
	ListByTier(ctx context.Context, tier missionModel.DomainTier) ([]*missionModel.SendingDomain, error)
	// GetDedicated 获取 Campaign 专属域名
	GetDedicated(ctx context.Context, campaignID string) (*missionModel.SendingDomain, error)
	// UpdateHealth 更新声誉相关字段(reputation/sub_floor_streak/status/warmup_day)
	UpdateHealth(ctx context.Context, name string, updates map[string]interface{}) error
}

type domainRepository struct {
	db *gorm.DB
}

// NewDomainRepository 创建发信域名仓库实例
func NewDomainRepository(db *gorm.DB) DomainRepository {
	return &domainRepository{
		db: db,
	}
}

// CreateDomain 创建域名记录(由外部供给流程调用)
func (r *domainRepository) CreateDomain(ctx context.Context, d *missionModel.SendingDomain) error {
	return r.db.WithContext(ctx).Create(d).Error
}

// GetDomainByName 获取指定域名
func (r *domainRepository) GetDomainByName(ctx context.Context, name string) (*missionModel.SendingDomain, error) {
	var d missionModel.SendingDomain
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

// ListByTier 按层级列出未退役的共享域名
func (r *domainRepository) ListByTier(ctx context.Context, tier missionModel.DomainTier) ([]*missionModel.SendingDomain, error) {
	var domains []*missionModel.SendingDomain
	err := r.db.WithContext(ctx).
		Where("tier = ?", tier).
		Where("status <> ?", missionModel.DomainRetired).
		Where("campaign_id = ''").
		Order("name asc").
		Find(&domains).Error
	return domains, err
}

// GetDedicated 获取 Campaign 专属域名
func (r *domainRepository) GetDedicated(ctx context.Context, campaignID string) (*missionModel.SendingDomain, error) {
	if campaignID == "" {
		return nil, nil
	}
	var d missionModel.SendingDomain
	err := r.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Where("status <> ?", missionModel.DomainRetired).
		First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

// UpdateHealth 更新声誉相关字段
func (r *domainRepository) UpdateHealth(ctx context.Context, name string, updates map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&missionModel.SendingDomain{}).
		Where("name = ?", name).
		Updates(updates).Error
}
