/**
 * 任务仓库层:资源租约数据访问
 * @description: ResourceLease 审计记录数据交互层
 * @note: 实时租约账本在 Allocator 内存中，这里只负责审计落库；写入失败不阻塞发放
 */
package mission

import (
	"context"
	"time"

	missionModel "reachmaster/internal/model/mission"

	"gorm.io/gorm"
)

// LeaseRepository 资源租约仓库接口
type LeaseRepository interface {
	CreateLease(ctx context.Context, lease *missionModel.ResourceLease) error
	// MarkReleased 将租约标记为 released/expired(幂等，未命中视为已处理)
	MarkReleased(ctx context.Context, leaseID string, status missionModel.LeaseStatus) error
	ListByMission(ctx context.Context, missionID string) ([]*missionModel.ResourceLease, error)
}

type leaseRepository struct {
	db *gorm.DB
}

// NewLeaseRepository 创建资源租约仓库实例
func NewLeaseRepository(db *gorm.DB) LeaseRepository {
	return &leaseRepository{
		db: db,
	}
}

// CreateLease 记录一次租约发放
func (r *leaseRepository) CreateLease(ctx context.Context, lease *missionModel.ResourceLease) error {
	return r.db.WithContext(ctx).Create(lease).Error
}

// MarkReleased 标记租约释放
func (r *leaseRepository) MarkReleased(ctx context.Context, leaseID string, status missionModel.LeaseStatus) error {
	return r.db.WithContext(ctx).Model(&missionModel.ResourceLease{}).
		Where("lease_id = ? AND status = ?", leaseID, missionModel.LeaseActive).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		}).Error
}

// ListByMission 列出任务的全部租约记录
func (r *leaseRepository) ListByMission(ctx context.Context, missionID string) ([]*missionModel.ResourceLease, error) {
	var leases []*missionModel.ResourceLease
	err := r.db.WithContext(ctx).
		Where("mission_id = ?", missionID).
		Order("created_at asc").
		Find(&leases).Error
	return leases, err
}
