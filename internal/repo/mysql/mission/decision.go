/**
 * 任务仓库层:决策审计记录数据访问
 * @description: DecisionRecord 只追加仓库
 * @note: 只有 Create 和 List，没有 Update/Delete —— 审计记录绝不回读进决策逻辑
 */
package mission

import (
	"context"

	missionModel "reachmaster/internal/model/mission"

	"gorm.io/gorm"
)

// DecisionRepository 决策审计记录仓库接口(只追加)
type DecisionRepository interface {
	AppendRecord(ctx context.Context, rec *missionModel.DecisionRecord) error
	// ListByMission 供审计面板按任务查询决策轨迹
	ListByMission(ctx context.Context, missionID string, limit int) ([]*missionModel.DecisionRecord, error)
	// CountByLayer 统计各层命中次数(观测降级频率)
	CountByLayer(ctx context.Context, layer missionModel.DecisionLayer) (int64, error)
}

type decisionRepository struct {
	db *gorm.DB
}

// NewDecisionRepository 创建决策审计记录仓库实例
func NewDecisionRepository(db *gorm.DB) DecisionRepository {
	return &decisionRepository{
		db: db,
	}
}

// AppendRecord 追加一条决策记录
func (r *decisionRepository) AppendRecord(ctx context.Context, rec *missionModel.DecisionRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

// ListByMission 按任务查询决策轨迹
func (r *decisionRepository) ListByMission(ctx context.Context, missionID string, limit int) ([]*missionModel.DecisionRecord, error) {
	var records []*missionModel.DecisionRecord
	err := r.db.WithContext(ctx).
		Where("mission_id = ?", missionID).
		Order("created_at desc").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// CountByLayer 统计某一层的决策次数
func (r *decisionRepository) CountByLayer(ctx context.Context, layer missionModel.DecisionLayer) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&missionModel.DecisionRecord{}).
		Where("layer = ?", layer).
		Count(&count).Error
	return count, err
}
