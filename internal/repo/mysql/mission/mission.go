/**
 * 任务仓库层:外联任务数据访问
 * @description: Mission 数据交互层(单纯数据访问,不包含业务逻辑)
 * @note: 状态迁移一律使用带前置状态的 CAS 更新，供调度循环并发安全地抢占任务
 */
package mission

import (
	"context"
	"errors"
	"time"

	missionModel "reachmaster/internal/model/mission"

	"gorm.io/gorm"
)

// MissionRepository 任务仓库接口
type MissionRepository interface {
	CreateMission(ctx context.Context, m *missionModel.Mission) error
	GetMissionByID(ctx context.Context, missionID string) (*missionModel.Mission, error)
	// GetDispatchable 获取可调度任务: queued 且退避时间已到，按优先级降序、创建时间升序
	GetDispatchable(ctx context.Context, now time.Time, limit int) ([]*missionModel.Mission, error)
	// TransitionStatus 带前置状态的CAS状态迁移，返回是否成功抢占
	TransitionStatus(ctx context.Context, missionID string, from, to missionModel.MissionStatus, updates map[string]interface{}) (bool, error)
	// UpdateProgress 更新进度时间戳(仅 running 状态)
	UpdateProgress(ctx context.Context, missionID string, at time.Time) error
	// GetStaleRunning 获取进度停滞的 running 任务(last_progress_at 早于 cutoff)
	GetStaleRunning(ctx context.Context, cutoff time.Time) ([]*missionModel.Mission, error)
	// GetRetryDue 获取退避时间已到的 retry_pending 任务
	GetRetryDue(ctx context.Context, now time.Time, limit int) ([]*missionModel.Mission, error)
	CountByStatus(ctx context.Context, status missionModel.MissionStatus) (int64, error)
}

type missionRepository struct {
	db *gorm.DB
}

// NewMissionRepository 创建任务仓库实例
func NewMissionRepository(db *gorm.DB) MissionRepository {
	return &missionRepository{
		db: db,
	}
}

// CreateMission 创建任务
func (r *missionRepository) CreateMission(ctx context.Context, m *missionModel.Mission) error {
	return r.db.WithContext(ctx).Create(m).Error
}

// GetMissionByID 获取指定任务
func (r *missionRepository) GetMissionByID(ctx context.Context, missionID string) (*missionModel.Mission, error) {
	var m missionModel.Mission
	err := r.db.WithContext(ctx).Where("mission_id = ?", missionID).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// GetDispatchable 获取可调度任务
func (r *missionRepository) GetDispatchable(ctx context.Context, now time.Time, limit int) ([]*missionModel.Mission, error) {
	var missions []*missionModel.Mission
	err := r.db.WithContext(ctx).
		Where("status = ?", missionModel.StatusQueued).
		Where("next_attempt_at IS NULL OR next_attempt_at <= ?", now).
		Order("priority desc, created_at asc").
		Limit(limit).
		Find(&missions).Error
	return missions, err
}

// TransitionStatus 带前置状态的CAS状态迁移
// UPDATE missions SET status = to, ... WHERE mission_id = ? AND status = from
// RowsAffected == 0 表示任务已被其他循环抢占或状态已变，调用方放弃本次迁移
func (r *missionRepository) TransitionStatus(ctx context.Context, missionID string, from, to missionModel.MissionStatus, updates map[string]interface{}) (bool, error) {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = to

	result := r.db.WithContext(ctx).Model(&missionModel.Mission{}).
		Where("mission_id = ? AND status = ?", missionID, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// UpdateProgress 更新进度时间戳
func (r *missionRepository) UpdateProgress(ctx context.Context, missionID string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&missionModel.Mission{}).
		Where("mission_id = ? AND status = ?", missionID, missionModel.StatusRunning).
		Update("last_progress_at", at).Error
}

// GetStaleRunning 获取进度停滞的 running 任务
func (r *missionRepository) GetStaleRunning(ctx context.Context, cutoff time.Time) ([]*missionModel.Mission, error) {
	var missions []*missionModel.Mission
	err := r.db.WithContext(ctx).
		Where("status = ?", missionModel.StatusRunning).
		Where("last_progress_at IS NOT NULL AND last_progress_at < ?", cutoff).
		Find(&missions).Error
	return missions, err
}

// GetRetryDue 获取退避时间已到的 retry_pending 任务
func (r *missionRepository) GetRetryDue(ctx context.Context, now time.Time, limit int) ([]*missionModel.Mission, error) {
	var missions []*missionModel.Mission
	err := r.db.WithContext(ctx).
		Where("status = ?", missionModel.StatusRetryPending).
		Where("next_attempt_at IS NOT NULL AND next_attempt_at <= ?", now).
		Order("priority desc, created_at asc").
		Limit(limit).
		Find(&missions).Error
	return missions, err
}

// CountByStatus 按状态统计任务数
func (r *missionRepository) CountByStatus(ctx context.Context, status missionModel.MissionStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&missionModel.Mission{}).
		Where("status = ?", status).
		Count(&count).Error
	return count, err
}
