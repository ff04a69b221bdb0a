package mission

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	missionModel "reachmaster/internal/model/mission"
	"reachmaster/internal/pkg/utils"
)

func newTestRepo(t *testing.T) MissionRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&missionModel.Mission{}))
	return NewMissionRepository(db)
}

func createMission(t *testing.T, repo MissionRepository, priority int, status missionModel.MissionStatus) *missionModel.Mission {
	t.Helper()
	m := &missionModel.Mission{
		MissionID:  utils.GenerateUUID(),
		Type:       missionModel.TypeEmailOutreach,
		Priority:   priority,
		Status:     status,
		CrewID:     "crew-a",
		MaxRetries: 3,
		Payload:    "{}",
	}
	require.NoError(t, repo.CreateMission(context.Background(), m))
	return m
}

func TestGetMissionByIDNotFound(t *testing.T) {
	repo := newTestRepo(t)
	m, err := repo.GetMissionByID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestGetDispatchableOrdering(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	low := createMission(t, repo, 0, missionModel.StatusQueued)
	high := createMission(t, repo, 10, missionModel.StatusQueued)
	createMission(t, repo, 5, missionModel.StatusRunning) // 非 queued 不参与调度

	missions, err := repo.GetDispatchable(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, missions, 2)
	assert.Equal(t, high.MissionID, missions[0].MissionID)
	assert.Equal(t, low.MissionID, missions[1].MissionID)
}

func TestGetDispatchableRespectsBackoff(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	ready := createMission(t, repo, 0, missionModel.StatusQueued)
	deferred := createMission(t, repo, 10, missionModel.StatusQueued)
	future := time.Now().Add(time.Hour)
	ok, err := repo.TransitionStatus(ctx, deferred.MissionID,
		missionModel.StatusQueued, missionModel.StatusQueued,
		map[string]interface{}{"next_attempt_at": &future})
	require.NoError(t, err)
	require.True(t, ok)

	missions, err := repo.GetDispatchable(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, missions, 1)
	assert.Equal(t, ready.MissionID, missions[0].MissionID)
}

// CAS 迁移: 前置状态不匹配时 RowsAffected 为 0，不覆盖其他字段
func TestTransitionStatusCAS(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	m := createMission(t, repo, 0, missionModel.StatusQueued)

	ok, err := repo.TransitionStatus(ctx, m.MissionID,
		missionModel.StatusQueued, missionModel.StatusAssigned,
		map[string]interface{}{"crew_id": "crew-b"})
	require.NoError(t, err)
	assert.True(t, ok)

	// 第二个竞争者以同样的前置状态抢占必然失败
	ok, err = repo.TransitionStatus(ctx, m.MissionID,
		missionModel.StatusQueued, missionModel.StatusAssigned, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := repo.GetMissionByID(ctx, m.MissionID)
	require.NoError(t, err)
	assert.Equal(t, missionModel.StatusAssigned, stored.Status)
	assert.Equal(t, "crew-b", stored.CrewID)
}

func TestUpdateProgressOnlyWhenRunning(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	m := createMission(t, repo, 0, missionModel.StatusQueued)

	require.NoError(t, repo.UpdateProgress(ctx, m.MissionID, time.Now()))
	stored, err := repo.GetMissionByID(ctx, m.MissionID)
	require.NoError(t, err)
	assert.Nil(t, stored.LastProgressAt, "queued mission must not get progress updates")

	ok, err := repo.TransitionStatus(ctx, m.MissionID,
		missionModel.StatusQueued, missionModel.StatusAssigned, nil)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = repo.TransitionStatus(ctx, m.MissionID,
		missionModel.StatusAssigned, missionModel.StatusRunning, nil)
	require.NoError(t, err)
	require.True(t, ok)

	at := time.Now()
	require.NoError(t, repo.UpdateProgress(ctx, m.MissionID, at))
	stored, err = repo.GetMissionByID(ctx, m.MissionID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastProgressAt)
}

func TestGetStaleRunning(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	stale := createMission(t, repo, 0, missionModel.StatusQueued)
	fresh := createMission(t, repo, 0, missionModel.StatusQueued)
	for _, m := range []*missionModel.Mission{stale, fresh} {
		ok, err := repo.TransitionStatus(ctx, m.MissionID,
			missionModel.StatusQueued, missionModel.StatusAssigned, nil)
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = repo.TransitionStatus(ctx, m.MissionID,
			missionModel.StatusAssigned, missionModel.StatusRunning, nil)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, repo.UpdateProgress(ctx, stale.MissionID, time.Now().Add(-3*time.Hour)))
	require.NoError(t, repo.UpdateProgress(ctx, fresh.MissionID, time.Now()))

	missions, err := repo.GetStaleRunning(ctx, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	require.Len(t, missions, 1)
	assert.Equal(t, stale.MissionID, missions[0].MissionID)
}

func TestGetRetryDue(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	due := createMission(t, repo, 0, missionModel.StatusRetryPending)
	notDue := createMission(t, repo, 0, missionModel.StatusRetryPending)
	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	ok, err := repo.TransitionStatus(ctx, due.MissionID,
		missionModel.StatusRetryPending, missionModel.StatusRetryPending,
		map[string]interface{}{"next_attempt_at": &past})
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = repo.TransitionStatus(ctx, notDue.MissionID,
		missionModel.StatusRetryPending, missionModel.StatusRetryPending,
		map[string]interface{}{"next_attempt_at": &future})
	require.NoError(t, err)
	require.True(t, ok)

	missions, err := repo.GetRetryDue(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, missions, 1)
	assert.Equal(t, due.MissionID, missions[0].MissionID)
}

func TestCountByStatus(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	createMission(t, repo, 0, missionModel.StatusQueued)
	createMission(t, repo, 0, missionModel.StatusQueued)
	createMission(t, repo, 0, missionModel.StatusCompleted)

	n, err := repo.CountByStatus(ctx, missionModel.StatusQueued)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}
