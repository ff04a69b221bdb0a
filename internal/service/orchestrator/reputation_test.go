package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"reachmaster/internal/config"
	missionModel "reachmaster/internal/model/mission"
	missionRepo "reachmaster/internal/repo/mysql/mission"
)

func newReputationHarness(t *testing.T) (ReputationService, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&missionModel.SendingDomain{}))

	cfg := config.DomainPoolConfig{
		CustomFloor:     0.7,
		PrewarmedFloor:  0.8,
		RetireStreak:    3,
		ReputationAlpha: 0.2,
		LeaseTTL:        30 * time.Minute,
	}
	return NewReputationService(cfg, missionRepo.NewDomainRepository(db)), db
}

func seedReputationDomain(t *testing.T, db *gorm.DB, d missionModel.SendingDomain) {
	t.Helper()
	require.NoError(t, db.Create(&d).Error)
}

func loadDomain(t *testing.T, db *gorm.DB, name string) *missionModel.SendingDomain {
	t.Helper()
	var d missionModel.SendingDomain
	require.NoError(t, db.Where("name = ?", name).First(&d).Error)
	return &d
}

func TestApplyOutcomeEWMA(t *testing.T) {
	svc, db := newReputationHarness(t)
	ctx := context.Background()
	seedReputationDomain(t, db, missionModel.SendingDomain{
		Name: "a.example.com", Tier: missionModel.TierCustom,
		Reputation: 0.8, Status: missionModel.DomainActive,
	})

	// delivered: 0.2*1.0 + 0.8*0.8 = 0.84
	require.NoError(t, svc.ApplyOutcome(ctx, "a.example.com", missionModel.OutcomeDelivered))
	assert.InDelta(t, 0.84, loadDomain(t, db, "a.example.com").Reputation, 1e-9)

	// bounce: 0.2*0.0 + 0.8*0.84 = 0.672
	require.NoError(t, svc.ApplyOutcome(ctx, "a.example.com", missionModel.OutcomeBounce))
	assert.InDelta(t, 0.672, loadDomain(t, db, "a.example.com").Reputation, 1e-9)
}

// 投诉双倍权重: 等价于连续两次 bounce 平滑
func TestApplyOutcomeComplaintDoubleWeight(t *testing.T) {
	svc, db := newReputationHarness(t)
	ctx := context.Background()
	seedReputationDomain(t, db, missionModel.SendingDomain{
		Name: "a.example.com", Tier: missionModel.TierCustom,
		Reputation: 1.0, Status: missionModel.DomainActive,
	})

	require.NoError(t, svc.ApplyOutcome(ctx, "a.example.com", missionModel.OutcomeComplaint))
	// 0.8*(0.8*1.0) = 0.64
	assert.InDelta(t, 0.64, loadDomain(t, db, "a.example.com").Reputation, 1e-9)
}

func TestApplyOutcomeCoolingDownAndRetire(t *testing.T) {
	svc, db := newReputationHarness(t)
	ctx := context.Background()
	seedReputationDomain(t, db, missionModel.SendingDomain{
		Name: "a.example.com", Tier: missionModel.TierCustom,
		Reputation: 0.71, Status: missionModel.DomainActive,
	})

	// 第一次跌破门槛 0.7 → cooling_down，连击计数 1
	require.NoError(t, svc.ApplyOutcome(ctx, "a.example.com", missionModel.OutcomeBounce))
	d := loadDomain(t, db, "a.example.com")
	assert.Equal(t, missionModel.DomainCoolingDown, d.Status)
	assert.Equal(t, 1, d.SubFloorStreak)

	// 连续跌破达到退役连击数 → retired
	require.NoError(t, svc.ApplyOutcome(ctx, "a.example.com", missionModel.OutcomeBounce))
	require.NoError(t, svc.ApplyOutcome(ctx, "a.example.com", missionModel.OutcomeBounce))
	d = loadDomain(t, db, "a.example.com")
	assert.Equal(t, missionModel.DomainRetired, d.Status)
	assert.Equal(t, 3, d.SubFloorStreak)
}

func TestApplyOutcomeRecoveryReactivates(t *testing.T) {
	svc, db := newReputationHarness(t)
	ctx := context.Background()
	seedReputationDomain(t, db, missionModel.SendingDomain{
		Name: "a.example.com", Tier: missionModel.TierCustom,
		Reputation: 0.68, Status: missionModel.DomainCoolingDown, SubFloorStreak: 2,
	})

	// 0.2*1.0 + 0.8*0.68 = 0.744 ≥ 0.7 → 恢复 active，连击清零
	require.NoError(t, svc.ApplyOutcome(ctx, "a.example.com", missionModel.OutcomeDelivered))
	d := loadDomain(t, db, "a.example.com")
	assert.Equal(t, missionModel.DomainActive, d.Status)
	assert.Equal(t, 0, d.SubFloorStreak)
	assert.InDelta(t, 0.744, d.Reputation, 1e-9)
}

func TestApplyOutcomePrewarmedUsesHigherFloor(t *testing.T) {
	svc, db := newReputationHarness(t)
	ctx := context.Background()
	seedReputationDomain(t, db, missionModel.SendingDomain{
		Name: "p.example.com", Tier: missionModel.TierPrewarmed,
		Reputation: 0.82, Status: missionModel.DomainActive,
	})

	// 0.8*0.82 = 0.656 < 0.8(pre_warmed 门槛) → cooling_down
	require.NoError(t, svc.ApplyOutcome(ctx, "p.example.com", missionModel.OutcomeBounce))
	d := loadDomain(t, db, "p.example.com")
	assert.Equal(t, missionModel.DomainCoolingDown, d.Status)
}

func TestApplyOutcomeRetiredIsNoop(t *testing.T) {
	svc, db := newReputationHarness(t)
	ctx := context.Background()
	seedReputationDomain(t, db, missionModel.SendingDomain{
		Name: "r.example.com", Tier: missionModel.TierCustom,
		Reputation: 0.3, Status: missionModel.DomainRetired, SubFloorStreak: 5,
	})

	require.NoError(t, svc.ApplyOutcome(ctx, "r.example.com", missionModel.OutcomeDelivered))
	d := loadDomain(t, db, "r.example.com")
	assert.Equal(t, missionModel.DomainRetired, d.Status)
	assert.InDelta(t, 0.3, d.Reputation, 1e-9)
}

func TestApplyOutcomeUnknownDomain(t *testing.T) {
	svc, _ := newReputationHarness(t)
	assert.Error(t, svc.ApplyOutcome(context.Background(), "nope.example.com", missionModel.OutcomeDelivered))
}
