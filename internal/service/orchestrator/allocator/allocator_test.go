package allocator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
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
	"reachmaster/internal/service/orchestrator/eventbus"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&missionModel.SendingDomain{},
		&missionModel.ResourceLease{},
	))
	return db
}

func testConfig() config.OrchestratorConfig {
	return config.OrchestratorConfig{
		Crews: config.CrewsConfig{
			DefaultMaxSlots: 3,
			MaxSlots:        map[string]int{"crew-big": 5},
		},
		Domains: config.DomainPoolConfig{
			CustomFloor:    0.7,
			PrewarmedFloor: 0.8,
			LeaseTTL:       30 * time.Minute,
		},
		Quotas: map[string]config.QuotaConfig{
			"email": {Capacity: 2, RefillAmount: 2, RefillCron: "@every 1m"},
		},
	}
}

func newTestAllocator(t *testing.T) (*resourceAllocator, *gorm.DB, *eventbus.Hub) {
	t.Helper()
	db := newTestDB(t)
	hub := eventbus.NewHub(64)
	a := NewResourceAllocator(
		testConfig(),
		missionRepo.NewDomainRepository(db),
		missionRepo.NewLeaseRepository(db),
		hub,
	).(*resourceAllocator)
	return a, db, hub
}

func seedDomain(t *testing.T, db *gorm.DB, name string, tier missionModel.DomainTier, rep float64, status missionModel.DomainStatus, campaignID string) {
	t.Helper()
	require.NoError(t, db.Create(&missionModel.SendingDomain{
		Name:       name,
		Tier:       tier,
		Reputation: rep,
		Status:     status,
		CampaignID: campaignID,
	}).Error)
}

func TestAcquireSlotRespectsCap(t *testing.T) {
	a, _, _ := newTestAllocator(t)
	ctx := context.Background()

	leases := make([]*missionModel.ResourceLease, 0, 3)
	for i := 0; i < 3; i++ {
		lease, err := a.Acquire(ctx, AcquireRequest{
			Kind:      missionModel.LeaseAgentSlot,
			MissionID: "m1",
			CrewID:    "crew-a",
		})
		require.NoError(t, err)
		leases = append(leases, lease)
	}

	// 第4个申请立即被拒，不阻塞
	_, err := a.Acquire(ctx, AcquireRequest{
		Kind:      missionModel.LeaseAgentSlot,
		MissionID: "m2",
		CrewID:    "crew-a",
	})
	assert.ErrorIs(t, err, ErrSlotsExhausted)

	// 释放一个槽位后恢复可用
	a.Release(ctx, leases[0].LeaseID)
	_, err = a.Acquire(ctx, AcquireRequest{
		Kind:      missionModel.LeaseAgentSlot,
		MissionID: "m2",
		CrewID:    "crew-a",
	})
	assert.NoError(t, err)
}

// 场景: 多 goroutine 并发抢占/释放同一 Crew 的槽位，任意时刻占用数不超过上限
func TestAcquireSlotCapUnderConcurrency(t *testing.T) {
	a, _, _ := newTestAllocator(t)
	ctx := context.Background()
	const maxSlots = 3 // 与 testConfig 的 DefaultMaxSlots 一致

	var held int32
	var exceeded int32
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				lease, err := a.Acquire(ctx, AcquireRequest{
					Kind:      missionModel.LeaseAgentSlot,
					MissionID: fmt.Sprintf("m-%d-%d", worker, i),
					CrewID:    "crew-a",
				})
				if err != nil {
					assert.ErrorIs(t, err, ErrSlotsExhausted)
					continue
				}
				if atomic.AddInt32(&held, 1) > maxSlots {
					atomic.StoreInt32(&exceeded, 1)
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&held, -1)
				a.Release(ctx, lease.LeaseID)
			}
		}(g)
	}
	wg.Wait()

	assert.Zero(t, atomic.LoadInt32(&exceeded), "concurrent slot holds exceeded the cap")
	snap, err := a.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Crews["crew-a"].UsedSlots)
}

func TestAcquireSlotPerCrewOverride(t *testing.T) {
	a, _, _ := newTestAllocator(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := a.Acquire(ctx, AcquireRequest{
			Kind:      missionModel.LeaseAgentSlot,
			MissionID: "m1",
			CrewID:    "crew-big",
		})
		require.NoError(t, err)
	}
	_, err := a.Acquire(ctx, AcquireRequest{
		Kind:      missionModel.LeaseAgentSlot,
		MissionID: "m1",
		CrewID:    "crew-big",
	})
	assert.ErrorIs(t, err, ErrSlotsExhausted)
}

func TestReleaseIsIdempotent(t *testing.T) {
	a, _, _ := newTestAllocator(t)
	ctx := context.Background()

	lease, err := a.Acquire(ctx, AcquireRequest{
		Kind:      missionModel.LeaseAgentSlot,
		MissionID: "m1",
		CrewID:    "crew-a",
	})
	require.NoError(t, err)

	// 恢复循环与正常收尾可能重复释放同一租约
	a.Release(ctx, lease.LeaseID)
	a.Release(ctx, lease.LeaseID)
	a.Release(ctx, "unknown-lease-id")

	// 池状态必须与单次释放完全一致: 仍然只有3个槽位可用
	granted := 0
	for i := 0; i < 4; i++ {
		if _, err := a.Acquire(ctx, AcquireRequest{
			Kind:      missionModel.LeaseAgentSlot,
			MissionID: "m2",
			CrewID:    "crew-a",
		}); err == nil {
			granted++
		}
	}
	assert.Equal(t, 3, granted)
}

func TestDomainTierPreference(t *testing.T) {
	a, db, _ := newTestAllocator(t)
	ctx := context.Background()

	seedDomain(t, db, "dedicated.example.com", missionModel.TierCustom, 0.9, missionModel.DomainActive, "camp-1")
	seedDomain(t, db, "custom.example.com", missionModel.TierCustom, 0.9, missionModel.DomainActive, "")
	seedDomain(t, db, "warm.example.com", missionModel.TierPrewarmed, 0.9, missionModel.DomainActive, "")

	// Campaign 专属域名优先
	lease, err := a.Acquire(ctx, AcquireRequest{
		Kind:       missionModel.LeaseDomain,
		MissionID:  "m1",
		CampaignID: "camp-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "dedicated.example.com", lease.ResourceID)

	// 无专属时先选 custom 池
	lease, err = a.Acquire(ctx, AcquireRequest{
		Kind:      missionModel.LeaseDomain,
		MissionID: "m2",
	})
	require.NoError(t, err)
	assert.Equal(t, "custom.example.com", lease.ResourceID)
}

func TestDomainReputationFloor(t *testing.T) {
	a, db, _ := newTestAllocator(t)
	ctx := context.Background()

	// custom 池门槛 0.7: 0.65 的域名在选取时被排除
	seedDomain(t, db, "lowrep.example.com", missionModel.TierCustom, 0.65, missionModel.DomainActive, "")
	seedDomain(t, db, "warm.example.com", missionModel.TierPrewarmed, 0.85, missionModel.DomainActive, "")

	lease, err := a.Acquire(ctx, AcquireRequest{
		Kind:      missionModel.LeaseDomain,
		MissionID: "m1",
	})
	require.NoError(t, err)
	assert.Equal(t, "warm.example.com", lease.ResourceID)
}

func TestDomainWarmingOnlyForWarmup(t *testing.T) {
	a, db, _ := newTestAllocator(t)
	ctx := context.Background()

	seedDomain(t, db, "warming.example.com", missionModel.TierCustom, 0.9, missionModel.DomainWarming, "")

	_, err := a.Acquire(ctx, AcquireRequest{
		Kind:      missionModel.LeaseDomain,
		MissionID: "m1",
	})
	assert.ErrorIs(t, err, ErrNoEligibleDomain)

	lease, err := a.Acquire(ctx, AcquireRequest{
		Kind:         missionModel.LeaseDomain,
		MissionID:    "m2",
		Tier:         missionModel.TierCustom,
		AllowWarming: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "warming.example.com", lease.ResourceID)
}

func TestDomainRoundRobinWithinTier(t *testing.T) {
	a, db, _ := newTestAllocator(t)
	ctx := context.Background()

	seedDomain(t, db, "a.example.com", missionModel.TierCustom, 0.9, missionModel.DomainActive, "")
	seedDomain(t, db, "b.example.com", missionModel.TierCustom, 0.9, missionModel.DomainActive, "")

	picked := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		lease, err := a.Acquire(ctx, AcquireRequest{
			Kind:      missionModel.LeaseDomain,
			MissionID: "m1",
			Tier:      missionModel.TierCustom,
		})
		require.NoError(t, err)
		picked = append(picked, lease.ResourceID)
	}
	// 达标者之间轮询，游标跨调用持久
	assert.Equal(t, []string{"a.example.com", "b.example.com", "a.example.com", "b.example.com"}, picked)
}

func TestDomainPoolExhaustedPublishesEvent(t *testing.T) {
	a, db, hub := newTestAllocator(t)
	ctx := context.Background()

	// 全部域名低于门槛: 任何层级都无达标候选
	seedDomain(t, db, "bad1.example.com", missionModel.TierCustom, 0.5, missionModel.DomainActive, "")
	seedDomain(t, db, "bad2.example.com", missionModel.TierPrewarmed, 0.6, missionModel.DomainActive, "")

	events, unsub := hub.Subscribe()
	defer unsub()

	_, err := a.Acquire(ctx, AcquireRequest{
		Kind:      missionModel.LeaseDomain,
		MissionID: "m1",
	})
	assert.ErrorIs(t, err, ErrNoEligibleDomain)

	select {
	case ev := <-events:
		assert.Equal(t, eventbus.TopicPoolExhausted, ev.Topic)
		assert.Equal(t, "m1", ev.Payload["mission_id"])
	case <-time.After(time.Second):
		t.Fatal("expected poolExhausted event")
	}
}

func TestQuotaTokenBucket(t *testing.T) {
	a, _, _ := newTestAllocator(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := a.Acquire(ctx, AcquireRequest{
			Kind:      missionModel.LeaseAPIQuota,
			MissionID: "m1",
			Provider:  "email",
		})
		require.NoError(t, err)
	}

	// 空桶立即 Denied
	_, err := a.Acquire(ctx, AcquireRequest{
		Kind:      missionModel.LeaseAPIQuota,
		MissionID: "m1",
		Provider:  "email",
	})
	assert.ErrorIs(t, err, ErrQuotaExhausted)

	// 令牌在发放时即被消耗，释放不返还
	a.ReleaseAllForMission(ctx, "m1")
	_, err = a.Acquire(ctx, AcquireRequest{
		Kind:      missionModel.LeaseAPIQuota,
		MissionID: "m2",
		Provider:  "email",
	})
	assert.ErrorIs(t, err, ErrQuotaExhausted)

	// 补充计划触发后恢复，且不超过容量
	a.refillQuota("email", 5)
	snap, err := a.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Quotas["email"].Tokens)
}

func TestQuotaUnknownProvider(t *testing.T) {
	a, _, _ := newTestAllocator(t)

	_, err := a.Acquire(context.Background(), AcquireRequest{
		Kind:      missionModel.LeaseAPIQuota,
		MissionID: "m1",
		Provider:  "carrier-pigeon",
	})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestExpireStaleReclaimsLeases(t *testing.T) {
	a, db, _ := newTestAllocator(t)
	a.cfg.Domains.LeaseTTL = -time.Minute // 立即过期
	ctx := context.Background()

	seedDomain(t, db, "a.example.com", missionModel.TierCustom, 0.9, missionModel.DomainActive, "")
	lease, err := a.Acquire(ctx, AcquireRequest{
		Kind:      missionModel.LeaseDomain,
		MissionID: "m1",
		Tier:      missionModel.TierCustom,
	})
	require.NoError(t, err)

	a.expireStale()

	var stored missionModel.ResourceLease
	require.NoError(t, db.Where("lease_id = ?", lease.LeaseID).First(&stored).Error)
	assert.Equal(t, missionModel.LeaseExpired, stored.Status)
}

func TestSnapshotReflectsUtilization(t *testing.T) {
	a, db, _ := newTestAllocator(t)
	ctx := context.Background()

	seedDomain(t, db, "a.example.com", missionModel.TierCustom, 0.9, missionModel.DomainActive, "")

	_, err := a.Acquire(ctx, AcquireRequest{
		Kind:      missionModel.LeaseAgentSlot,
		MissionID: "m1",
		CrewID:    "crew-a",
	})
	require.NoError(t, err)
	_, err = a.Acquire(ctx, AcquireRequest{
		Kind:      missionModel.LeaseDomain,
		MissionID: "m1",
		Tier:      missionModel.TierCustom,
	})
	require.NoError(t, err)

	snap, err := a.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Crews["crew-a"].MaxSlots)
	assert.Equal(t, 1, snap.Crews["crew-a"].UsedSlots)
	assert.Equal(t, 1, snap.Domains.CustomEligible)
	assert.Equal(t, 1, snap.Domains.ActiveLeases)
}
