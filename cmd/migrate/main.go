/**
 * 数据库迁移工具
 * @description: 编排核心的表结构迁移与初始数据填充
 * @usage: go run main.go -env=test -seed=true -drop=false
 *   -drop    是否先删除表(危险操作，仅限开发环境)
 *   -env     环境标识 (test, dev, prod)
 *   -seed    是否填充初始域名池与示例任务
 */
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"gorm.io/gorm"

	"reachmaster/internal/config"
	missionModel "reachmaster/internal/model/mission"
	"reachmaster/internal/pkg/database"
	"reachmaster/internal/pkg/logger"
	"reachmaster/internal/pkg/utils"
)

// MigrateOptions 迁移选项配置
type MigrateOptions struct {
	Environment string // 环境标识: test, dev, prod
	SeedData    bool   // 是否填充初始数据
	DropFirst   bool   // 是否先删除表(危险操作)
}

// migrationModels 编排核心的全部持久化模型
// 删除按逆序执行以规避外键依赖
var migrationModels = []interface{}{
	&missionModel.Mission{},
	&missionModel.SendingDomain{},
	&missionModel.ResourceLease{},
	&missionModel.DecisionRecord{},
}

func main() {
	opts := parseFlags()

	cfg, err := config.LoadConfig("", opts.Environment)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if _, err := logger.InitLogger(&cfg.Log); err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}

	logger.WithFields(map[string]interface{}{
		"environment": opts.Environment,
		"seed_data":   opts.SeedData,
		"drop_first":  opts.DropFirst,
		"func_name":   "main",
	}).Info("database migration started")

	db, err := database.NewMySQLConnection(&cfg.Database.MySQL)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"error":     err.Error(),
			"func_name": "main",
		}).Fatal("failed to connect database")
	}

	if err := performMigration(db, opts); err != nil {
		logger.WithFields(map[string]interface{}{
			"error":     err.Error(),
			"func_name": "main",
		}).Fatal("database migration failed")
	}

	logger.WithFields(map[string]interface{}{
		"func_name": "main",
	}).Info("database migration completed")
}

// parseFlags 解析命令行参数
func parseFlags() *MigrateOptions {
	opts := &MigrateOptions{}

	flag.StringVar(&opts.Environment, "env", "test", "环境标识 (test, dev, prod)")
	flag.BoolVar(&opts.SeedData, "seed", true, "是否填充初始域名池与示例任务")
	flag.BoolVar(&opts.DropFirst, "drop", false, "是否先删除表(危险操作)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "ReachMaster 数据库迁移工具\n\n")
		fmt.Fprintf(os.Stderr, "用法: %s [选项]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "选项:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\n示例:\n")
		fmt.Fprintf(os.Stderr, "  %s -env=test -seed=true    # 测试环境迁移并填充数据\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -env=prod -seed=false   # 生产环境仅迁移表结构\n", os.Args[0])
	}

	flag.Parse()
	return opts
}

// performMigration 执行数据库迁移
func performMigration(db *gorm.DB, opts *MigrateOptions) error {
	if opts.DropFirst {
		if err := dropTables(db); err != nil {
			return fmt.Errorf("drop tables: %w", err)
		}
	}

	for _, model := range migrationModels {
		if err := db.AutoMigrate(model); err != nil {
			return fmt.Errorf("migrate model %T: %w", model, err)
		}
		logger.WithFields(map[string]interface{}{
			"model":     fmt.Sprintf("%T", model),
			"func_name": "performMigration",
		}).Info("model migrated")
	}

	if opts.SeedData {
		if err := seedAll(db, opts.Environment); err != nil {
			return fmt.Errorf("seed data: %w", err)
		}
	}
	return nil
}

// dropTables 删除所有表，仅用于开发环境重置
func dropTables(db *gorm.DB) error {
	logger.WithFields(map[string]interface{}{
		"func_name": "dropTables",
	}).Warn("dropping all orchestrator tables")

	for i := len(migrationModels) - 1; i >= 0; i-- {
		model := migrationModels[i]
		if err := db.Migrator().DropTable(model); err != nil {
			logger.WithFields(map[string]interface{}{
				"model":     fmt.Sprintf("%T", model),
				"error":     err.Error(),
				"func_name": "dropTables",
			}).Error("failed to drop table")
		}
	}
	return nil
}

// seedAll 填充初始数据: 域名池必备，示例任务仅限 test 环境
func seedAll(db *gorm.DB, env string) error {
	if err := seedDomainPool(db); err != nil {
		return fmt.Errorf("seed domain pool: %w", err)
	}
	if env == "test" {
		if err := seedSampleMissions(db); err != nil {
			return fmt.Errorf("seed sample missions: %w", err)
		}
	}
	return nil
}

// seedDomainPool 填充初始发信域名池
func seedDomainPool(db *gorm.DB) error {
	domains := []missionModel.SendingDomain{
		{
			Name:       "mail-a.reachmaster.io",
			Tier:       missionModel.TierPrewarmed,
			Reputation: 0.92,
			Status:     missionModel.DomainActive,
			WarmupDay:  30,
		},
		{
			Name:       "mail-b.reachmaster.io",
			Tier:       missionModel.TierPrewarmed,
			Reputation: 0.88,
			Status:     missionModel.DomainActive,
			WarmupDay:  30,
		},
		{
			Name:       "outreach.customer-demo.com",
			Tier:       missionModel.TierCustom,
			Reputation: 1.0,
			Status:     missionModel.DomainWarming,
			WarmupDay:  0,
		},
	}

	for _, d := range domains {
		if err := db.Where("name = ?", d.Name).FirstOrCreate(&d).Error; err != nil {
			return fmt.Errorf("create domain %s: %w", d.Name, err)
		}
		logger.WithFields(map[string]interface{}{
			"domain":    d.Name,
			"tier":      string(d.Tier),
			"func_name": "seedDomainPool",
		}).Info("sending domain seeded")
	}
	return nil
}

// seedSampleMissions 填充示例任务(仅 test 环境)
func seedSampleMissions(db *gorm.DB) error {
	missions := []missionModel.Mission{
		{
			MissionID:  utils.GenerateUUID(),
			Type:       missionModel.TypeEmailOutreach,
			Priority:   5,
			Status:     missionModel.StatusQueued,
			CrewID:     "crew-default",
			CampaignID: "campaign-demo",
			MaxRetries: 3,
			Payload:    `{"lead_id":"lead-001","template":"intro_v2","subject":"Quick question"}`,
		},
		{
			MissionID:  utils.GenerateUUID(),
			Type:       missionModel.TypeDomainWarmup,
			Priority:   1,
			Status:     missionModel.StatusQueued,
			CrewID:     "crew-default",
			MaxRetries: 3,
			Payload:    `{"domain":"outreach.customer-demo.com","daily_volume":20}`,
		},
		{
			MissionID:  utils.GenerateUUID(),
			Type:       missionModel.TypeReplyFollowup,
			Priority:   8,
			Status:     missionModel.StatusQueued,
			CrewID:     "crew-default",
			CampaignID: "campaign-demo",
			MaxRetries: 3,
			Payload:    `{"lead_id":"lead-002","thread_id":"thr-77","template":"followup_v1"}`,
		},
	}

	for _, m := range missions {
		if err := db.Where("mission_id = ?", m.MissionID).FirstOrCreate(&m).Error; err != nil {
			return fmt.Errorf("create mission: %w", err)
		}
	}

	logger.WithFields(map[string]interface{}{
		"count":     len(missions),
		"func_name": "seedSampleMissions",
	}).Info("sample missions seeded")
	return nil
}
