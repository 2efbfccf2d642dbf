package cmd

import (
	"context"
	"fmt"
	"log"

	"groupfm/cache"
	"groupfm/config"
	"groupfm/core/charts"
	"groupfm/core/records"
	"groupfm/db"
	"groupfm/lastfm"
	"groupfm/logger"
	"groupfm/model"
	"groupfm/repository"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	generateGroupID int64
	generateWeeks   int
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Run chart generation for a group synchronously",
	Long: `Run chart generation for a single group in the foreground instead of
through the background worker. Records are recalculated inline once the
charts finish. Intended for operators backfilling a group or debugging a
failed run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if generateGroupID <= 0 {
			return fmt.Errorf("--group is required")
		}

		cfg := config.Load()
		logger.InitLogger(logger.Config{Level: logger.InfoLevel})

		if err := db.ConnectDB(cfg); err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.DB.Close()

		if err := db.ConnectGormDB(cfg); err != nil {
			return fmt.Errorf("connect database with GORM: %w", err)
		}
		defer db.CloseGormDB()

		if err := db.InitDB(); err != nil {
			return fmt.Errorf("initialize database: %w", err)
		}
		if err := db.AutoMigrateModels(&model.GroupRecords{}); err != nil {
			return fmt.Errorf("migrate records model: %w", err)
		}

		if err := cache.ConnectRedis(cfg); err != nil {
			return fmt.Errorf("connect Redis: %w", err)
		}
		defer cache.CloseRedis()

		groupRepo := repository.NewMySQLGroupRepository(db.DB)
		chartRepo := repository.NewMySQLChartRepository(db.DB)
		statsRepo := repository.NewMySQLStatsRepository(db.DB)
		recordsRepo := repository.NewGormRecordsRepository(db.GormDB)

		recordsSvc := records.NewService(recordsRepo, chartRepo, cfg.RecordsRetryCoolDown)
		locks := charts.NewLockManager(groupRepo, cfg.GenerationLockTimeout)

		orch := charts.NewOrchestrator(charts.OrchestratorParams{
			Groups:         groupRepo,
			Charts:         chartRepo,
			Stats:          statsRepo,
			Generator:      charts.NewGenerator(lastfm.NewClient(cfg)),
			Trends:         charts.NewTrendCalculator(chartRepo),
			Locks:          locks,
			Invalidator:    cache.NewEntryStatsCache(cache.RedisClient),
			Records:        syncRecordsTrigger{svc: recordsSvc},
			InterWeekDelay: cfg.InterWeekDelay,
			DefaultWeeks:   cfg.DefaultWeeks,
			MaxWeeks:       cfg.MaxWeeks,
		})

		acquired, err := locks.Acquire(generateGroupID)
		if err != nil {
			return fmt.Errorf("acquire generation lock: %w", err)
		}
		if !acquired {
			return fmt.Errorf("generation already in progress for group %d", generateGroupID)
		}

		runID := uuid.NewString()
		log.Printf("Starting generation run %s for group %d", runID, generateGroupID)

		report, err := orch.Run(cmd.Context(), generateGroupID, generateWeeks, runID)
		if err != nil {
			return fmt.Errorf("generation run %s: %w", runID, err)
		}

		log.Printf("Run %s finished: %d weeks generated, %d members failed",
			runID, report.WeeksGenerated, len(report.FailedUsers))
		return nil
	},
}

// syncRecordsTrigger runs the records calculation inline instead of enqueuing
// it, so the CLI finishes with records already up to date.
type syncRecordsTrigger struct {
	svc *records.Service
}

func (t syncRecordsTrigger) TriggerRecords(ctx context.Context, req records.CalculationRequest) error {
	return t.svc.Run(ctx, req)
}

func init() {
	generateCmd.Flags().Int64Var(&generateGroupID, "group", 0, "group ID to generate charts for")
	generateCmd.Flags().IntVar(&generateWeeks, "weeks", 0, "number of weeks to regenerate (0 = catch up from the last chart)")
	rootCmd.AddCommand(generateCmd)
}
