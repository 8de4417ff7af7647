package scheduler

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"vehicle-deal-tracker/internal/config"
	"vehicle-deal-tracker/internal/models"
)

// Scheduler triggers the daily scrape run
type Scheduler struct {
	cron      *cron.Cron
	runner    *Runner
	config    *config.Config
	ctx       context.Context
	cancel    context.CancelFunc
	isRunning bool
}

// NewScheduler creates a new scheduler
func NewScheduler(runner *Runner, cfg *config.Config) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(),
		runner: runner,
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	if !s.config.Scraper.DailyRunEnabled {
		log.Println("Scheduler: Daily run is disabled in configuration")
		return nil
	}

	cronSpec, err := CronSpec(s.config.Scraper.DailyRunTime)
	if err != nil {
		return err
	}

	_, err = s.cron.AddFunc(cronSpec, func() {
		log.Println("Scheduler: Starting daily scrape run...")
		run, err := s.runner.Run(s.ctx, models.TriggerSchedule)
		if err != nil {
			log.Printf("Scheduler: Daily scrape run failed: %v", err)
			return
		}
		log.Printf("Scheduler: Daily scrape run %s completed", run.RunID)
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.isRunning = true
	log.Printf("Scheduler: Started with daily run at %s (cron: %s)", s.config.Scraper.DailyRunTime, cronSpec)

	return nil
}

// Stop stops the scheduler and abandons a scheduled run in progress
func (s *Scheduler) Stop() {
	s.cancel()
	if s.isRunning {
		<-s.cron.Stop().Done()
		s.isRunning = false
		log.Println("Scheduler: Stopped")
	}
}

// RunNow immediately executes a scrape run (manual trigger)
func (s *Scheduler) RunNow(ctx context.Context) (*models.ScrapeRun, error) {
	log.Println("Scheduler: Manual trigger - starting scrape run...")
	return s.runner.Run(ctx, models.TriggerManual)
}

// CronSpec converts "HH:MM" to a daily cron specification,
// e.g. "06:30" -> "30 6 * * *".
func CronSpec(dailyRunTime string) (string, error) {
	hour, minute, err := config.ParseDailyRunTime(dailyRunTime)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d * * *", minute, hour), nil
}
