package models

import "time"

// ScrapeRun is the audit record of one fetch-and-merge pass over all
// configured sources.
type ScrapeRun struct {
	ID           uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID        string     `gorm:"type:varchar(36);not null;uniqueIndex" json:"run_id"`
	Trigger      string     `gorm:"type:varchar(20);not null" json:"trigger"` // schedule, manual, api
	StartedAt    time.Time  `gorm:"not null;index:idx_scrape_runs_started,sort:desc" json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Candidates   int        `gorm:"not null;default:0" json:"candidates"`
	Inserted     int        `gorm:"not null;default:0" json:"inserted"`
	PriceChanges int        `gorm:"not null;default:0" json:"price_changes"`
	Unchanged    int        `gorm:"not null;default:0" json:"unchanged"`
	Rejected     int        `gorm:"not null;default:0" json:"rejected"`
	Failed       int        `gorm:"not null;default:0" json:"failed"`
	SourceErrors string     `gorm:"type:text" json:"source_errors,omitempty"`
}

// TableName specifies the table name
func (ScrapeRun) TableName() string {
	return "scrape_runs"
}

// Trigger constants
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
	TriggerAPI      = "api"
)
