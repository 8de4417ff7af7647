package models

import "time"

// SourceState tracks fetch health and blocking state for one listing source
type SourceState struct {
	Source        string     `gorm:"type:varchar(50);primaryKey" json:"source"`
	IsBlocked     bool       `gorm:"not null;default:false" json:"is_blocked"`
	BlockedUntil  *time.Time `gorm:"index" json:"blocked_until,omitempty"`
	BlockedReason string     `gorm:"type:text" json:"blocked_reason,omitempty"`
	LastAttempt   time.Time  `gorm:"not null" json:"last_attempt"`
	LastSuccess   *time.Time `json:"last_success,omitempty"`
	FailureCount  int        `gorm:"not null;default:0" json:"failure_count"`
	SuccessCount  int        `gorm:"not null;default:0" json:"success_count"`
	LastFetched   int        `gorm:"not null;default:0" json:"last_fetched"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name
func (SourceState) TableName() string {
	return "source_states"
}

// CanFetch checks if the source may be fetched at now (not blocked, or the
// cooling period is over)
func (s *SourceState) CanFetch(now time.Time) bool {
	if !s.IsBlocked {
		return true
	}
	if s.BlockedUntil == nil {
		return false
	}
	return now.After(*s.BlockedUntil)
}

// SetBlocked marks the source as blocked with a cooling period
func (s *SourceState) SetBlocked(reason string, coolingPeriod time.Duration, now time.Time) {
	s.IsBlocked = true
	s.BlockedReason = reason
	blockedUntil := now.Add(coolingPeriod)
	s.BlockedUntil = &blockedUntil
	s.LastAttempt = now
}

// ClearBlock clears the blocked state
func (s *SourceState) ClearBlock() {
	s.IsBlocked = false
	s.BlockedUntil = nil
	s.BlockedReason = ""
}

// RecordSuccess records a successful fetch of fetched candidates
func (s *SourceState) RecordSuccess(fetched int, now time.Time) {
	s.SuccessCount++
	s.FailureCount = 0 // consecutive failures only
	s.LastFetched = fetched
	s.LastSuccess = &now
	s.LastAttempt = now
	s.ClearBlock()
}

// RecordFailure records a failed fetch
func (s *SourceState) RecordFailure(now time.Time) {
	s.FailureCount++
	s.LastAttempt = now
}
