package models

import (
	"time"

	"gorm.io/datatypes"
)

type JobRunOutcome string

const (
	JobRunOutcomeCompleted JobRunOutcome = "completed"
	JobRunOutcomeFailed    JobRunOutcome = "failed"
	JobRunOutcomeTimedOut  JobRunOutcome = "timed_out"
	// JobRunOutcomeSkipped means another instance held the lock. It is reported, never persisted.
	JobRunOutcomeSkipped JobRunOutcome = "skipped"
)

// JobRun is one coordinated execution of a scheduled job on one instance.
type JobRun struct {
	ID         string          `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Job        string          `gorm:"column:job;type:varchar(64);not null;index:idx_job_run_job_started,priority:1" json:"job"`
	Trigger    string          `gorm:"column:trigger_source;type:varchar(32);not null" json:"trigger"`
	Hostname   string          `gorm:"column:hostname;type:varchar(255)" json:"hostname"`
	Outcome    JobRunOutcome   `gorm:"column:outcome;type:varchar(32);not null" json:"outcome"`
	StartedAt  time.Time       `gorm:"column:started_at;not null;index:idx_job_run_job_started,priority:2,sort:desc" json:"started_at"`
	FinishedAt time.Time       `gorm:"column:finished_at" json:"finished_at"`
	DurationMS int64           `gorm:"column:duration_ms" json:"duration_ms"`
	Error      *string         `gorm:"column:error;type:text" json:"error"`
	Result     *datatypes.JSON `gorm:"column:result;type:jsonb" json:"result"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (JobRun) TableName() string { return "job_run" }
