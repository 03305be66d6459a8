// Package state persists deployment runs and their audit trail.
package state

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/alvesdmateus/deploy-engine/pkg/database"
)

// Run statuses. A run is QUEUED when accepted, RUNNING while the pipeline
// executes, and ends in exactly one of the three terminal statuses.
const (
	RunStatusQueued                = "QUEUED"
	RunStatusRunning               = "RUNNING"
	RunStatusSucceeded             = "SUCCEEDED"
	RunStatusSucceededWithWarnings = "SUCCEEDED_WITH_WARNINGS"
	RunStatusFailed                = "FAILED"
)

// Stage statuses for audit trail entries.
const (
	StageStatusSucceeded = "SUCCEEDED"
	StageStatusFailed    = "FAILED"
)

// Run is a single pipeline invocation from request to terminal status.
type Run struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	AppName   string    `gorm:"not null;index:idx_runs_app" json:"app_name"`
	Version   string    `gorm:"not null" json:"version"`
	Action    string    `gorm:"not null" json:"action"`
	Provider  string    `json:"provider"`
	Region    string    `json:"region"`
	Registry  string    `json:"registry"`
	Workspace string    `json:"workspace"`
	Status    string    `gorm:"not null;index:idx_runs_status" json:"status"`

	FailedStage  string `json:"failed_stage,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	Warnings     string `json:"warnings,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	Stages []StageRecord `gorm:"foreignKey:RunID" json:"stages,omitempty"`
	Image  *ImageRecord  `gorm:"foreignKey:RunID" json:"image,omitempty"`
}

// StageRecord is one audit trail entry for a pipeline stage that ran.
type StageRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	RunID      uuid.UUID `gorm:"type:uuid;not null;index:idx_stage_records_run" json:"run_id"`
	Stage      string    `gorm:"not null" json:"stage"`
	Status     string    `gorm:"not null" json:"status"`
	Detail     string    `json:"detail,omitempty"`
	Output     string    `json:"output,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// ImageRecord is the durable record of a published image. Downstream
// tooling reads it to locate the image without re-running the pipeline.
type ImageRecord struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	RunID     uuid.UUID `gorm:"type:uuid;not null;index:idx_image_records_run" json:"run_id"`
	AppName   string    `gorm:"not null;index:idx_image_records_app" json:"app_name"`
	Version   string    `gorm:"not null" json:"version"`
	Registry  string    `gorm:"not null" json:"registry"`
	ImageURI  string    `gorm:"not null" json:"image_uri"`
	AccountID string    `json:"account_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Values returns the record as key/value pairs for downstream consumers.
func (r *ImageRecord) Values() map[string]string {
	values := map[string]string{
		"IMAGE_URI": r.ImageURI,
	}
	if r.AccountID != "" {
		values["ACCOUNT_ID"] = r.AccountID
	}
	return values
}

// Terminal reports whether the status is one of the three final statuses.
func Terminal(status string) bool {
	switch status {
	case RunStatusSucceeded, RunStatusSucceededWithWarnings, RunStatusFailed:
		return true
	}
	return false
}

// AutoMigrate creates or updates the schema for all run records.
func AutoMigrate(db *gorm.DB) error {
	return database.Migrate(db,
		&Run{},
		&StageRecord{},
		&ImageRecord{},
	)
}
