package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrRunNotFound is returned when a run lookup matches no record.
var ErrRunNotFound = errors.New("run not found")

// Repository provides data access for runs and their related records.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository backed by the given database.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CreateRun persists a new run. The ID is assigned here when unset so
// callers can hand out the identifier before the pipeline starts.
func (r *Repository) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Status == "" {
		run.Status = RunStatusQueued
	}
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// SaveRun upserts a run by primary key.
func (r *Repository) SaveRun(ctx context.Context, run *Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Save(run).Error; err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// RunExists reports whether a run with the given id has been persisted.
func (r *Repository) RunExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&Run{}).
		Where("id = ?", id).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check run existence: %w", err)
	}
	return count > 0, nil
}

// GetRun retrieves a run with its stage records and image record.
func (r *Repository) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	var run Run
	err := r.db.WithContext(ctx).
		Preload("Stages", func(db *gorm.DB) *gorm.DB {
			return db.Order("started_at ASC")
		}).
		Preload("Image").
		First(&run, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// ListRuns retrieves runs ordered by creation time, newest first.
func (r *Repository) ListRuns(ctx context.Context, limit, offset int) ([]Run, error) {
	var runs []Run
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// ListRunsByApp retrieves runs for one application, newest first.
func (r *Repository) ListRunsByApp(ctx context.Context, appName string, limit, offset int) ([]Run, error) {
	var runs []Run
	err := r.db.WithContext(ctx).
		Where("app_name = ?", appName).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list runs for app %s: %w", appName, err)
	}
	return runs, nil
}

// MarkRunStarted transitions a run to RUNNING and stamps the start time.
func (r *Repository) MarkRunStarted(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	err := r.db.WithContext(ctx).
		Model(&Run{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     RunStatusRunning,
			"started_at": now,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark run as started: %w", err)
	}
	return nil
}

// MarkRunFinished writes the terminal status and outcome fields for a run.
func (r *Repository) MarkRunFinished(ctx context.Context, id uuid.UUID, status, failedStage, errorMessage, warnings string) error {
	if !Terminal(status) {
		return fmt.Errorf("status %s is not terminal", status)
	}
	now := time.Now()
	err := r.db.WithContext(ctx).
		Model(&Run{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        status,
			"failed_stage":  failedStage,
			"error_message": errorMessage,
			"warnings":      warnings,
			"finished_at":   now,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark run as finished: %w", err)
	}
	return nil
}

// CountRunsByStatus returns the number of runs in the given status.
func (r *Repository) CountRunsByStatus(ctx context.Context, status string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&Run{}).
		Where("status = ?", status).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return count, nil
}

// CreateStageRecords appends audit trail entries for a run.
func (r *Repository) CreateStageRecords(ctx context.Context, records []StageRecord) error {
	if len(records) == 0 {
		return nil
	}
	for i := range records {
		if records[i].ID == uuid.Nil {
			records[i].ID = uuid.New()
		}
	}
	if err := r.db.WithContext(ctx).Create(&records).Error; err != nil {
		return fmt.Errorf("failed to create stage records: %w", err)
	}
	return nil
}

// CreateImageRecord persists the durable record of a published image.
func (r *Repository) CreateImageRecord(ctx context.Context, record *ImageRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to create image record: %w", err)
	}
	return nil
}

// LatestImageForApp returns the most recently published image for an
// application, or nil when none has been published yet.
func (r *Repository) LatestImageForApp(ctx context.Context, appName string) (*ImageRecord, error) {
	var record ImageRecord
	err := r.db.WithContext(ctx).
		Where("app_name = ?", appName).
		Order("created_at DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest image for app %s: %w", appName, err)
	}
	return &record, nil
}
