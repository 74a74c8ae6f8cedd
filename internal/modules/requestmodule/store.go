package requestmodule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mantonx/redseat/internal/database"
	"github.com/mantonx/redseat/internal/models"
)

var (
	// ErrJobNotFound is returned for unknown processing job ids
	ErrJobNotFound = errors.New("processing job not found")
	// ErrDuplicateJob is returned when the plugin job is already tracked
	ErrDuplicateJob = errors.New("processing job already tracked")
)

// Store persists processing job records
type Store interface {
	Create(ctx context.Context, job *database.RequestProcessing) error
	Get(ctx context.Context, id string) (*database.RequestProcessing, error)
	ListByLibrary(ctx context.Context, libraryID string) ([]database.RequestProcessing, error)
	// ListActive returns queued and processing jobs due for a check at now
	ListActive(ctx context.Context, libraryID string, now time.Time) ([]database.RequestProcessing, error)
	Update(ctx context.Context, job *database.RequestProcessing) error
	Delete(ctx context.Context, id string) error
}

// GormStore keeps processing jobs in the request_processings table
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// NewGormStore creates a store on db
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Create(ctx context.Context, job *database.RequestProcessing) error {
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s/%s", ErrDuplicateJob, job.PluginID, job.ProcessingID)
		}
		return fmt.Errorf("failed to create processing job: %w", err)
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, id string) (*database.RequestProcessing, error) {
	var job database.RequestProcessing
	if err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("failed to load processing job %s: %w", id, err)
	}
	return &job, nil
}

func (s *GormStore) ListByLibrary(ctx context.Context, libraryID string) ([]database.RequestProcessing, error) {
	var jobs []database.RequestProcessing
	if err := s.db.WithContext(ctx).
		Where("library_id = ?", libraryID).
		Order("added DESC").
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list processing jobs: %w", err)
	}
	return jobs, nil
}

func (s *GormStore) ListActive(ctx context.Context, libraryID string, now time.Time) ([]database.RequestProcessing, error) {
	var jobs []database.RequestProcessing
	if err := s.db.WithContext(ctx).
		Where("library_id = ?", libraryID).
		Where("status IN ?", []models.ProcessingStatus{models.ProcessingQueued, models.ProcessingActive}).
		Where("next_check IS NULL OR next_check <= ?", now).
		Order("added").
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list active processing jobs: %w", err)
	}
	return jobs, nil
}

func (s *GormStore) Update(ctx context.Context, job *database.RequestProcessing) error {
	result := s.db.WithContext(ctx).Save(job)
	if result.Error != nil {
		return fmt.Errorf("failed to update processing job %s: %w", job.ID, result.Error)
	}
	return nil
}

func (s *GormStore) Delete(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Delete(&database.RequestProcessing{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete processing job %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return nil
}
