package services

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/justsurfingit/jobtracker/internal/errors"
	"github.com/justsurfingit/jobtracker/internal/events"
	"github.com/justsurfingit/jobtracker/internal/models"
	"github.com/justsurfingit/jobtracker/internal/telemetry"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer = telemetry.GetTracer("jobtracker/services")

// ErrJobNotFound is wrapped in the NotFound error returned for unknown ids.
var ErrJobNotFound = stderrors.New("job not found")

type JobService struct {
	DB        *gorm.DB
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewJobService(db *gorm.DB, publisher events.Publisher, logger *zap.Logger) *JobService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &JobService{
		DB:        db,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// List returns every job, most recent application first.
func (s *JobService) List(ctx context.Context) ([]models.Job, error) {
	ctx, span := tracer.Start(ctx, "JobService.List")
	defer span.End()

	jobs := []models.Job{}
	if err := s.DB.WithContext(ctx).Order("date_applied DESC").Order("id DESC").Find(&jobs).Error; err != nil {
		telemetry.RecordError(span, err)
		return nil, errors.Internal("failed to fetch jobs", err)
	}
	span.SetAttributes(telemetry.Int("jobs.count", len(jobs)))
	return jobs, nil
}

func (s *JobService) Get(ctx context.Context, id int64) (*models.Job, error) {
	var job models.Job
	err := s.DB.WithContext(ctx).First(&job, id).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.NotFound("Job not found", ErrJobNotFound)
	}
	if err != nil {
		return nil, errors.Internal("failed to fetch job", err)
	}
	return &job, nil
}

// Create stores job and returns its new id. Any id on job is ignored.
func (s *JobService) Create(ctx context.Context, job models.Job) (int64, error) {
	ctx, span := tracer.Start(ctx, "JobService.Create")
	defer span.End()

	job.ID = 0
	if err := s.DB.WithContext(ctx).Create(&job).Error; err != nil {
		telemetry.RecordError(span, err)
		return 0, errors.Internal("failed to create job", err)
	}
	span.SetAttributes(telemetry.Int64("job.id", job.ID))

	s.publish(ctx, events.Created, job.ID)
	return job.ID, nil
}

// Update replaces every user-editable field of job id.
func (s *JobService) Update(ctx context.Context, id int64, job models.Job) error {
	ctx, span := tracer.Start(ctx, "JobService.Update")
	defer span.End()
	span.SetAttributes(telemetry.Int64("job.id", id))

	existing, err := s.Get(ctx, id)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	job.ID = existing.ID
	job.CreatedAt = existing.CreatedAt
	if err := s.DB.WithContext(ctx).Save(&job).Error; err != nil {
		telemetry.RecordError(span, err)
		return errors.Internal("failed to update job", err)
	}

	s.publish(ctx, events.Updated, id)
	return nil
}

// Delete removes job id. Deleting an absent job is not an error.
func (s *JobService) Delete(ctx context.Context, id int64) error {
	ctx, span := tracer.Start(ctx, "JobService.Delete")
	defer span.End()
	span.SetAttributes(telemetry.Int64("job.id", id))

	res := s.DB.WithContext(ctx).Delete(&models.Job{}, id)
	if res.Error != nil {
		telemetry.RecordError(span, res.Error)
		return errors.Internal("failed to delete job", res.Error)
	}
	if res.RowsAffected > 0 {
		s.publish(ctx, events.Deleted, id)
	}
	return nil
}

// UpdateStatus moves job id to status and records the change as a JobEvent
// in the same transaction.
func (s *JobService) UpdateStatus(ctx context.Context, id int64, status models.Status, details string) error {
	if !status.Valid() {
		return errors.Validation(fmt.Sprintf("invalid status %q", status))
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Job{}).Where("id = ?", id).Update("status", status)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errors.NotFound("Job not found", ErrJobNotFound)
		}
		return tx.Create(&models.JobEvent{
			JobID:     id,
			EventType: "STATUS_CHANGE",
			Details:   fmt.Sprintf("status set to %s: %s", status, details),
		}).Error
	})
	if err != nil {
		if errors.IsType(err, errors.ErrTypeNotFound) {
			return err
		}
		return errors.Internal("failed to update job status", err)
	}

	s.publish(ctx, events.Updated, id)
	return nil
}

// Events returns the recorded events of job id, newest first.
func (s *JobService) Events(ctx context.Context, id int64) ([]models.JobEvent, error) {
	evs := []models.JobEvent{}
	if err := s.DB.WithContext(ctx).Where("job_id = ?", id).Order("id DESC").Find(&evs).Error; err != nil {
		return nil, errors.Internal("failed to fetch job events", err)
	}
	return evs, nil
}

// publish never fails the write that triggered it.
func (s *JobService) publish(ctx context.Context, t events.ChangeType, id int64) {
	if err := s.publisher.Publish(ctx, events.Change{Type: t, ID: id, At: s.now().UTC()}); err != nil {
		s.logger.Warn("job change not published", zap.Int64("id", id), zap.Error(err))
	}
}
