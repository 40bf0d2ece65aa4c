// Package optimistic applies job writes to the local cache before the server
// confirms them and rolls them back when the server call fails.
package optimistic

import (
	"context"
	stderrors "errors"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/justsurfingit/jobtracker/internal/draft"
	"github.com/justsurfingit/jobtracker/internal/dtos"
	"github.com/justsurfingit/jobtracker/internal/errors"
	"github.com/justsurfingit/jobtracker/internal/models"
	"github.com/justsurfingit/jobtracker/internal/querycache"
	"github.com/justsurfingit/jobtracker/internal/telemetry"
	"go.uber.org/zap"
)

var tracer = telemetry.GetTracer("jobtracker/optimistic")

// ErrInFlight rejects a mutation on a job that already has one pending.
var ErrInFlight = stderrors.New("another change to this job is still in progress")

const (
	opCreate = "create job"
	opUpdate = "update job"
	opDelete = "delete job"
)

// JobsAPI is the subset of the API client the controller writes through.
type JobsAPI interface {
	CreateJob(ctx context.Context, job models.Job) (int64, error)
	UpdateJob(ctx context.Context, job models.Job) error
	DeleteJob(ctx context.Context, id int64) error
}

// Controller runs create, update and delete against a shared cache. Each call
// writes its prediction before the API call returns, so callers that want a
// responsive UI run it in its own goroutine.
type Controller struct {
	cache  *querycache.Cache
	api    JobsAPI
	logger *zap.Logger

	mu       sync.Mutex
	inFlight map[int64]struct{}
	tempSeq  atomic.Int64
}

func New(cache *querycache.Cache, api JobsAPI, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cache:    cache,
		api:      api,
		logger:   logger,
		inFlight: make(map[int64]struct{}),
	}
}

// InFlight reports whether a mutation on id has not settled yet. Placeholders
// of pending creates report true under their temporary id.
func (c *Controller) InFlight(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inFlight[id]
	return ok
}

func (c *Controller) acquire(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.inFlight[id]; ok {
		return false
	}
	c.inFlight[id] = struct{}{}
	return true
}

func (c *Controller) release(id int64) {
	c.mu.Lock()
	delete(c.inFlight, id)
	c.mu.Unlock()
}

// Create appends a Pending placeholder, creates the job on the server and
// swaps the placeholder for the confirmed record. The confirmed job is
// returned.
func (c *Controller) Create(ctx context.Context, job models.Job) (models.Job, error) {
	ctx, span := tracer.Start(ctx, "optimistic.create")
	defer span.End()

	if err := draft.Validate(job); err != nil {
		return models.Job{}, withOp(err, opCreate)
	}

	tempID := -c.tempSeq.Add(1)
	c.acquire(tempID)
	defer c.release(tempID)

	placeholder := stored(job, tempID)
	placeholder.Status = models.StatusPending

	c.cache.CancelFetches()
	previous, version := c.cache.Update(func(s querycache.Snapshot) querycache.Snapshot {
		return s.Append(placeholder)
	})
	defer c.cache.Invalidate()

	id, err := c.api.CreateJob(ctx, job)
	if err != nil {
		telemetry.RecordError(span, err)
		c.rollback(version, previous, func(s querycache.Snapshot) querycache.Snapshot {
			return s.Without(tempID)
		})
		c.logger.Warn("create rolled back", zap.Int64("temp_id", tempID), zap.Error(err))
		return models.Job{}, withOp(err, opCreate)
	}

	confirmed := stored(job, id)
	span.SetAttributes(telemetry.Int64("job.id", id))

	c.cache.Update(func(s querycache.Snapshot) querycache.Snapshot {
		if s.IndexOf(id) >= 0 {
			// a refetch already brought the stored record in
			return s.Without(tempID)
		}
		if next, ok := s.Replace(tempID, confirmed); ok {
			return next
		}
		return s.Append(confirmed)
	})
	return confirmed, nil
}

// Update replaces the cached record with job, then saves it on the server.
func (c *Controller) Update(ctx context.Context, job models.Job) error {
	ctx, span := tracer.Start(ctx, "optimistic.update")
	defer span.End()
	span.SetAttributes(telemetry.Int64("job.id", job.ID))

	if err := draft.Validate(job); err != nil {
		return withOp(err, opUpdate)
	}
	if !c.acquire(job.ID) {
		return withOp(ErrInFlight, opUpdate)
	}
	defer c.release(job.ID)

	submitted := stored(job, job.ID)

	var original models.Job
	var had bool
	c.cache.CancelFetches()
	previous, version := c.cache.Update(func(s querycache.Snapshot) querycache.Snapshot {
		original, had = s.Find(job.ID)
		next, _ := s.Replace(job.ID, submitted)
		return next
	})
	defer c.cache.Invalidate()

	if err := c.api.UpdateJob(ctx, job); err != nil {
		telemetry.RecordError(span, err)
		c.rollback(version, previous, func(s querycache.Snapshot) querycache.Snapshot {
			if !had {
				return s
			}
			next, _ := s.Replace(job.ID, original)
			return next
		})
		c.logger.Warn("update rolled back", zap.Int64("job_id", job.ID), zap.Error(err))
		return withOp(err, opUpdate)
	}

	c.cache.Update(func(s querycache.Snapshot) querycache.Snapshot {
		next, _ := s.Replace(job.ID, submitted)
		return next
	})
	return nil
}

// Delete removes id from the cache, then from the server. A job the server no
// longer has counts as deleted.
func (c *Controller) Delete(ctx context.Context, id int64) error {
	ctx, span := tracer.Start(ctx, "optimistic.delete")
	defer span.End()
	span.SetAttributes(telemetry.Int64("job.id", id))

	if !c.acquire(id) {
		return withOp(ErrInFlight, opDelete)
	}
	defer c.release(id)

	var removed models.Job
	index := -1
	c.cache.CancelFetches()
	previous, version := c.cache.Update(func(s querycache.Snapshot) querycache.Snapshot {
		index = s.IndexOf(id)
		removed, _ = s.Find(id)
		return s.Without(id)
	})
	defer c.cache.Invalidate()

	err := c.api.DeleteJob(ctx, id)
	if err != nil && errors.StatusOf(err) != http.StatusNotFound {
		telemetry.RecordError(span, err)
		c.rollback(version, previous, func(s querycache.Snapshot) querycache.Snapshot {
			if index < 0 || s.IndexOf(id) >= 0 {
				return s
			}
			return s.InsertAt(index, removed)
		})
		c.logger.Warn("delete rolled back", zap.Int64("job_id", id), zap.Error(err))
		return withOp(err, opDelete)
	}

	c.cache.Update(func(s querycache.Snapshot) querycache.Snapshot {
		return s.Without(id)
	})
	return nil
}

// rollback restores previous when nothing was written after the prediction.
// Otherwise only this mutation's own change is undone on top of the newer
// snapshot so a concurrent mutation's effect survives.
func (c *Controller) rollback(version uint64, previous querycache.Snapshot, undo func(querycache.Snapshot) querycache.Snapshot) {
	if c.cache.WriteIf(version, previous) {
		return
	}
	c.cache.Update(undo)
}

// stored returns job as the server keeps it: canonical status and salary
// frequency, Applied for an empty status, trimmed title and company.
func stored(job models.Job, id int64) models.Job {
	out := dtos.JobRequestFromModel(job).ToModel()
	out.ID = id
	out.CreatedAt, out.UpdatedAt = job.CreatedAt, job.UpdatedAt
	return out
}

func withOp(err error, op string) error {
	if de, ok := errors.As(err); ok {
		if de.Op != "" {
			return err
		}
		return de.WithOp(op)
	}
	return errors.Internal("", err).WithOp(op)
}
