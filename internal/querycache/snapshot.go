package querycache

import (
	"github.com/justsurfingit/jobtracker/internal/models"
)

// Snapshot is an immutable view of the job collection. Every method that
// changes the collection returns a new Snapshot; the receiver is never
// modified, so a Snapshot can be kept as a rollback point.
type Snapshot struct {
	jobs []models.Job
}

// NewSnapshot deep-copies jobs.
func NewSnapshot(jobs []models.Job) Snapshot {
	return Snapshot{jobs: cloneJobs(jobs)}
}

func cloneJobs(jobs []models.Job) []models.Job {
	out := make([]models.Job, len(jobs))
	for i, j := range jobs {
		out[i] = j.Clone()
	}
	return out
}

// Jobs returns a deep copy in collection order. Never nil.
func (s Snapshot) Jobs() []models.Job {
	return cloneJobs(s.jobs)
}

func (s Snapshot) Len() int {
	return len(s.jobs)
}

func (s Snapshot) IndexOf(id int64) int {
	for i := range s.jobs {
		if s.jobs[i].ID == id {
			return i
		}
	}
	return -1
}

func (s Snapshot) Find(id int64) (models.Job, bool) {
	if i := s.IndexOf(id); i >= 0 {
		return s.jobs[i].Clone(), true
	}
	return models.Job{}, false
}

// HasPlaceholder reports whether an unconfirmed record is present.
func (s Snapshot) HasPlaceholder() bool {
	for i := range s.jobs {
		if s.jobs[i].IsPlaceholder() {
			return true
		}
	}
	return false
}

// Without drops every record with id.
func (s Snapshot) Without(id int64) Snapshot {
	out := make([]models.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if j.ID != id {
			out = append(out, j)
		}
	}
	return Snapshot{jobs: out}
}

func (s Snapshot) Append(job models.Job) Snapshot {
	out := make([]models.Job, len(s.jobs), len(s.jobs)+1)
	copy(out, s.jobs)
	return Snapshot{jobs: append(out, job.Clone())}
}

// Replace swaps the record with id for job, keeping its position. ok is
// false when id is absent.
func (s Snapshot) Replace(id int64, job models.Job) (Snapshot, bool) {
	i := s.IndexOf(id)
	if i < 0 {
		return s, false
	}
	out := make([]models.Job, len(s.jobs))
	copy(out, s.jobs)
	out[i] = job.Clone()
	return Snapshot{jobs: out}, true
}

// InsertAt places job at index i, clamped to the collection bounds.
func (s Snapshot) InsertAt(i int, job models.Job) Snapshot {
	i = max(0, min(i, len(s.jobs)))
	out := make([]models.Job, 0, len(s.jobs)+1)
	out = append(out, s.jobs[:i]...)
	out = append(out, job.Clone())
	out = append(out, s.jobs[i:]...)
	return Snapshot{jobs: out}
}
