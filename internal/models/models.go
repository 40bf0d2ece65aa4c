package models

import (
	"slices"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Status is the pipeline stage of an application.
type Status string

const (
	StatusSaved         Status = "Saved"
	StatusApplied       Status = "Applied"
	StatusInterview     Status = "Interview"
	StatusTechnicalTest Status = "Technical Test"
	StatusOffer         Status = "Offer"
	StatusRejected      Status = "Rejected"

	// StatusPending marks a client-side placeholder that the server has not
	// confirmed yet. It is never persisted.
	StatusPending Status = "Pending"
)

// Statuses lists the persisted statuses in pipeline order.
var Statuses = []Status{
	StatusSaved,
	StatusApplied,
	StatusInterview,
	StatusTechnicalTest,
	StatusOffer,
	StatusRejected,
}

func (s Status) Valid() bool {
	return slices.Contains(Statuses, s)
}

// ParseStatus matches s case-insensitively against the persisted statuses.
func ParseStatus(s string) (Status, bool) {
	s = strings.TrimSpace(s)
	for _, st := range Statuses {
		if strings.EqualFold(string(st), s) {
			return st, true
		}
	}
	return "", false
}

type SalaryFrequency string

const (
	FrequencyHourly  SalaryFrequency = "Hourly"
	FrequencyMonthly SalaryFrequency = "Monthly"
	FrequencyYearly  SalaryFrequency = "Yearly"
)

var SalaryFrequencies = []SalaryFrequency{FrequencyHourly, FrequencyMonthly, FrequencyYearly}

func (f SalaryFrequency) Valid() bool {
	return slices.Contains(SalaryFrequencies, f)
}

// ParseSalaryFrequency accepts any casing ("yearly", "YEARLY").
func ParseSalaryFrequency(s string) (SalaryFrequency, bool) {
	s = strings.TrimSpace(s)
	for _, f := range SalaryFrequencies {
		if strings.EqualFold(string(f), s) {
			return f, true
		}
	}
	return "", false
}

// Work models offered by the entry form.
const (
	WorkModelRemote = "Remote"
	WorkModelHybrid = "Hybrid"
	WorkModelOnSite = "On-site"
)

// DateLayout is the storage format of Job.DateApplied.
const DateLayout = "2006-01-02"

type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type Job struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Title           string          `gorm:"not null" json:"title"`
	Company         string          `gorm:"not null;index" json:"company"`
	URL             string          `json:"url"`
	DateApplied     string          `gorm:"not null;index" json:"date_applied"`
	Status          Status          `gorm:"not null" json:"status"`
	WorkModel       string          `json:"work_model"`
	SalaryRange     string          `json:"salary_range"`
	SalaryFrequency SalaryFrequency `gorm:"default:'Yearly'" json:"salary_frequency"`
	Notes           string          `gorm:"type:text" json:"notes"`
	ScreenshotURL   string          `json:"screenshot_url"`
	ResumeURL       string          `json:"resume_url"`
	CoverLetterURL  string          `json:"cover_letter_url"`

	TechStack   datatypes.JSONSlice[string]     `json:"tech_stack"`
	Attachments datatypes.JSONSlice[Attachment] `json:"attachments"`
}

// IsPlaceholder reports whether j is an optimistic record without a
// server-assigned id.
func (j Job) IsPlaceholder() bool {
	return j.ID < 0 || j.Status == StatusPending
}

// AppliedOn parses DateApplied. Full RFC3339 timestamps are accepted as well.
func (j Job) AppliedOn() (time.Time, error) {
	return ParseDate(j.DateApplied)
}

func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation(DateLayout, s, time.Local); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.In(time.Local), nil
}

// Clone returns a copy of j that shares no slices with it.
func (j Job) Clone() Job {
	out := j
	if j.TechStack != nil {
		out.TechStack = slices.Clone(j.TechStack)
	}
	if j.Attachments != nil {
		out.Attachments = slices.Clone(j.Attachments)
	}
	return out
}

// Normalize fills the defaults the store guarantees: empty slices instead of
// nil and a Yearly salary frequency.
func (j *Job) Normalize() {
	if j.TechStack == nil {
		j.TechStack = datatypes.JSONSlice[string]{}
	}
	if j.Attachments == nil {
		j.Attachments = datatypes.JSONSlice[Attachment]{}
	}
	if j.SalaryFrequency == "" {
		j.SalaryFrequency = FrequencyYearly
	}
}

func (j *Job) BeforeSave(tx *gorm.DB) error {
	j.Normalize()
	return nil
}

func (j *Job) AfterFind(tx *gorm.DB) error {
	j.Normalize()
	return nil
}

// JobEvent records a change made to a job outside the REST API, e.g. by the
// mail status sync.
type JobEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	JobID     int64     `gorm:"index" json:"job_id"`
	EventType string    `json:"event_type"`
	Details   string    `gorm:"type:text" json:"details"`
}

// SyncState holds the Gmail history cursor of the mail status sync.
type SyncState struct {
	ID            uint `gorm:"primaryKey"`
	UpdatedAt     time.Time
	Account       string `gorm:"uniqueIndex;not null"`
	LastHistoryID uint64
}

type ProcessedEmail struct {
	ID        string `gorm:"primaryKey"`
	CreatedAt time.Time
}
