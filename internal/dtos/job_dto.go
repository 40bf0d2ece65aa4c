package dtos

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/justsurfingit/jobtracker/internal/models"
)

// JobRequest is the body of POST /api/jobs and PUT /api/jobs/:id.
type JobRequest struct {
	Title       string `json:"title" binding:"required,notblank" validate:"required,notblank"`
	Company     string `json:"company" binding:"required,notblank" validate:"required,notblank"`
	DateApplied string `json:"date_applied" binding:"required,datetime=2006-01-02" validate:"required,datetime=2006-01-02"`

	// Optional Fields
	URL             string              `json:"url"`
	Status          string              `json:"status" binding:"omitempty,jobstatus" validate:"omitempty,jobstatus"` // Defaults to "Applied" if empty
	WorkModel       string              `json:"work_model"`
	SalaryRange     string              `json:"salary_range"`
	SalaryFrequency string              `json:"salary_frequency" binding:"omitempty,salaryfrequency" validate:"omitempty,salaryfrequency"`
	TechStack       []string            `json:"tech_stack"`
	Notes           string              `json:"notes"`
	ScreenshotURL   string              `json:"screenshot_url"`
	ResumeURL       string              `json:"resume_url"`
	CoverLetterURL  string              `json:"cover_letter_url"`
	Attachments     []models.Attachment `json:"attachments"`
}

// ToModel converts the request into a job with store defaults applied.
func (r JobRequest) ToModel() models.Job {
	status := models.StatusApplied
	if st, ok := models.ParseStatus(r.Status); ok {
		status = st
	}
	freq := models.FrequencyYearly
	if f, ok := models.ParseSalaryFrequency(r.SalaryFrequency); ok {
		freq = f
	}

	job := models.Job{
		Title:           strings.TrimSpace(r.Title),
		Company:         strings.TrimSpace(r.Company),
		URL:             r.URL,
		DateApplied:     strings.TrimSpace(r.DateApplied),
		Status:          status,
		WorkModel:       r.WorkModel,
		SalaryRange:     r.SalaryRange,
		SalaryFrequency: freq,
		Notes:           r.Notes,
		ScreenshotURL:   r.ScreenshotURL,
		ResumeURL:       r.ResumeURL,
		CoverLetterURL:  r.CoverLetterURL,
	}
	if r.TechStack != nil {
		job.TechStack = append(job.TechStack, r.TechStack...)
	}
	if r.Attachments != nil {
		job.Attachments = append(job.Attachments, r.Attachments...)
	}
	job.Normalize()
	return job
}

// JobRequestFromModel is the inverse of ToModel; the client uses it to build
// request bodies from cached jobs.
func JobRequestFromModel(j models.Job) JobRequest {
	j = j.Clone()
	j.Normalize()
	return JobRequest{
		Title:           j.Title,
		Company:         j.Company,
		DateApplied:     j.DateApplied,
		URL:             j.URL,
		Status:          string(j.Status),
		WorkModel:       j.WorkModel,
		SalaryRange:     j.SalaryRange,
		SalaryFrequency: string(j.SalaryFrequency),
		TechStack:       j.TechStack,
		Notes:           j.Notes,
		ScreenshotURL:   j.ScreenshotURL,
		ResumeURL:       j.ResumeURL,
		CoverLetterURL:  j.CoverLetterURL,
		Attachments:     j.Attachments,
	}
}

type CreateJobResponse struct {
	ID int64 `json:"id"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// DetailResponse is the error body of the export endpoint.
type DetailResponse struct {
	Detail string `json:"detail"`
}

type UploadResponse struct {
	URL string `json:"url"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

// RegisterValidations installs the custom tags used by JobRequest on v. Both
// gin's binding engine and the client-side draft validator call it.
func RegisterValidations(v *validator.Validate) error {
	if err := v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	}); err != nil {
		return err
	}
	if err := v.RegisterValidation("jobstatus", func(fl validator.FieldLevel) bool {
		_, ok := models.ParseStatus(fl.Field().String())
		return ok
	}); err != nil {
		return err
	}
	return v.RegisterValidation("salaryfrequency", func(fl validator.FieldLevel) bool {
		_, ok := models.ParseSalaryFrequency(fl.Field().String())
		return ok
	})
}
