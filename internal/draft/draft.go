// Package draft holds the entry-form logic for a job: defaults, tag and
// attachment editing, merging AI-parsed fields and validation before submit.
package draft

import (
	"net/url"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/justsurfingit/jobtracker/internal/dtos"
	"github.com/justsurfingit/jobtracker/internal/errors"
	"github.com/justsurfingit/jobtracker/internal/models"
)

// FileField names a single-file slot of a job.
type FileField string

const (
	FieldScreenshot  FileField = "screenshot_url"
	FieldResume      FileField = "resume_url"
	FieldCoverLetter FileField = "cover_letter_url"
)

// Draft is an unsaved job. The zero value is not useful; use New or Edit.
type Draft struct {
	job models.Job
}

// New returns the defaults of the new-application form.
func New(now time.Time) *Draft {
	j := models.Job{
		DateApplied:     now.Format(models.DateLayout),
		Status:          models.StatusApplied,
		WorkModel:       models.WorkModelRemote,
		SalaryFrequency: models.FrequencyYearly,
	}
	j.Normalize()
	return &Draft{job: j}
}

// Edit starts a draft from an existing job.
func Edit(j models.Job) *Draft {
	j = j.Clone()
	j.Normalize()
	return &Draft{job: j}
}

// Job returns a copy of the draft's current fields.
func (d *Draft) Job() models.Job {
	return d.job.Clone()
}

// IsEdit reports whether the draft updates a stored job.
func (d *Draft) IsEdit() bool {
	return d.job.ID > 0
}

// Update lets callers change plain fields in place.
func (d *Draft) Update(fn func(*models.Job)) {
	fn(&d.job)
}

// AddTag appends a trimmed tag unless it is blank or already present.
func (d *Draft) AddTag(tag string) bool {
	tag = strings.TrimSpace(tag)
	if tag == "" || slices.Contains(d.job.TechStack, tag) {
		return false
	}
	d.job.TechStack = append(d.job.TechStack, tag)
	return true
}

func (d *Draft) RemoveTag(tag string) {
	d.job.TechStack = slices.DeleteFunc(slices.Clone(d.job.TechStack), func(t string) bool { return t == tag })
}

func (d *Draft) AddAttachment(name, url string) {
	d.job.Attachments = append(d.job.Attachments, models.Attachment{Name: name, URL: url})
}

// RemoveAttachment drops the attachment at index i. Out of range is a no-op.
func (d *Draft) RemoveAttachment(i int) bool {
	if i < 0 || i >= len(d.job.Attachments) {
		return false
	}
	d.job.Attachments = slices.Delete(slices.Clone(d.job.Attachments), i, i+1)
	return true
}

// SetFile stores an uploaded file URL in one of the single-file slots.
func (d *Draft) SetFile(field FileField, u string) bool {
	switch field {
	case FieldScreenshot:
		d.job.ScreenshotURL = u
	case FieldResume:
		d.job.ResumeURL = u
	case FieldCoverLetter:
		d.job.CoverLetterURL = u
	default:
		return false
	}
	return true
}

// ApplyPastedURL sets the posting URL when s is an http(s) URL.
func (d *Draft) ApplyPastedURL(s string) bool {
	s = strings.TrimSpace(s)
	u, err := url.Parse(s)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	d.job.URL = s
	return true
}

// ApplyParsed copies every non-empty parsed field over the draft. Fields the
// parser left empty keep what the user typed.
func (d *Draft) ApplyParsed(p *dtos.ParsedJob) {
	if p == nil {
		return
	}
	parsed := *p
	parsed.TechStack = slices.Clone(p.TechStack)
	parsed.Normalize()

	if parsed.Title != "" {
		d.job.Title = parsed.Title
	}
	if parsed.Company != "" {
		d.job.Company = parsed.Company
	}
	if parsed.WorkModel != "" {
		d.job.WorkModel = parsed.WorkModel
	}
	if parsed.SalaryRange != "" {
		d.job.SalaryRange = parsed.SalaryRange
	}
	if parsed.SalaryFrequency != "" {
		d.job.SalaryFrequency = models.SalaryFrequency(parsed.SalaryFrequency)
	}
	if len(parsed.TechStack) > 0 {
		d.job.TechStack = parsed.TechStack
	}
	if parsed.Notes != "" {
		d.job.Notes = parsed.Notes
	}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
	validateErr  error
)

func validatorInstance() (*validator.Validate, error) {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		validateErr = dtos.RegisterValidations(v)
		validate = v
	})
	return validate, validateErr
}

// Validate checks the job the draft would submit.
func (d *Draft) Validate() error {
	return Validate(d.job)
}

// Validate runs the same rules the API applies to a request body. Failures
// are Validation errors listing every offending field.
func Validate(j models.Job) error {
	v, err := validatorInstance()
	if err != nil {
		return errors.Internal("registering validations", err)
	}

	err = v.Struct(dtos.JobRequestFromModel(j))
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.Internal("validating job", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required", "notblank":
			msgs = append(msgs, fe.Field()+" is required")
		case "datetime":
			msgs = append(msgs, fe.Field()+" must be a YYYY-MM-DD date")
		default:
			msgs = append(msgs, fe.Field()+" is invalid")
		}
	}
	return errors.Validation("Please fill in all required fields: " + strings.Join(msgs, ", "))
}
