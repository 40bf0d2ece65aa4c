package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/justsurfingit/jobtracker/internal/errors"
	"github.com/justsurfingit/jobtracker/internal/models"
)

type ExportFormat string

const (
	ExportCSV  ExportFormat = "csv"
	ExportJSON ExportFormat = "json"
)

func ParseExportFormat(s string) (ExportFormat, error) {
	switch f := ExportFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case ExportCSV, ExportJSON:
		return f, nil
	}
	return "", errors.Validation(fmt.Sprintf("Unsupported export format %q, use csv or json", s))
}

// ExportFilename is saved-jobs-YYYY-MM-DD.<ext>.
func ExportFilename(format ExportFormat, now time.Time) string {
	return fmt.Sprintf("saved-jobs-%s.%s", now.Format(models.DateLayout), format)
}

func (f ExportFormat) ContentType() string {
	if f == ExportCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/json"
}

var csvHeader = []string{
	"id", "title", "company", "status", "date_applied", "work_model",
	"salary_range", "salary_frequency", "tech_stack", "url", "notes",
	"resume_url", "cover_letter_url", "screenshot_url", "attachments",
}

// Export renders every stored job in format.
func (s *JobService) Export(ctx context.Context, format ExportFormat) ([]byte, string, error) {
	ctx, span := tracer.Start(ctx, "JobService.Export")
	defer span.End()

	jobs, err := s.List(ctx)
	if err != nil {
		return nil, "", err
	}

	var data []byte
	switch format {
	case ExportCSV:
		data, err = encodeCSV(jobs)
	case ExportJSON:
		data, err = json.MarshalIndent(jobs, "", "  ")
	default:
		_, err = ParseExportFormat(string(format))
		return nil, "", err
	}
	if err != nil {
		return nil, "", errors.Internal("failed to export jobs", err)
	}
	return data, ExportFilename(format, s.now()), nil
}

func encodeCSV(jobs []models.Job) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, j := range jobs {
		names := make([]string, 0, len(j.Attachments))
		for _, a := range j.Attachments {
			names = append(names, a.Name+" ("+a.URL+")")
		}
		row := []string{
			strconv.FormatInt(j.ID, 10),
			j.Title,
			j.Company,
			string(j.Status),
			j.DateApplied,
			j.WorkModel,
			j.SalaryRange,
			string(j.SalaryFrequency),
			strings.Join(j.TechStack, "; "),
			j.URL,
			j.Notes,
			j.ResumeURL,
			j.CoverLetterURL,
			j.ScreenshotURL,
			strings.Join(names, "; "),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
