package handlers

import (
	stderrors "errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/justsurfingit/jobtracker/internal/dtos"
	"github.com/justsurfingit/jobtracker/internal/errors"
	"github.com/justsurfingit/jobtracker/internal/services"
	"go.uber.org/zap"
)

// JobHandler serves the /api routes. Parser may be nil when no API key is
// configured.
type JobHandler struct {
	Jobs    *services.JobService
	Uploads *services.UploadService
	Parser  services.Parser
	logger  *zap.Logger
}

func NewJobHandler(jobs *services.JobService, uploads *services.UploadService, parser services.Parser, logger *zap.Logger) *JobHandler {
	return &JobHandler{
		Jobs:    jobs,
		Uploads: uploads,
		Parser:  parser,
		logger:  logger,
	}
}

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, dtos.HealthResponse{Status: "ok"})
}

// ListJobs is GET /api/jobs
func (h *JobHandler) ListJobs(c *gin.Context) {
	jobs, err := h.Jobs.List(c.Request.Context())
	if err != nil {
		h.fail(c, err, "Failed to fetch jobs")
		return
	}
	c.JSON(http.StatusOK, jobs)
}

// CreateJob is POST /api/jobs
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dtos.JobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dtos.ErrorResponse{Error: bindingMessage(err)})
		return
	}

	id, err := h.Jobs.Create(c.Request.Context(), req.ToModel())
	if err != nil {
		h.fail(c, err, "Failed to create job")
		return
	}
	c.JSON(http.StatusOK, dtos.CreateJobResponse{ID: id})
}

// UpdateJob is PUT /api/jobs/:id
func (h *JobHandler) UpdateJob(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	var req dtos.JobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dtos.ErrorResponse{Error: bindingMessage(err)})
		return
	}

	if err := h.Jobs.Update(c.Request.Context(), id, req.ToModel()); err != nil {
		h.fail(c, err, "Failed to update job")
		return
	}
	c.JSON(http.StatusOK, dtos.SuccessResponse{Success: true})
}

// DeleteJob is DELETE /api/jobs/:id and succeeds for unknown ids.
func (h *JobHandler) DeleteJob(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	if err := h.Jobs.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, err, "Failed to delete job")
		return
	}
	c.JSON(http.StatusOK, dtos.SuccessResponse{Success: true})
}

// JobEvents is GET /api/jobs/:id/events, the status history recorded by the
// mail sync.
func (h *JobHandler) JobEvents(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	evs, err := h.Jobs.Events(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "Failed to fetch job events")
		return
	}
	c.JSON(http.StatusOK, evs)
}

// ExportJobs is GET /api/jobs/export?format=csv|json. Errors use {detail}.
func (h *JobHandler) ExportJobs(c *gin.Context) {
	format, err := services.ParseExportFormat(c.DefaultQuery("format", string(services.ExportCSV)))
	if err != nil {
		c.JSON(http.StatusBadRequest, dtos.DetailResponse{Detail: errors.UserMessage(err)})
		return
	}

	data, filename, err := h.Jobs.Export(c.Request.Context(), format)
	if err != nil {
		h.logger.Error("export failed", zap.String("request_id", requestID(c)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, dtos.DetailResponse{Detail: "Export failed"})
		return
	}

	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	c.Data(http.StatusOK, format.ContentType(), data)
}

// UploadFile is POST /api/upload with a multipart "file" field.
func (h *JobHandler) UploadFile(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, dtos.ErrorResponse{Error: "No file uploaded"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		h.fail(c, err, "Failed to read upload")
		return
	}
	defer f.Close()

	url, err := h.Uploads.Save(c.Request.Context(), fh.Filename, f)
	if err != nil {
		h.fail(c, err, "Failed to store upload")
		return
	}
	c.JSON(http.StatusOK, dtos.UploadResponse{URL: url})
}

// ParseJob is POST /api/jobs/parse. It takes JSON {text} or a multipart
// "file" image.
func (h *JobHandler) ParseJob(c *gin.Context) {
	if h.Parser == nil {
		c.JSON(http.StatusServiceUnavailable, dtos.ErrorResponse{Error: "AI parsing is not configured"})
		return
	}

	var in services.ParseInput
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("file")
		if err != nil {
			in.Text = c.PostForm("text")
		} else {
			f, err := fh.Open()
			if err != nil {
				h.fail(c, err, "Failed to read upload")
				return
			}
			defer f.Close()
			if in.Image, err = io.ReadAll(f); err != nil {
				h.fail(c, err, "Failed to read upload")
				return
			}
			in.MIMEType = fh.Header.Get("Content-Type")
			if in.MIMEType == "" || in.MIMEType == "application/octet-stream" {
				in.MIMEType = http.DetectContentType(in.Image)
			}
		}
	} else {
		var req dtos.ParseRequest
		if err := c.ShouldBindJSON(&req); err != nil && !stderrors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, dtos.ErrorResponse{Error: "Invalid JSON format: " + err.Error()})
			return
		}
		in.Text = req.Text
	}

	parsed, err := h.Parser.ParseJob(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err, "AI parsing failed")
		return
	}
	c.JSON(http.StatusOK, parsed)
}

func jobID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, dtos.ErrorResponse{Error: "Invalid job id"})
		return 0, false
	}
	return id, true
}

// fail maps a domain error to a status code and the {error} body.
func (h *JobHandler) fail(c *gin.Context, err error, fallback string) {
	status := http.StatusInternalServerError
	msg := fallback
	if de, ok := errors.As(err); ok {
		switch de.Type {
		case errors.ErrTypeValidation:
			status, msg = http.StatusBadRequest, de.Message
		case errors.ErrTypeNotFound:
			status, msg = http.StatusNotFound, de.Message
		case errors.ErrTypeAIParsing:
			status, msg = http.StatusUnprocessableEntity, de.Message
		}
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error(fallback, zap.String("request_id", requestID(c)), zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(status, dtos.ErrorResponse{Error: msg})
}

// bindingMessage turns validator output into "title is required".
func bindingMessage(err error) string {
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		var maxErr *http.MaxBytesError
		if stderrors.As(err, &maxErr) {
			return "Request body too large"
		}
		return "Invalid JSON format: " + err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := jsonFieldName(fe.Field())
		switch fe.Tag() {
		case "required", "notblank":
			msgs = append(msgs, field+" is required")
		case "datetime":
			msgs = append(msgs, field+" must be a YYYY-MM-DD date")
		case "jobstatus":
			msgs = append(msgs, fmt.Sprintf("%s %q is not a valid status", field, fe.Value()))
		case "salaryfrequency":
			msgs = append(msgs, fmt.Sprintf("%s %q must be Hourly, Monthly or Yearly", field, fe.Value()))
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return strings.Join(msgs, "; ")
}

var fieldNames = map[string]string{
	"Title":           "title",
	"Company":         "company",
	"DateApplied":     "date_applied",
	"Status":          "status",
	"SalaryFrequency": "salary_frequency",
}

func jsonFieldName(f string) string {
	if n, ok := fieldNames[f]; ok {
		return n
	}
	return strings.ToLower(f)
}
