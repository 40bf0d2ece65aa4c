package client

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/justsurfingit/jobtracker/internal/database"
	"github.com/justsurfingit/jobtracker/internal/dtos"
	"github.com/justsurfingit/jobtracker/internal/errors"
	"github.com/justsurfingit/jobtracker/internal/events"
	"github.com/justsurfingit/jobtracker/internal/handlers"
	"github.com/justsurfingit/jobtracker/internal/models"
	"github.com/justsurfingit/jobtracker/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newAPIServer(t *testing.T, parser services.Parser) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Connect("sqlite", "file::memory:", zap.NewNop())
	require.NoError(t, err)
	dir := t.TempDir()
	uploads, err := services.NewUploadService(dir, zap.NewNop())
	require.NoError(t, err)

	jobs := services.NewJobService(db, events.Nop{}, zap.NewNop())
	h := handlers.NewJobHandler(jobs, uploads, parser, zap.NewNop())
	srv := httptest.NewServer(handlers.NewRouter(handlers.RouterConfig{UploadDir: dir}, h, zap.NewNop()))
	t.Cleanup(srv.Close)
	return srv
}

func newJob() models.Job {
	return models.Job{
		Title:       "Backend Engineer",
		Company:     "Acme",
		DateApplied: "2024-01-15",
		Status:      models.StatusApplied,
		TechStack:   []string{"Go"},
	}
}

func TestClientAgainstServer(t *testing.T) {
	srv := newAPIServer(t, nil)
	c := New(srv.URL, WithHTTPClient(srv.Client()))
	ctx := context.Background()

	require.NoError(t, c.Health(ctx))

	jobs, err := c.ListJobs(ctx)
	require.NoError(t, err)
	assert.NotNil(t, jobs)
	assert.Empty(t, jobs)

	id, err := c.CreateJob(ctx, newJob())
	require.NoError(t, err)
	require.Positive(t, id)

	job := newJob()
	job.ID = id
	job.Status = models.StatusInterview
	require.NoError(t, c.UpdateJob(ctx, job))

	jobs, err = c.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.StatusInterview, jobs[0].Status)
	assert.NotNil(t, jobs[0].Attachments)

	url, err := c.Upload(ctx, "cover.pdf", strings.NewReader("letter"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "/uploads/"))

	data, name, err := c.Export(ctx, "json")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, "saved-jobs-"))
	assert.True(t, strings.HasSuffix(name, ".json"))
	assert.Contains(t, string(data), "Backend Engineer")

	require.NoError(t, c.DeleteJob(ctx, id))
	require.NoError(t, c.DeleteJob(ctx, id), "server treats repeated delete as success")
}

func TestClientServerErrors(t *testing.T) {
	srv := newAPIServer(t, nil)
	c := New(srv.URL, WithHTTPClient(srv.Client()))
	ctx := context.Background()

	job := newJob()
	job.ID = 999
	err := c.UpdateJob(ctx, job)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeServer))
	assert.Equal(t, http.StatusNotFound, errors.StatusOf(err))
	assert.Equal(t, "update job failed: Job not found", errors.UserMessage(err))

	_, _, err = c.Export(ctx, "xml")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, errors.StatusOf(err))
	assert.Contains(t, errors.UserMessage(err), "export jobs failed: Unsupported export format")

	_, err = c.ParseJob(ctx, ParseInput{Text: "x"})
	assert.Equal(t, http.StatusServiceUnavailable, errors.StatusOf(err))
}

func TestClientFallbackMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "<html>bad gateway</html>")
	}))
	defer srv.Close()

	_, err := New(srv.URL).CreateJob(context.Background(), newJob())
	require.Error(t, err)
	assert.Equal(t, "create job failed: Failed to create job", errors.UserMessage(err))
	assert.Equal(t, http.StatusBadGateway, errors.StatusOf(err))
}

func TestClientNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url).ListJobs(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeNetwork))
	assert.True(t, strings.HasPrefix(errors.UserMessage(err), "load jobs failed"))
}

type stubParser struct{ got services.ParseInput }

func (p *stubParser) ParseJob(_ context.Context, in services.ParseInput) (*dtos.ParsedJob, error) {
	p.got = in
	if len(in.Image) == 0 && in.Text == "" {
		return nil, errors.Validation("No input provided for parsing")
	}
	if in.Text == "garbage" {
		return nil, errors.AIParsing("AI returned invalid JSON format", nil)
	}
	return &dtos.ParsedJob{Title: "SRE", Company: "Initech"}, nil
}

func TestClientParseJob(t *testing.T) {
	p := &stubParser{}
	srv := newAPIServer(t, p)
	c := New(srv.URL, WithHTTPClient(srv.Client()))
	ctx := context.Background()

	parsed, err := c.ParseJob(ctx, ParseInput{Text: "SRE at Initech"})
	require.NoError(t, err)
	assert.Equal(t, "Initech", parsed.Company)

	png := []byte("\x89PNG\r\n\x1a\nrest")
	_, err = c.ParseJob(ctx, ParseInput{Image: bytes.NewReader(png), Filename: "shot.png"})
	require.NoError(t, err)
	assert.Equal(t, png, p.got.Image)
	assert.Equal(t, "image/png", p.got.MIMEType)

	_, err = c.ParseJob(ctx, ParseInput{Text: "garbage"})
	assert.True(t, errors.IsType(err, errors.ErrTypeAIParsing))
	assert.Equal(t, "parse job failed: AI returned invalid JSON format", errors.UserMessage(err))
}
