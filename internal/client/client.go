package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strconv"
	"time"

	"github.com/justsurfingit/jobtracker/internal/dtos"
	"github.com/justsurfingit/jobtracker/internal/errors"
	"github.com/justsurfingit/jobtracker/internal/models"
	"github.com/justsurfingit/jobtracker/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

var tracer = telemetry.GetTracer("jobtracker/client")

// Client talks to the job tracker REST API. It never retries; callers own
// recovery.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTimeout bounds every request on the default transport.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// call describes one request. fallback is the message used when the server
// sends no reason.
type call struct {
	op          string
	method      string
	path        string
	body        io.Reader
	contentType string
	fallback    string
}

func (c *Client) do(ctx context.Context, cl call) (*http.Response, error) {
	ctx, span := tracer.Start(ctx, "client."+cl.op)
	defer span.End()
	span.SetAttributes(
		telemetry.String("http.method", cl.method),
		telemetry.String("http.path", cl.path),
	)

	req, err := http.NewRequestWithContext(ctx, cl.method, c.baseURL+cl.path, cl.body)
	if err != nil {
		return nil, errors.Internal("creating request", err).WithOp(cl.op)
	}
	if cl.contentType != "" {
		req.Header.Set("Content-Type", cl.contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		telemetry.RecordError(span, err)
		c.logger.Debug("request failed", zap.String("op", cl.op), zap.Error(err))
		return nil, errors.Network("could not reach the server", err).WithOp(cl.op)
	}
	span.SetAttributes(telemetry.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		reason := serverReason(resp.Body)
		if reason == "" {
			reason = cl.fallback
		}
		c.logger.Debug("unexpected status code",
			zap.String("op", cl.op),
			zap.Int("status_code", resp.StatusCode),
			zap.String("reason", reason))

		var de *errors.DomainError
		if resp.StatusCode == http.StatusUnprocessableEntity {
			de = errors.AIParsing(reason, nil)
			de.Status = resp.StatusCode
		} else {
			de = errors.Server(resp.StatusCode, reason)
		}
		telemetry.RecordError(span, de)
		return nil, de.WithOp(cl.op)
	}
	return resp, nil
}

// serverReason reads {error} or {detail} from an error body.
func serverReason(r io.Reader) string {
	var body struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	data, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil || json.Unmarshal(data, &body) != nil {
		return ""
	}
	if body.Error != "" {
		return body.Error
	}
	return body.Detail
}

func (c *Client) doJSON(ctx context.Context, cl call, in, out any) error {
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.Internal("encoding request", err).WithOp(cl.op)
		}
		cl.body = bytes.NewReader(b)
		cl.contentType = "application/json"
	}

	resp, err := c.do(ctx, cl)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Network("decoding response", err).WithOp(cl.op)
	}
	return nil
}

func (c *Client) ListJobs(ctx context.Context) ([]models.Job, error) {
	var jobs []models.Job
	err := c.doJSON(ctx, call{op: "load jobs", method: http.MethodGet, path: "/api/jobs", fallback: "Failed to fetch jobs"}, nil, &jobs)
	if err != nil {
		return nil, err
	}
	for i := range jobs {
		jobs[i].Normalize()
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	return jobs, nil
}

// CreateJob returns the server-assigned id.
func (c *Client) CreateJob(ctx context.Context, job models.Job) (int64, error) {
	var out dtos.CreateJobResponse
	err := c.doJSON(ctx, call{op: "create job", method: http.MethodPost, path: "/api/jobs", fallback: "Failed to create job"},
		dtos.JobRequestFromModel(job), &out)
	return out.ID, err
}

func (c *Client) UpdateJob(ctx context.Context, job models.Job) error {
	return c.doJSON(ctx, call{op: "update job", method: http.MethodPut, path: "/api/jobs/" + strconv.FormatInt(job.ID, 10), fallback: "Failed to update job"},
		dtos.JobRequestFromModel(job), nil)
}

func (c *Client) DeleteJob(ctx context.Context, id int64) error {
	return c.doJSON(ctx, call{op: "delete job", method: http.MethodDelete, path: "/api/jobs/" + strconv.FormatInt(id, 10), fallback: "Failed to delete job"}, nil, nil)
}

// Upload stores a file and returns its public URL.
func (c *Client) Upload(ctx context.Context, name string, r io.Reader) (string, error) {
	body, ct, err := multipartFile("file", name, r)
	if err != nil {
		return "", errors.Internal("encoding upload", err).WithOp("upload file")
	}
	var out dtos.UploadResponse
	err = c.doJSON(ctx, call{op: "upload file", method: http.MethodPost, path: "/api/upload", body: body, contentType: ct, fallback: "Upload failed"}, nil, &out)
	return out.URL, err
}

// Export downloads every job as csv or json and returns the suggested file
// name.
func (c *Client) Export(ctx context.Context, format string) ([]byte, string, error) {
	const op = "export jobs"
	resp, err := c.do(ctx, call{op: op, method: http.MethodGet, path: "/api/jobs/export?format=" + url.QueryEscape(format), fallback: "Export failed"})
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", errors.Network("reading export", err).WithOp(op)
	}

	filename := fmt.Sprintf("saved-jobs-%s.%s", time.Now().Format(models.DateLayout), format)
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		filename = params["filename"]
	}
	return data, filename, nil
}

// ParseInput is free text or an image file for the AI parser.
type ParseInput struct {
	Text     string
	Image    io.Reader
	Filename string
	MIMEType string
}

func (c *Client) ParseJob(ctx context.Context, in ParseInput) (*dtos.ParsedJob, error) {
	cl := call{op: "parse job", method: http.MethodPost, path: "/api/jobs/parse", fallback: "AI parsing failed"}

	var reqBody any
	if in.Image != nil {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(in.Filename)))
		mimeType := in.MIMEType
		if mimeType == "" {
			mimeType = mime.TypeByExtension(filepath.Ext(in.Filename))
		}
		if mimeType != "" {
			h.Set("Content-Type", mimeType)
		}
		part, err := mw.CreatePart(h)
		if err == nil {
			_, err = io.Copy(part, in.Image)
		}
		if err == nil {
			err = mw.Close()
		}
		if err != nil {
			return nil, errors.Internal("encoding image", err).WithOp(cl.op)
		}
		cl.body, cl.contentType = &buf, mw.FormDataContentType()
	} else {
		reqBody = dtos.ParseRequest{Text: in.Text}
	}

	var out dtos.ParsedJob
	if err := c.doJSON(ctx, cl, reqBody, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Health(ctx context.Context) error {
	var out dtos.HealthResponse
	return c.doJSON(ctx, call{op: "health check", method: http.MethodGet, path: "/api/health", fallback: "Server unhealthy"}, nil, &out)
}

func multipartFile(field, name string, r io.Reader) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filepath.Base(name))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}
