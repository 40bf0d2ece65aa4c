package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/justsurfingit/jobtracker/internal/dtos"
	"github.com/justsurfingit/jobtracker/internal/errors"
	"github.com/justsurfingit/jobtracker/internal/models"
	"github.com/justsurfingit/jobtracker/internal/telemetry"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"go.uber.org/zap"
)

const (
	DefaultGeminiModel = "gemini-2.5-flash"

	maxPromptText = 20000
)

// ErrNoParser is returned by handlers when no API key was configured.
var ErrNoParser = stderrors.New("gemini API key is missing, set GEMINI_API_KEY")

// ParseInput is either an image (screenshot) or free text. The image wins
// when both are set.
type ParseInput struct {
	Text     string
	Image    []byte
	MIMEType string
}

func (in ParseInput) empty() bool {
	return len(in.Image) == 0 && strings.TrimSpace(in.Text) == ""
}

// Parser extracts job fields from unstructured input.
type Parser interface {
	ParseJob(ctx context.Context, in ParseInput) (*dtos.ParsedJob, error)
}

type LLMService struct {
	Client llms.Model
	cache  ParseCache
	ttl    time.Duration
	logger *zap.Logger
}

// NewLLMService connects to Gemini. An empty apiKey is an error; callers run
// without a parser in that case.
func NewLLMService(ctx context.Context, apiKey, model string, cache ParseCache, ttl time.Duration, logger *zap.Logger) (*LLMService, error) {
	if apiKey == "" {
		return nil, ErrNoParser
	}
	if model == "" {
		model = DefaultGeminiModel
	}

	llm, err := googleai.New(ctx,
		googleai.WithAPIKey(apiKey),
		googleai.WithDefaultModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return NewLLMServiceWithModel(llm, cache, ttl, logger), nil
}

// NewLLMServiceWithModel wraps an existing model. cache may be nil.
func NewLLMServiceWithModel(llm llms.Model, cache ParseCache, ttl time.Duration, logger *zap.Logger) *LLMService {
	return &LLMService{
		Client: llm,
		cache:  cache,
		ttl:    ttl,
		logger: logger,
	}
}

const jobExtractionPrompt = `You are a world-class recruitment assistant. Your task is to extract job details from the provided text or screenshot.
Be extremely thorough and extract as much information as possible.

FIELDS TO EXTRACT:
1. title: The exact job title.
2. company: The company name.
3. work_model: MUST be "Remote", "Hybrid", or "On-site". Look for keywords like "Remote", "WFH", "Office", "In-person".
4. salary_range: Include base salary, equity, and any other financial benefits mentioned (e.g., "$65k - $120k + $20k Equity").
5. salary_frequency: MUST be one of "Hourly", "Monthly", or "Yearly". If not specified, default to "Yearly".
6. tech_stack: Extract EVERY technology, programming language, framework, and tool mentioned.
7. notes: Summarize the company's mission, the team's culture, and the key impact of this role.

### OUTPUT SCHEMA:
{
    "title": "string",
    "company": "string",
    "work_model": "Remote | Hybrid | On-site",
    "salary_range": "string",
    "salary_frequency": "Hourly | Monthly | Yearly",
    "tech_stack": ["string"],
    "notes": "string"
}

Return valid JSON only. Do not wrap the output in markdown code blocks.
`

// ParseJob asks the model for structured fields. Results are cached by
// input digest when a cache is configured.
func (s *LLMService) ParseJob(ctx context.Context, in ParseInput) (*dtos.ParsedJob, error) {
	ctx, span := tracer.Start(ctx, "LLMService.ParseJob")
	defer span.End()

	if in.empty() {
		return nil, errors.Validation("No input provided for parsing")
	}

	key := parseCacheKey(in)
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, key)
		switch {
		case err == nil:
			span.SetAttributes(telemetry.String("cache", "hit"))
			return cached, nil
		case !stderrors.Is(err, ErrCacheMiss):
			s.logger.Warn("parse cache read failed", zap.Error(err))
		}
	}

	var parts []llms.ContentPart
	if len(in.Image) > 0 {
		mime := in.MIMEType
		if mime == "" {
			mime = "image/png"
		}
		parts = append(parts,
			llms.BinaryPart(mime, in.Image),
			llms.TextPart(jobExtractionPrompt+"\nEXTRACT JOB DETAILS FROM THIS SCREENSHOT."),
		)
	} else {
		text := in.Text
		if len(text) > maxPromptText {
			text = text[:maxPromptText]
		}
		parts = append(parts, llms.TextPart(jobExtractionPrompt+"\nEXTRACT JOB DETAILS FROM THIS TEXT:\n\n"+text))
	}

	resp, err := s.Client.GenerateContent(ctx,
		[]llms.MessageContent{{Role: llms.ChatMessageTypeHuman, Parts: parts}},
		llms.WithJSONMode(),
	)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, errors.AIParsing("AI request failed", err)
	}
	if resp == nil || len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return nil, errors.AIParsing("AI returned an empty response", nil)
	}

	content := cleanJSONResponse(resp.Choices[0].Content)
	var parsed dtos.ParsedJob
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		s.logger.Error("failed to parse AI response", zap.String("content", content), zap.Error(err))
		return nil, errors.AIParsing("AI returned invalid JSON format", err)
	}
	parsed.Normalize()

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, &parsed, s.ttl); err != nil {
			s.logger.Warn("parse cache write failed", zap.Error(err))
		}
	}
	return &parsed, nil
}

const emailClassificationPrompt = `You track job applications. Classify the recruiting email below.

Reply with exactly one word from this list:
Interview, Technical Test, Offer, Rejected, None

Use "None" when the email does not change the application status (newsletters, receipts, generic confirmations).

SUBJECT: %s

BODY:
%s
`

// ClassifyEmail maps a recruiting email to the status it implies. ok is false
// when the email does not move the application.
func (s *LLMService) ClassifyEmail(ctx context.Context, subject, body string) (models.Status, bool, error) {
	ctx, span := tracer.Start(ctx, "LLMService.ClassifyEmail")
	defer span.End()

	if len(body) > maxPromptText {
		body = body[:maxPromptText]
	}
	resp, err := llms.GenerateFromSinglePrompt(ctx, s.Client, fmt.Sprintf(emailClassificationPrompt, subject, body))
	if err != nil {
		telemetry.RecordError(span, err)
		return "", false, errors.AIParsing("AI request failed", err)
	}

	answer := strings.Trim(strings.TrimSpace(resp), `."'`)
	st, ok := models.ParseStatus(answer)
	if !ok || st == models.StatusSaved || st == models.StatusApplied {
		return "", false, nil
	}
	return st, true, nil
}

func parseCacheKey(in ParseInput) string {
	h := sha256.New()
	if len(in.Image) > 0 {
		h.Write([]byte("image:" + in.MIMEType + ":"))
		h.Write(in.Image)
	} else {
		h.Write([]byte("text:" + strings.TrimSpace(in.Text)))
	}
	return "parse:" + hex.EncodeToString(h.Sum(nil))
}

// cleanJSONResponse strips markdown fences and any prose around the object.
func cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```json") {
		content = strings.TrimPrefix(content, "```json")
	} else if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```")
	}
	content = strings.TrimSuffix(content, "```")

	content = strings.TrimSpace(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")

	if start != -1 && end != -1 && end > start {
		content = content[start : end+1]
	}

	return strings.TrimSpace(content)
}
