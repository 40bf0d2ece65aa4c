package services

import (
	"context"
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/justsurfingit/jobtracker/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"gorm.io/gorm"
)

// Email is the part of a message the status sync looks at.
type Email struct {
	ID      string
	Subject string
	From    string
	Body    string
}

// MailSource lists new messages. The returned cursor is passed back to
// Incremental on the next cycle.
type MailSource interface {
	Full(ctx context.Context) ([]Email, uint64, error)
	Incremental(ctx context.Context, startID uint64) ([]Email, uint64, error)
}

// StatusClassifier is implemented by LLMService.
type StatusClassifier interface {
	ClassifyEmail(ctx context.Context, subject, body string) (models.Status, bool, error)
}

// ErrHistoryExpired is returned by Incremental when the cursor is too old.
var ErrHistoryExpired = stderrors.New("gmail history expired")

const defaultAccount = "me"

// EmailService moves jobs along the pipeline based on recruiter email.
type EmailService struct {
	DB         *gorm.DB
	Jobs       *JobService
	Matcher    *MatcherService
	Classifier StatusClassifier
	Source     MailSource
	logger     *zap.Logger

	mu   sync.Mutex
	stop context.CancelFunc
	done chan struct{}
}

func NewEmailService(db *gorm.DB, jobs *JobService, matcher *MatcherService, classifier StatusClassifier, source MailSource, logger *zap.Logger) *EmailService {
	return &EmailService{
		DB:         db,
		Jobs:       jobs,
		Matcher:    matcher,
		Classifier: classifier,
		Source:     source,
		logger:     logger,
	}
}

// Enabled reports whether both Gmail and the classifier are configured.
func (s *EmailService) Enabled() bool {
	return s.Source != nil && s.Classifier != nil
}

// StartWatcher syncs immediately and then every interval until StopWatcher.
func (s *EmailService) StartWatcher(interval time.Duration) {
	if !s.Enabled() {
		s.logger.Warn("gmail watcher disabled, missing gmail client or AI parser")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			s.runCycle(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (s *EmailService) StopWatcher() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
}

func (s *EmailService) runCycle(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	if err := s.SyncEmails(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("email sync failed", zap.Error(err))
	}
}

// SyncEmails runs one sync cycle. Emails that fail are retried next cycle.
func (s *EmailService) SyncEmails(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "EmailService.SyncEmails")
	defer span.End()

	state := models.SyncState{Account: defaultAccount}
	if err := s.DB.WithContext(ctx).Where(models.SyncState{Account: defaultAccount}).FirstOrCreate(&state).Error; err != nil {
		return fmt.Errorf("load sync state: %w", err)
	}

	var (
		emails    []Email
		historyID uint64
		err       error
	)
	if state.LastHistoryID == 0 {
		s.logger.Info("first run, full mailbox sync")
		emails, historyID, err = s.Source.Full(ctx)
	} else {
		emails, historyID, err = s.Source.Incremental(ctx, state.LastHistoryID)
		if stderrors.Is(err, ErrHistoryExpired) {
			s.logger.Warn("history id expired, falling back to full sync")
			emails, historyID, err = s.Source.Full(ctx)
		}
	}
	if err != nil {
		return err
	}

	for _, e := range emails {
		var count int64
		if err := s.DB.WithContext(ctx).Model(&models.ProcessedEmail{}).Where("id = ?", e.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		if err := s.processEmail(ctx, e); err != nil {
			// Leave it unmarked so the next cycle retries it.
			s.logger.Warn("email not processed", zap.String("email_id", e.ID), zap.Error(err))
			continue
		}
		if err := s.DB.WithContext(ctx).Create(&models.ProcessedEmail{ID: e.ID}).Error; err != nil {
			return err
		}
	}

	if historyID > state.LastHistoryID {
		if err := s.DB.WithContext(ctx).Model(&state).Update("last_history_id", historyID).Error; err != nil {
			return err
		}
		s.logger.Debug("history cursor advanced", zap.Uint64("history_id", historyID))
	}
	return nil
}

func (s *EmailService) processEmail(ctx context.Context, e Email) error {
	log := s.logger.With(zap.String("email_id", e.ID), zap.String("subject", e.Subject))

	job, err := s.Matcher.FindJobFromEmail(ctx, e.Subject, e.From)
	if err != nil {
		return err
	}
	if job == nil {
		log.Debug("no tracked company matches")
		return nil
	}

	status, ok, err := s.Classifier.ClassifyEmail(ctx, e.Subject, e.Body)
	if err != nil {
		return err
	}
	if !ok || status == job.Status {
		log.Debug("no status change", zap.Int64("job_id", job.ID))
		return nil
	}

	log.Info("updating job status from email",
		zap.Int64("job_id", job.ID),
		zap.String("from", string(job.Status)),
		zap.String("to", string(status)))
	return s.Jobs.UpdateStatus(ctx, job.ID, status, "email: "+e.Subject)
}

// GmailSource reads the authorized user's mailbox.
type GmailSource struct {
	Client *gmail.Service
	logger *zap.Logger
}

func NewGmailSource(client *gmail.Service, logger *zap.Logger) *GmailSource {
	return &GmailSource{Client: client, logger: logger}
}

// Full scans the last 7 days and returns the current history id as the new
// cursor.
func (g *GmailSource) Full(ctx context.Context) ([]Email, uint64, error) {
	q := "subject:(application OR interview OR update OR offer OR rejected OR status) newer_than:7d"

	var resp *gmail.ListMessagesResponse
	err := g.retry(ctx, 3, time.Second, func() error {
		var e error
		resp, e = g.Client.Users.Messages.List(defaultAccount).Q(q).MaxResults(50).Context(ctx).Do()
		return e
	})
	if err != nil {
		return nil, 0, err
	}

	profile, err := g.Client.Users.GetProfile(defaultAccount).Context(ctx).Do()
	if err != nil {
		return nil, 0, err
	}

	emails, err := g.expand(ctx, resp.Messages)
	return emails, profile.HistoryId, err
}

func (g *GmailSource) Incremental(ctx context.Context, startID uint64) ([]Email, uint64, error) {
	var resp *gmail.ListHistoryResponse
	err := g.retry(ctx, 3, time.Second, func() error {
		var e error
		resp, e = g.Client.Users.History.List(defaultAccount).
			StartHistoryId(startID).
			HistoryTypes("messageAdded").
			Context(ctx).Do()
		return e
	})
	if isHistoryExpiredError(err) {
		return nil, 0, ErrHistoryExpired
	}
	if err != nil {
		return nil, 0, err
	}

	var added []*gmail.Message
	for _, h := range resp.History {
		for _, m := range h.MessagesAdded {
			if m.Message != nil {
				added = append(added, m.Message)
			}
		}
	}

	emails, err := g.expand(ctx, added)
	return emails, resp.HistoryId, err
}

// expand fetches full messages concurrently. Messages that keep failing are
// skipped; they are picked up again by the next full sync.
func (g *GmailSource) expand(ctx context.Context, headers []*gmail.Message) ([]Email, error) {
	out := make([]*Email, len(headers))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(5)
	for i, h := range headers {
		eg.Go(func() error {
			var msg *gmail.Message
			err := g.retry(ctx, 2, 500*time.Millisecond, func() error {
				var e error
				msg, e = g.Client.Users.Messages.Get(defaultAccount, h.Id).Format("full").Context(ctx).Do()
				return e
			})
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				g.logger.Warn("skipping message", zap.String("id", h.Id), zap.Error(err))
				return nil
			}
			e := toEmail(msg)
			out[i] = &e
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	emails := make([]Email, 0, len(out))
	for _, e := range out {
		if e != nil {
			emails = append(emails, *e)
		}
	}
	return emails, nil
}

// retry backs off exponentially. A 404 fails fast so the caller can switch to
// a full sync.
func (g *GmailSource) retry(ctx context.Context, attempts int, sleep time.Duration, f func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = f(); err == nil || isHistoryExpiredError(err) {
			return err
		}
		g.logger.Debug("gmail api error, retrying", zap.Duration("sleep", sleep), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		sleep *= 2
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, err)
}

func isHistoryExpiredError(err error) bool {
	var gErr *googleapi.Error
	return stderrors.As(err, &gErr) && gErr.Code == 404
}

func toEmail(msg *gmail.Message) Email {
	e := Email{ID: msg.Id}
	if msg.Payload == nil {
		return e
	}
	for _, h := range msg.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "subject":
			e.Subject = h.Value
		case "from":
			e.From = h.Value
		}
	}
	e.Body = emailBody(msg.Payload)
	return e
}

// emailBody prefers text/plain over text/html.
func emailBody(p *gmail.MessagePart) string {
	if p.Body != nil && p.Body.Data != "" {
		return decodeBody(p.Body.Data)
	}
	for _, mime := range []string{"text/plain", "text/html"} {
		for _, part := range p.Parts {
			if part.MimeType == mime && part.Body != nil && part.Body.Data != "" {
				return decodeBody(part.Body.Data)
			}
		}
	}
	return ""
}

func decodeBody(data string) string {
	// Gmail uses URL-safe base64 and may omit padding.
	if d, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(d)
	}
	d, _ := base64.RawURLEncoding.DecodeString(data)
	return string(d)
}
