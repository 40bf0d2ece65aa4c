package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/justsurfingit/jobtracker/internal/database"
	"github.com/justsurfingit/jobtracker/internal/events"
	"github.com/justsurfingit/jobtracker/internal/models"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Connect("sqlite", "file::memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

type recordingPublisher struct {
	mu      sync.Mutex
	changes []events.Change
}

func (p *recordingPublisher) Publish(_ context.Context, c events.Change) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, c)
	return nil
}

func (p *recordingPublisher) types() []events.ChangeType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.ChangeType, len(p.changes))
	for i, c := range p.changes {
		out[i] = c.Type
	}
	return out
}

func newTestJobService(t *testing.T) (*JobService, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	s := NewJobService(newTestDB(t), pub, zap.NewNop())
	s.now = func() time.Time { return time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC) }
	return s, pub
}

func sampleJob(title, company, date string, status models.Status) models.Job {
	return models.Job{
		Title:       title,
		Company:     company,
		DateApplied: date,
		Status:      status,
		TechStack:   []string{"Go", "Postgres"},
	}
}

// fakeModel is an llms.Model returning canned responses.
type fakeModel struct {
	mu       sync.Mutex
	calls    int
	messages [][]llms.MessageContent
	reply    func(call int) (string, error)
}

func (m *fakeModel) GenerateContent(_ context.Context, msgs []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.messages = append(m.messages, msgs)
	m.mu.Unlock()

	text, err := m.reply(call)
	if err != nil {
		return nil, err
	}
	if text == "" {
		return &llms.ContentResponse{}, nil
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, opts...)
}

func (m *fakeModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func replyWith(text string) func(int) (string, error) {
	return func(int) (string, error) { return text, nil }
}
