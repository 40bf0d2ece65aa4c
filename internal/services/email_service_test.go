package services

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/justsurfingit/jobtracker/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
)

type fakeSource struct {
	full        []Email
	incremental []Email
	expired     bool
	fullCalls   int
	startIDs    []uint64
}

func (f *fakeSource) Full(context.Context) ([]Email, uint64, error) {
	f.fullCalls++
	return f.full, 100, nil
}

func (f *fakeSource) Incremental(_ context.Context, startID uint64) ([]Email, uint64, error) {
	f.startIDs = append(f.startIDs, startID)
	if f.expired {
		return nil, 0, ErrHistoryExpired
	}
	return f.incremental, startID + 10, nil
}

type fakeClassifier struct {
	status models.Status
	calls  int
}

func (c *fakeClassifier) ClassifyEmail(context.Context, string, string) (models.Status, bool, error) {
	c.calls++
	if c.status == "" {
		return "", false, nil
	}
	return c.status, true, nil
}

func newTestEmailService(t *testing.T, src MailSource, cls StatusClassifier) (*EmailService, *JobService) {
	t.Helper()
	jobs, _ := newTestJobService(t)
	return NewEmailService(jobs.DB, jobs, NewMatcherService(jobs.DB), cls, src, zap.NewNop()), jobs
}

func TestSyncEmailsUpdatesMatchedJob(t *testing.T) {
	src := &fakeSource{full: []Email{
		{ID: "m1", Subject: "Your interview with Acme", From: "Acme Recruiting <jobs@acme.com>"},
		{ID: "m2", Subject: "Weekly digest", From: "news@example.com"},
	}}
	cls := &fakeClassifier{status: models.StatusInterview}
	s, jobs := newTestEmailService(t, src, cls)
	ctx := context.Background()

	id, err := jobs.Create(ctx, sampleJob("Backend Engineer", "Acme", "2024-01-10", models.StatusApplied))
	require.NoError(t, err)

	require.NoError(t, s.SyncEmails(ctx))

	got, err := jobs.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInterview, got.Status)
	assert.Equal(t, 1, cls.calls, "unmatched email is not sent to the classifier")

	var state models.SyncState
	require.NoError(t, jobs.DB.First(&state).Error)
	assert.Equal(t, uint64(100), state.LastHistoryID)

	// Second cycle is incremental and skips processed ids.
	src.incremental = src.full
	require.NoError(t, s.SyncEmails(ctx))
	assert.Equal(t, []uint64{100}, src.startIDs)
	assert.Equal(t, 1, cls.calls)
}

func TestSyncEmailsFallsBackToFullOnExpiredHistory(t *testing.T) {
	src := &fakeSource{expired: true}
	s, jobs := newTestEmailService(t, src, &fakeClassifier{})
	ctx := context.Background()

	require.NoError(t, jobs.DB.Create(&models.SyncState{Account: defaultAccount, LastHistoryID: 42}).Error)
	require.NoError(t, s.SyncEmails(ctx))

	assert.Equal(t, []uint64{42}, src.startIDs)
	assert.Equal(t, 1, src.fullCalls)
}

func TestMatcherSkipsTerminalAndPrefersTitle(t *testing.T) {
	jobs, _ := newTestJobService(t)
	m := NewMatcherService(jobs.DB)
	ctx := context.Background()

	_, err := jobs.Create(ctx, sampleJob("Data Engineer", "Globex", "2024-03-01", models.StatusApplied))
	require.NoError(t, err)
	backend, err := jobs.Create(ctx, sampleJob("Backend Engineer", "Globex", "2024-01-01", models.StatusApplied))
	require.NoError(t, err)
	_, err = jobs.Create(ctx, sampleJob("Designer", "Initech", "2024-01-01", models.StatusRejected))
	require.NoError(t, err)

	job, err := m.FindJobFromEmail(ctx, "Backend Engineer application update", "talent@globex.com")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, backend, job.ID)

	job, err = m.FindJobFromEmail(ctx, "Application update", "Globex Talent <no-reply@greenhouse.io>")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "Data Engineer", job.Title, "most recent application wins")

	job, err = m.FindJobFromEmail(ctx, "Initech update", "hr@initech.com")
	require.NoError(t, err)
	assert.Nil(t, job, "rejected jobs are not matched")
}

func TestWatcherStartStop(t *testing.T) {
	src := &fakeSource{}
	s, _ := newTestEmailService(t, src, &fakeClassifier{})

	s.StartWatcher(time.Hour)
	require.Eventually(t, func() bool {
		var state models.SyncState
		return s.DB.Where("last_history_id = ?", 100).First(&state).Error == nil
	}, 2*time.Second, 10*time.Millisecond)
	s.StopWatcher()
	s.StopWatcher()

	disabled := NewEmailService(s.DB, s.Jobs, s.Matcher, nil, nil, zap.NewNop())
	assert.False(t, disabled.Enabled())
	disabled.StartWatcher(time.Hour)
	disabled.StopWatcher()
}

func TestToEmail(t *testing.T) {
	body := base64.URLEncoding.EncodeToString([]byte("We would like to invite you"))
	msg := &gmail.Message{
		Id: "abc",
		Payload: &gmail.MessagePart{
			Headers: []*gmail.MessagePartHeader{
				{Name: "Subject", Value: "Interview"},
				{Name: "From", Value: "jobs@acme.com"},
			},
			Parts: []*gmail.MessagePart{
				{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: base64.URLEncoding.EncodeToString([]byte("<p>html</p>"))}},
				{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: body}},
			},
		},
	}

	e := toEmail(msg)
	assert.Equal(t, "abc", e.ID)
	assert.Equal(t, "Interview", e.Subject)
	assert.Equal(t, "jobs@acme.com", e.From)
	assert.Equal(t, "We would like to invite you", e.Body)
}

func TestIsHistoryExpiredError(t *testing.T) {
	assert.True(t, isHistoryExpiredError(&googleapi.Error{Code: 404}))
	assert.False(t, isHistoryExpiredError(&googleapi.Error{Code: 500}))
	assert.False(t, isHistoryExpiredError(nil))
}
