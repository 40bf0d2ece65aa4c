package optimistic

import (
	"context"
	stderrors "errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/justsurfingit/jobtracker/internal/errors"
	"github.com/justsurfingit/jobtracker/internal/models"
	"github.com/justsurfingit/jobtracker/internal/querycache"
	"github.com/justsurfingit/jobtracker/internal/views"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type fakeAPI struct {
	create func(ctx context.Context, job models.Job) (int64, error)
	update func(ctx context.Context, job models.Job) error
	delete func(ctx context.Context, id int64) error
	calls  atomic.Int32
}

func (f *fakeAPI) CreateJob(ctx context.Context, job models.Job) (int64, error) {
	f.calls.Add(1)
	if f.create == nil {
		return 100, nil
	}
	return f.create(ctx, job)
}

func (f *fakeAPI) UpdateJob(ctx context.Context, job models.Job) error {
	f.calls.Add(1)
	if f.update == nil {
		return nil
	}
	return f.update(ctx, job)
}

func (f *fakeAPI) DeleteJob(ctx context.Context, id int64) error {
	f.calls.Add(1)
	if f.delete == nil {
		return nil
	}
	return f.delete(ctx, id)
}

func seeded(ids ...int64) []models.Job {
	jobs := make([]models.Job, 0, len(ids))
	for _, id := range ids {
		jobs = append(jobs, models.Job{
			ID:          id,
			Title:       "Engineer",
			Company:     "Company",
			DateApplied: "2024-01-15",
			Status:      models.StatusApplied,
			TechStack:   []string{"Go"},
		})
	}
	return jobs
}

func newController(t *testing.T, api JobsAPI, jobs []models.Job) (*Controller, *querycache.Cache) {
	t.Helper()
	cache := querycache.New(querycache.JobsKey, nil, nil)
	t.Cleanup(cache.Close)
	cache.Write(querycache.NewSnapshot(jobs))
	return New(cache, api, nil), cache
}

func ids(s querycache.Snapshot) []int64 {
	out := []int64{}
	for _, j := range s.Jobs() {
		out = append(out, j.ID)
	}
	return out
}

func newJob() models.Job {
	return models.Job{Title: "Platform Engineer", Company: "Initech", DateApplied: "2024-02-01", TechStack: []string{"Go"}}
}

func TestCreateShowsPlaceholderThenConfirmedRecord(t *testing.T) {
	gate := make(chan struct{})
	api := &fakeAPI{create: func(ctx context.Context, job models.Job) (int64, error) {
		<-gate
		return 42, nil
	}}
	ctrl, cache := newController(t, api, seeded(1))

	type result struct {
		job models.Job
		err error
	}
	done := make(chan result, 1)
	go func() {
		j, err := ctrl.Create(context.Background(), newJob())
		done <- result{j, err}
	}()

	require.Eventually(t, func() bool { return cache.Read().Len() == 2 }, time.Second, time.Millisecond)
	jobs := cache.Read().Jobs()
	placeholder := jobs[1]
	assert.Negative(t, placeholder.ID)
	assert.Equal(t, models.StatusPending, placeholder.Status)
	assert.Equal(t, "Platform Engineer", placeholder.Title)
	assert.True(t, ctrl.InFlight(placeholder.ID))

	close(gate)
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, int64(42), res.job.ID)
	assert.Equal(t, models.StatusApplied, res.job.Status)

	assert.Equal(t, []int64{1, 42}, ids(cache.Read()))
	assert.False(t, cache.Read().HasPlaceholder())
	assert.False(t, ctrl.InFlight(placeholder.ID))
	assert.True(t, cache.IsStale())
}

func TestCreateFailureRestoresCollection(t *testing.T) {
	api := &fakeAPI{create: func(context.Context, models.Job) (int64, error) {
		return 0, errors.Server(http.StatusInternalServerError, "database is locked").WithOp("create job")
	}}
	ctrl, cache := newController(t, api, seeded(1, 2))
	before := cache.Read().Jobs()

	_, err := ctrl.Create(context.Background(), newJob())
	require.Error(t, err)
	assert.Equal(t, "create job failed: database is locked", errors.UserMessage(err))

	assert.Equal(t, before, cache.Read().Jobs())
	assert.False(t, cache.Read().HasPlaceholder())
}

func TestCreateValidationBlocksCall(t *testing.T) {
	api := &fakeAPI{}
	ctrl, cache := newController(t, api, seeded(1))
	version := cache.Version()

	job := newJob()
	job.Title = "  "
	_, err := ctrl.Create(context.Background(), job)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	assert.Contains(t, errors.UserMessage(err), "create job failed: ")
	assert.Equal(t, int32(0), api.calls.Load())
	assert.Equal(t, version, cache.Version())
}

func TestCreateDoesNotDuplicateRefetchedRecord(t *testing.T) {
	gate := make(chan struct{})
	api := &fakeAPI{create: func(context.Context, models.Job) (int64, error) {
		<-gate
		return 7, nil
	}}
	ctrl, cache := newController(t, api, nil)

	done := make(chan error, 1)
	go func() {
		_, err := ctrl.Create(context.Background(), newJob())
		done <- err
	}()
	require.Eventually(t, func() bool { return cache.Read().HasPlaceholder() }, time.Second, time.Millisecond)

	// a list fetch that completed after the server stored the job
	cache.Write(querycache.NewSnapshot(seeded(7)))
	close(gate)
	require.NoError(t, <-done)

	assert.Equal(t, []int64{7}, ids(cache.Read()))
}

func TestDeleteRemovesImmediately(t *testing.T) {
	gate := make(chan struct{})
	api := &fakeAPI{delete: func(context.Context, int64) error {
		<-gate
		return nil
	}}
	ctrl, cache := newController(t, api, seeded(1, 2))

	done := make(chan error, 1)
	go func() { done <- ctrl.Delete(context.Background(), 1) }()

	require.Eventually(t, func() bool { return ctrl.InFlight(1) }, time.Second, time.Millisecond)
	assert.Equal(t, []int64{2}, ids(cache.Read()))

	close(gate)
	require.NoError(t, <-done)
	assert.Equal(t, []int64{2}, ids(cache.Read()))
	assert.False(t, ctrl.InFlight(1))
}

func TestDeleteFailureRestoresOriginalOrder(t *testing.T) {
	api := &fakeAPI{delete: func(context.Context, int64) error {
		return errors.Network("could not reach the server", stderrors.New("connection refused")).WithOp("delete job")
	}}
	ctrl, cache := newController(t, api, seeded(1, 2))
	before := cache.Read().Jobs()

	err := ctrl.Delete(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeNetwork))
	assert.Equal(t, "delete job failed: could not reach the server", errors.UserMessage(err))

	assert.Equal(t, []int64{1, 2}, ids(cache.Read()))
	assert.Equal(t, before, cache.Read().Jobs())
	assert.False(t, ctrl.InFlight(1))
}

func TestDeleteOfMissingJobIsSuccess(t *testing.T) {
	api := &fakeAPI{delete: func(context.Context, int64) error {
		return errors.Server(http.StatusNotFound, "Job not found").WithOp("delete job")
	}}
	ctrl, cache := newController(t, api, seeded(1, 2))

	require.NoError(t, ctrl.Delete(context.Background(), 1))
	assert.Equal(t, []int64{2}, ids(cache.Read()))
}

func TestUpdateOptimisticAndRollback(t *testing.T) {
	gate := make(chan struct{})
	fail := errors.Server(http.StatusBadRequest, "status is invalid").WithOp("update job")
	api := &fakeAPI{update: func(context.Context, models.Job) error {
		<-gate
		return fail
	}}
	ctrl, cache := newController(t, api, seeded(1, 2))
	before := cache.Read().Jobs()

	changed := before[0]
	changed.Status = models.StatusInterview
	changed.TechStack = append(changed.TechStack, "Kafka")

	done := make(chan error, 1)
	go func() { done <- ctrl.Update(context.Background(), changed) }()

	require.Eventually(t, func() bool {
		j, _ := cache.Read().Find(1)
		return j.Status == models.StatusInterview
	}, time.Second, time.Millisecond)
	assert.Equal(t, []int64{1, 2}, ids(cache.Read()), "updated in place")

	close(gate)
	err := <-done
	require.Error(t, err)
	assert.Equal(t, "update job failed: status is invalid", errors.UserMessage(err))
	assert.Equal(t, before, cache.Read().Jobs())
}

func TestUpdateSuccessKeepsSubmittedRecord(t *testing.T) {
	var sent models.Job
	api := &fakeAPI{update: func(_ context.Context, job models.Job) error {
		sent = job
		return nil
	}}
	ctrl, cache := newController(t, api, seeded(1))

	job := seeded(1)[0]
	job.Status = models.StatusOffer
	require.NoError(t, ctrl.Update(context.Background(), job))

	got, ok := cache.Read().Find(1)
	require.True(t, ok)
	assert.Equal(t, models.StatusOffer, got.Status)
	assert.Equal(t, models.StatusOffer, sent.Status)
}

func TestSameJobMutationsSerialize(t *testing.T) {
	gate := make(chan struct{})
	api := &fakeAPI{delete: func(context.Context, int64) error {
		<-gate
		return nil
	}}
	ctrl, cache := newController(t, api, seeded(1, 2))

	done := make(chan error, 1)
	go func() { done <- ctrl.Delete(context.Background(), 1) }()
	require.Eventually(t, func() bool { return ctrl.InFlight(1) }, time.Second, time.Millisecond)
	version := cache.Version()

	err := ctrl.Delete(context.Background(), 1)
	assert.ErrorIs(t, err, ErrInFlight)
	job := seeded(1)[0]
	err = ctrl.Update(context.Background(), job)
	assert.ErrorIs(t, err, ErrInFlight)
	assert.Equal(t, "update job failed: another change to this job is still in progress", errors.UserMessage(err))
	assert.Equal(t, version, cache.Version(), "rejected mutations do not touch the cache")
	assert.Equal(t, int32(1), api.calls.Load())

	close(gate)
	require.NoError(t, <-done)
	assert.False(t, ctrl.InFlight(1))
}

func TestConcurrentMutationsRollBackIndependently(t *testing.T) {
	gates := map[int64]chan struct{}{1: make(chan struct{}), 2: make(chan struct{})}
	api := &fakeAPI{delete: func(_ context.Context, id int64) error {
		<-gates[id]
		if id == 1 {
			return errors.Server(http.StatusInternalServerError, "boom").WithOp("delete job")
		}
		return nil
	}}
	ctrl, cache := newController(t, api, seeded(1, 2, 3))

	var wg sync.WaitGroup
	errs := make(map[int64]error)
	var mu sync.Mutex
	start := func(id int64) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := ctrl.Delete(context.Background(), id)
			mu.Lock()
			errs[id] = err
			mu.Unlock()
		}()
		require.Eventually(t, func() bool { return ctrl.InFlight(id) }, time.Second, time.Millisecond)
	}
	start(1)
	start(2)
	assert.Equal(t, []int64{3}, ids(cache.Read()))

	// success of 2 lands before the failure of 1
	close(gates[2])
	require.Eventually(t, func() bool { return !ctrl.InFlight(2) }, time.Second, time.Millisecond)
	close(gates[1])
	wg.Wait()

	assert.Error(t, errs[1])
	assert.NoError(t, errs[2])
	assert.Equal(t, []int64{1, 3}, ids(cache.Read()))
}

func TestNoPlaceholderObservedAfterSettle(t *testing.T) {
	var calls atomic.Int32
	api := &fakeAPI{create: func(context.Context, models.Job) (int64, error) {
		if calls.Add(1)%2 == 0 {
			return 0, errors.Server(http.StatusInternalServerError, "fail")
		}
		return int64(500 + calls.Load()), nil
	}}
	ctrl, cache := newController(t, api, seeded(1))

	for range 6 {
		_, _ = ctrl.Create(context.Background(), newJob())
		assert.False(t, cache.Read().HasPlaceholder())
	}
	assert.Equal(t, 4, cache.Read().Len())
}

func TestSubscribersSeePredictionAndSettlement(t *testing.T) {
	api := &fakeAPI{delete: func(context.Context, int64) error {
		return errors.Server(http.StatusInternalServerError, "fail")
	}}
	ctrl, cache := newController(t, api, seeded(1, 2))

	var lens []int
	unsubscribe := cache.Subscribe(func(s querycache.Snapshot) { lens = append(lens, s.Len()) })
	defer unsubscribe()

	require.Error(t, ctrl.Delete(context.Background(), 1))
	assert.Equal(t, []int{1, 2}, lens)
}

func TestCreateSendsUserFieldsNotPlaceholder(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	api := NewMockJobsAPI(mockCtrl)
	ctrl, cache := newController(t, api, nil)

	api.EXPECT().
		CreateJob(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, job models.Job) (int64, error) {
			assert.Zero(t, job.ID)
			assert.Empty(t, job.Status)
			assert.Equal(t, "Initech", job.Company)
			return 11, nil
		}).
		Times(1)

	job, err := ctrl.Create(context.Background(), newJob())
	require.NoError(t, err)
	assert.Equal(t, int64(11), job.ID)
	assert.Equal(t, []int64{11}, ids(cache.Read()))
}

func TestDeleteCallsAPIOncePerID(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	api := NewMockJobsAPI(mockCtrl)
	ctrl, cache := newController(t, api, seeded(1, 2))

	gomock.InOrder(
		api.EXPECT().DeleteJob(gomock.Any(), int64(2)).Return(nil),
		api.EXPECT().DeleteJob(gomock.Any(), int64(1)).Return(nil),
	)

	require.NoError(t, ctrl.Delete(context.Background(), 2))
	require.NoError(t, ctrl.Delete(context.Background(), 1))
	assert.Empty(t, ids(cache.Read()))
}

func TestCreateCachesStoredForm(t *testing.T) {
	ctrl, cache := newController(t, &fakeAPI{}, seeded(1))

	job := newJob()
	job.Status = "interview"
	job.SalaryFrequency = "monthly"
	job.Company = "  Initech "
	confirmed, err := ctrl.Create(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, models.StatusInterview, confirmed.Status)
	assert.Equal(t, models.FrequencyMonthly, confirmed.SalaryFrequency)
	assert.Equal(t, "Initech", confirmed.Company)

	got, ok := cache.Read().Find(100)
	require.True(t, ok)
	assert.Equal(t, confirmed, got)

	st := views.ComputeStats(cache.Read().Jobs(), time.Date(2024, 6, 12, 10, 0, 0, 0, time.Local))
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 1, st.Interviews)
}

func TestUpdateWithEmptyStatusCachesApplied(t *testing.T) {
	gate := make(chan struct{})
	api := &fakeAPI{update: func(context.Context, models.Job) error {
		<-gate
		return nil
	}}
	ctrl, cache := newController(t, api, seeded(1))

	job := seeded(1)[0]
	job.Status = ""
	job.SalaryFrequency = "hourly"

	done := make(chan error, 1)
	go func() { done <- ctrl.Update(context.Background(), job) }()
	require.Eventually(t, func() bool { return ctrl.InFlight(1) }, time.Second, time.Millisecond)

	predicted, _ := cache.Read().Find(1)
	assert.Equal(t, models.StatusApplied, predicted.Status)
	assert.Equal(t, models.FrequencyHourly, predicted.SalaryFrequency)

	close(gate)
	require.NoError(t, <-done)
	got, _ := cache.Read().Find(1)
	assert.Equal(t, models.StatusApplied, got.Status)
	assert.Equal(t, models.FrequencyHourly, got.SalaryFrequency)
}
