package scheduler

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradehub/orientation-engine/pkg/logger"
)

type fakeJob struct {
	name  string
	err   error
	runs  atomic.Int32
	block chan struct{}
}

func (j *fakeJob) Name() string        { return j.name }
func (j *fakeJob) Description() string { return "test job " + j.name }

func (j *fakeJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.block != nil {
		select {
		case <-j.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return j.err
}

func newTestScheduler(timeout time.Duration) *Scheduler {
	return New(Config{
		Logger:         logger.New(logger.Options{Output: io.Discard, Level: logger.LevelError}),
		JobTimeout:     timeout,
		MaxHistorySize: 3,
	})
}

func TestRegister(t *testing.T) {
	s := newTestScheduler(0)

	require.NoError(t, s.Register(&fakeJob{name: "a"}, "@every 1h"))
	assert.ErrorIs(t, s.Register(&fakeJob{name: "a"}, "@every 1h"), ErrJobAlreadyExists)
	assert.ErrorIs(t, s.Register(&fakeJob{name: "b"}, "not a spec"), ErrInvalidSpec)
	assert.ErrorIs(t, s.Register(nil, "@daily"), ErrNilJob)

	jobs := s.ListJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "a", jobs[0].Name)
	assert.Equal(t, "@every 1h", jobs[0].Spec)
	assert.Nil(t, jobs[0].LastRun)
}

func TestRunNow(t *testing.T) {
	s := newTestScheduler(0)
	ok := &fakeJob{name: "ok"}
	bad := &fakeJob{name: "bad", err: errors.New("boom")}
	require.NoError(t, s.Register(ok, "@daily"))
	require.NoError(t, s.Register(bad, "@daily"))

	res, err := s.RunNow(context.Background(), "ok")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int32(1), ok.runs.Load())

	res, err = s.RunNow(context.Background(), "bad")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "boom", res.Error)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	for _, info := range s.ListJobs() {
		require.NotNil(t, info.LastRun)
		assert.Equal(t, int64(1), info.RunCount)
		if info.Name == "bad" {
			assert.Equal(t, int64(1), info.FailCount)
		}
	}
}

func TestRunNow_Timeout(t *testing.T) {
	s := newTestScheduler(20 * time.Millisecond)
	job := &fakeJob{name: "slow", block: make(chan struct{})}
	require.NoError(t, s.Register(job, "@daily"))

	res, err := s.RunNow(context.Background(), "slow")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, context.DeadlineExceeded.Error())
}

func TestRun_SkipsOverlap(t *testing.T) {
	s := newTestScheduler(0)
	job := &fakeJob{name: "busy", block: make(chan struct{})}
	require.NoError(t, s.Register(job, "@daily"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.RunNow(context.Background(), "busy")
	}()
	require.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, time.Millisecond)

	res, err := s.RunNow(context.Background(), "busy")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "already running", res.Error)

	close(job.block)
	<-done
	assert.Equal(t, int32(1), job.runs.Load())
}

func TestHistory_Bounded(t *testing.T) {
	s := newTestScheduler(0)
	require.NoError(t, s.Register(&fakeJob{name: "j"}, "@daily"))

	for i := 0; i < 5; i++ {
		_, err := s.RunNow(context.Background(), "j")
		require.NoError(t, err)
	}

	assert.Len(t, s.History(0), 3)
	assert.Len(t, s.History(2), 2)
}

func TestStartStop(t *testing.T) {
	s := newTestScheduler(0)
	require.NoError(t, s.Register(&fakeJob{name: "j"}, "@every 1h"))
	s.Start()

	jobs := s.ListJobs()
	require.Len(t, jobs, 1)
	assert.False(t, jobs[0].NextRun.IsZero())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
