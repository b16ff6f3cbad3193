// Package scheduler runs background jobs on cron schedules. It wraps
// robfig/cron with per-job timeouts, overlap protection, run history and
// structured logging.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gradehub/orientation-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// JOB INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Job defines the interface that all scheduled jobs must implement.
type Job interface {
	// Name returns the unique name of the job.
	Name() string

	// Run executes the job. The context is cancelled on timeout or when the
	// scheduler stops.
	Run(ctx context.Context) error

	// Description returns a human-readable description of the job.
	Description() string
}

// JobResult contains the result of a job execution.
type JobResult struct {
	JobName     string        `json:"job_name"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
}

// JobInfo describes a registered job.
type JobInfo struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Spec        string     `json:"spec"`
	NextRun     time.Time  `json:"next_run"`
	LastRun     *JobResult `json:"last_run,omitempty"`
	RunCount    int64      `json:"run_count"`
	FailCount   int64      `json:"fail_count"`
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrNilJob is returned when registering a nil job.
	ErrNilJob = errors.New("scheduler: job is nil")

	// ErrJobAlreadyExists is returned when a job name is registered twice.
	ErrJobAlreadyExists = errors.New("scheduler: job already exists")

	// ErrJobNotFound is returned for an unknown job name.
	ErrJobNotFound = errors.New("scheduler: job not found")

	// ErrInvalidSpec is returned for an unparsable cron spec.
	ErrInvalidSpec = errors.New("scheduler: invalid cron spec")
)

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// Config contains configuration for the Scheduler.
type Config struct {
	Logger *logger.Logger

	// Location for schedule calculations (default: UTC).
	Location *time.Location

	// JobTimeout bounds a single run. Zero means no timeout.
	JobTimeout time.Duration

	// MaxHistorySize is the maximum number of job results kept in history.
	MaxHistorySize int
}

// Scheduler manages and executes scheduled jobs.
type Scheduler struct {
	mu sync.RWMutex

	cron    *cron.Cron
	log     *logger.Logger
	timeout time.Duration

	jobs       map[string]*scheduledJob
	history    []JobResult
	maxHistory int

	ctx    context.Context
	cancel context.CancelFunc
}

type scheduledJob struct {
	job       Job
	spec      string
	entryID   cron.EntryID
	running   sync.Mutex
	lastRun   *JobResult
	runCount  int64
	failCount int64
}

// New creates a Scheduler. Jobs do not run until Start.
func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxHistorySize <= 0 {
		cfg.MaxHistorySize = 100
	}

	log := cfg.Logger.With(logger.Component("scheduler"))
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:       cron.New(cron.WithLocation(cfg.Location), cron.WithChain(cron.Recover(cronLogger{log}))),
		log:        log,
		timeout:    cfg.JobTimeout,
		jobs:       make(map[string]*scheduledJob),
		maxHistory: cfg.MaxHistorySize,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Register adds a job on a standard cron spec or a descriptor such as
// "@every 10m" or "@daily".
func (s *Scheduler) Register(job Job, spec string) error {
	if job == nil {
		return ErrNilJob
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}

	sj := &scheduledJob{job: job, spec: spec}
	id, err := s.cron.AddFunc(spec, func() { s.run(s.ctx, sj, false) })
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidSpec, spec, err)
	}
	sj.entryID = id
	s.jobs[name] = sj

	s.log.Info("job registered",
		logger.String("job", name),
		logger.String("spec", spec),
		logger.String("description", job.Description()),
	)
	return nil
}

// Start begins running jobs on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", logger.Int("jobs", len(s.jobs)))
}

// Stop cancels running jobs and waits for them to return or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()

	select {
	case <-done.Done():
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow executes a job immediately, outside its schedule. It returns an
// error result without running if the job is already in progress.
func (s *Scheduler) RunNow(ctx context.Context, name string) (*JobResult, error) {
	s.mu.RLock()
	sj, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}

	res := s.run(ctx, sj, true)
	return &res, nil
}

// run executes sj once. Overlapping runs of the same job are skipped.
func (s *Scheduler) run(ctx context.Context, sj *scheduledJob, manual bool) JobResult {
	name := sj.job.Name()
	log := s.log.With(logger.String("job", name), logger.Bool("manual", manual))

	if !sj.running.TryLock() {
		log.Warn("job still running, skipping")
		return JobResult{JobName: name, StartedAt: time.Now(), CompletedAt: time.Now(), Error: "already running"}
	}
	defer sj.running.Unlock()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	res := JobResult{JobName: name, StartedAt: time.Now()}
	err := sj.job.Run(ctx)
	res.CompletedAt = time.Now()
	res.Duration = res.CompletedAt.Sub(res.StartedAt)
	res.Success = err == nil
	if err != nil {
		res.Error = err.Error()
		log.Error("job failed", logger.Err(err), logger.Latency(res.Duration))
	} else {
		log.Info("job completed", logger.Latency(res.Duration))
	}

	s.record(sj, res)
	return res
}

func (s *Scheduler) record(sj *scheduledJob, res JobResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sj.runCount++
	if !res.Success {
		sj.failCount++
	}
	r := res
	sj.lastRun = &r

	s.history = append(s.history, res)
	if over := len(s.history) - s.maxHistory; over > 0 {
		s.history = append([]JobResult(nil), s.history[over:]...)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS & INFO
// ══════════════════════════════════════════════════════════════════════════════

// ListJobs returns information about all registered jobs.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobInfo, 0, len(s.jobs))
	for name, sj := range s.jobs {
		out = append(out, JobInfo{
			Name:        name,
			Description: sj.job.Description(),
			Spec:        sj.spec,
			NextRun:     s.cron.Entry(sj.entryID).Next,
			LastRun:     sj.lastRun,
			RunCount:    sj.runCount,
			FailCount:   sj.failCount,
		})
	}
	return out
}

// History returns up to limit of the most recent results, newest last.
func (s *Scheduler) History(limit int) []JobResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	return append([]JobResult(nil), s.history[len(s.history)-limit:]...)
}

// ══════════════════════════════════════════════════════════════════════════════
// CRON LOGGER ADAPTER
// ══════════════════════════════════════════════════════════════════════════════

// cronLogger routes robfig/cron's internal logging to our logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(kvFields(keysAndValues), logger.Err(err))...)
}

func kvFields(kv []any) []logger.Field {
	fields := make([]logger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, logger.F(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fields
}
