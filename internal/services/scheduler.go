package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/catalogarr/catalogarr/internal/logging"
	"github.com/catalogarr/catalogarr/internal/models"
	"github.com/catalogarr/catalogarr/internal/repository"
)

// DefaultJobTimeout is the soft per-run deadline; a run past it is
// cancelled and recorded as such.
const DefaultJobTimeout = 2 * time.Hour

var (
	ErrUnknownJob     = errors.New("unknown job")
	ErrAlreadyRunning = errors.New("job already running")
	ErrNotRunning     = errors.New("job not running")
)

// JobFunc is one run of a named job. It must honor ctx cancellation and
// report counters for the run history. scope narrows the run to a single
// provider; the empty scope means all providers.
type JobFunc func(ctx context.Context, scope string) (models.JobResult, error)

// Job is a named, periodically executed unit of work.
type Job struct {
	Name     string
	Interval time.Duration
	Run      JobFunc
}

type jobState struct {
	job     Job
	trigger chan string // carries the requested scope

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	lastRun time.Time
	runID   string
	status  models.JobStatus
}

// JobInfo is a point-in-time view of one job for the ops surface.
type JobInfo struct {
	Name     string           `json:"name"`
	Interval time.Duration    `json:"interval"`
	Running  bool             `json:"running"`
	RunID    string           `json:"run_id,omitempty"`
	LastRun  *time.Time       `json:"last_run,omitempty"`
	Status   models.JobStatus `json:"status,omitempty"`
}

// Scheduler owns the job table: cadence, manual triggers, cooperative
// cancellation and run history. At most one run per job name is active.
type Scheduler struct {
	history repository.JobHistoryRepo
	timeout time.Duration

	mu   sync.Mutex
	jobs map[string]*jobState
	wg   sync.WaitGroup
}

func NewScheduler(history repository.JobHistoryRepo, timeout time.Duration) *Scheduler {
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	return &Scheduler{
		history: history,
		timeout: timeout,
		jobs:    map[string]*jobState{},
	}
}

// Register adds a job. Must be called before Start.
func (s *Scheduler) Register(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.Name] = &jobState{job: job, trigger: make(chan string, 1)}
}

// Start restores each job's last completed run from history, so cadences
// survive restarts, then launches the per-job loops.
func (s *Scheduler) Start(ctx context.Context) error {
	lastRuns, err := s.history.LastRuns(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, st := range s.jobs {
		st.lastRun = lastRuns[name]
		s.wg.Add(1)
		go s.loop(ctx, st)
	}
	log := logging.Component("scheduler")
	log.Info().Int("jobs", len(s.jobs)).Msg("scheduler started")
	return nil
}

// Wait blocks until every job loop has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, st *jobState) {
	defer s.wg.Done()
	for {
		st.mu.Lock()
		next := st.lastRun.Add(st.job.Interval)
		st.mu.Unlock()

		delay := time.Until(next)
		if delay < 0 {
			delay = 0
		}
		timer := time.NewTimer(delay)
		scope := ""
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		case scope = <-st.trigger:
			timer.Stop()
		}
		s.execute(ctx, st, scope)
	}
}

// Trigger starts a job outside its cadence. An optional scope narrows the
// run to one provider. A running job is not doubled.
func (s *Scheduler) Trigger(name string, scope ...string) error {
	s.mu.Lock()
	st, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownJob
	}
	st.mu.Lock()
	running := st.running
	st.mu.Unlock()
	if running {
		return ErrAlreadyRunning
	}
	sc := ""
	if len(scope) > 0 {
		sc = scope[0]
	}
	select {
	case st.trigger <- sc:
	default:
		// A trigger is already queued.
	}
	return nil
}

// Cancel requests cooperative cancellation of a running job.
func (s *Scheduler) Cancel(name string) error {
	s.mu.Lock()
	st, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownJob
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.running || st.cancel == nil {
		return ErrNotRunning
	}
	st.cancel()
	return nil
}

// Info returns the state of one job.
func (s *Scheduler) Info(name string) (JobInfo, error) {
	s.mu.Lock()
	st, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return JobInfo{}, ErrUnknownJob
	}
	return s.info(st), nil
}

// List returns the state of every registered job.
func (s *Scheduler) List() []JobInfo {
	s.mu.Lock()
	states := make([]*jobState, 0, len(s.jobs))
	for _, st := range s.jobs {
		states = append(states, st)
	}
	s.mu.Unlock()

	out := make([]JobInfo, 0, len(states))
	for _, st := range states {
		out = append(out, s.info(st))
	}
	return out
}

func (s *Scheduler) info(st *jobState) JobInfo {
	st.mu.Lock()
	defer st.mu.Unlock()
	info := JobInfo{
		Name:     st.job.Name,
		Interval: st.job.Interval,
		Running:  st.running,
		RunID:    st.runID,
		Status:   st.status,
	}
	if !st.lastRun.IsZero() {
		last := st.lastRun
		info.LastRun = &last
	}
	return info
}

// History lists recent runs of one job.
func (s *Scheduler) History(ctx context.Context, name string, limit int) ([]models.JobHistory, error) {
	s.mu.Lock()
	_, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return nil, ErrUnknownJob
	}
	return s.history.List(ctx, name, limit)
}

func (s *Scheduler) execute(ctx context.Context, st *jobState, scope string) {
	st.mu.Lock()
	if st.running {
		st.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	runID := uuid.NewString()
	started := time.Now().UTC()
	st.running = true
	st.cancel = cancel
	st.runID = runID
	st.status = models.JobRunning
	st.mu.Unlock()

	log := logging.Component("scheduler").With().
		Str("job", st.job.Name).Str("run_id", runID).Logger()

	record := models.JobHistory{
		JobName:    st.job.Name,
		RunID:      runID,
		Status:     models.JobRunning,
		StartedAt:  started,
		ProviderID: scope,
	}
	if err := s.history.Record(context.WithoutCancel(runCtx), record); err != nil {
		log.Error().Err(err).Msg("failed to record run start")
	}
	log.Info().Msg("job started")

	result, err := st.job.Run(runCtx, scope)
	// The context error must be read before cancel(), which would turn
	// every run into a cancellation.
	ctxErr := runCtx.Err()
	cancel()

	status := models.JobCompleted
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctxErr, context.DeadlineExceeded):
		status = models.JobCancelled
		result.Message = "run exceeded deadline"
	case errors.Is(err, context.Canceled) || errors.Is(ctxErr, context.Canceled):
		status = models.JobCancelled
	case err != nil:
		status = models.JobFailed
		result.Message = err.Error()
	}

	ended := time.Now().UTC()
	record.Status = status
	record.EndedAt = &ended
	record.Result = &result
	if err := s.history.Record(context.WithoutCancel(ctx), record); err != nil {
		log.Error().Err(err).Msg("failed to record run end")
	}

	st.mu.Lock()
	st.running = false
	st.cancel = nil
	st.status = status
	// Failed and cancelled runs also count against the cadence, otherwise
	// a broken job would retry in a tight loop.
	st.lastRun = started
	st.mu.Unlock()

	log.Info().Str("status", string(status)).Dur("took", ended.Sub(started)).Msg("job finished")
}
