package backup

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blockedby/backupbot/internal/logger"
)

// errors
var (
	ErrAlreadyRunning = errors.New("a backup job is already running")
)

// JobRunner executes a job to completion.
type JobRunner interface {
	Run(ctx context.Context, job *Job, stop *StopToken, stats *Stats, report ProgressFunc) Result
}

// FinishFunc is called once a job ends, with its final result.
type FinishFunc func(job *Job, res Result)

// Snapshot is a point-in-time view of a job for status output.
type Snapshot struct {
	ID          uuid.UUID     `json:"id"`
	Kind        Kind          `json:"kind"`
	Mode        Mode          `json:"mode,omitempty"`
	Source      string        `json:"source"`
	Dest        string        `json:"dest"`
	Total       int           `json:"total"`
	Current     int           `json:"current_msg_id,omitempty"`
	Counters    Counters      `json:"counters"`
	StartedAt   time.Time     `json:"started_at"`
	Elapsed     time.Duration `json:"elapsed"`
	Running     bool          `json:"running"`
	Stopping    bool          `json:"stopping,omitempty"`
	Stopped     bool          `json:"stopped,omitempty"`
	RequestedIn int64         `json:"-"`
}

type activeJob struct {
	job    *Job
	stop   *StopToken
	stats  *Stats
	cancel context.CancelFunc
}

// Manager runs at most one job at a time.
// thread-safe
type Manager struct {
	mu       sync.Mutex
	current  *activeJob
	last     *Snapshot
	runner   JobRunner
	onFinish []FinishFunc
	wg       sync.WaitGroup
	log      *logger.Logger
}

// NewManager creates a new job manager.
func NewManager(runner JobRunner, log *logger.Logger) *Manager {
	return &Manager{
		runner: runner,
		log:    log,
	}
}

// OnFinish registers a hook called after every job.
func (m *Manager) OnFinish(fn FinishFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFinish = append(m.onFinish, fn)
}

// Start launches the job in the background.
// returns ErrAlreadyRunning if a job is already running
func (m *Manager) Start(_ context.Context, job *Job, report ProgressFunc) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return nil, ErrAlreadyRunning
	}

	// the job outlives the command that started it
	jobCtx, cancel := context.WithCancel(context.Background())

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.StartedAt = time.Now()

	active := &activeJob{
		job:    job,
		stop:   NewStopToken(),
		stats:  &Stats{},
		cancel: cancel,
	}
	m.current = active

	m.log.Info().
		Str("job_id", job.ID.String()).
		Str("kind", string(job.Kind)).
		Str("source", job.Source.Title).
		Int("total", job.Total()).
		Msg("backup: job started")

	m.wg.Add(1)
	go m.run(jobCtx, active, report)

	return job, nil
}

// Stop asks the running job to stop at its next checkpoint.
// Returns false when no job is running.
func (m *Manager) Stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return false
	}
	m.current.stop.Stop()
	return true
}

// Shutdown stops the running job, cancels in-flight calls and waits for it.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.current != nil {
		m.current.stop.Stop()
		m.current.cancel()
	}
	m.mu.Unlock()

	m.wg.Wait()
}

// Wait blocks until the running job, if any, has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Current returns a snapshot of the running job.
func (m *Manager) Current() (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return Snapshot{}, false
	}
	return snapshotOf(m.current), true
}

// Last returns the snapshot of the most recently finished job.
func (m *Manager) Last() (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.last == nil {
		return Snapshot{}, false
	}
	return *m.last, true
}

func snapshotOf(a *activeJob) Snapshot {
	counters, current := a.stats.Snapshot()
	return Snapshot{
		ID:          a.job.ID,
		Kind:        a.job.Kind,
		Mode:        a.job.Mode,
		Source:      a.job.Source.Title,
		Dest:        a.job.Dest.Title,
		Total:       a.job.Total(),
		Current:     current,
		Counters:    counters,
		StartedAt:   a.job.StartedAt,
		Elapsed:     time.Since(a.job.StartedAt).Round(time.Second),
		Running:     true,
		Stopping:    a.stop.Stopped(),
		RequestedIn: a.job.RequestedIn,
	}
}

// run executes the job
// this is called in a goroutine
func (m *Manager) run(ctx context.Context, a *activeJob, report ProgressFunc) {
	defer m.wg.Done()

	var res Result
	if m.runner != nil {
		res = m.runner.Run(ctx, a.job, a.stop, a.stats, report)
	}

	m.mu.Lock()
	last := snapshotOf(a)
	last.Running = false
	last.Stopping = false
	last.Stopped = res.Stopped
	last.Counters = res.Counters
	m.last = &last
	if m.current == a {
		m.current = nil
	}
	hooks := append([]FinishFunc(nil), m.onFinish...)
	m.mu.Unlock()

	a.cancel()

	for _, fn := range hooks {
		fn(a.job, res)
	}
}
