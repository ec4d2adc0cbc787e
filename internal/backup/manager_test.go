package backup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/blockedby/backupbot/internal/logger"
)

// MockRunner blocks until stopped or released
type MockRunner struct {
	mu      sync.Mutex
	Called  int
	Job     *Job
	Release chan struct{}
	Result  Result
}

func (m *MockRunner) Run(ctx context.Context, job *Job, stop *StopToken, stats *Stats, report ProgressFunc) Result {
	m.mu.Lock()
	m.Called++
	m.Job = job
	m.mu.Unlock()

	stats.update(func(c *Counters) { c.Attempted++ })

	res := m.Result
	if m.Release != nil {
		select {
		case <-m.Release:
		case <-stop.Done():
			res.Stopped = true
		case <-ctx.Done():
			res.Stopped = true
		}
	}
	return res
}

func (m *MockRunner) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Called
}

func testJob() *Job {
	return &Job{Kind: KindBackup, Source: testSource, Dest: testDest, IDs: []int{1, 2, 3}}
}

func TestManager_Start(t *testing.T) {
	t.Run("starts job successfully", func(t *testing.T) {
		runner := &MockRunner{}
		manager := NewManager(runner, logger.Nop())

		job, err := manager.Start(context.Background(), testJob(), nil)
		if err != nil {
			t.Fatalf("Start() unexpected error: %v", err)
		}
		if job.ID == uuid.Nil {
			t.Error("job.ID should not be nil")
		}
		if job.StartedAt.IsZero() {
			t.Error("job.StartedAt should be set")
		}

		manager.Wait()
		if runner.calls() != 1 {
			t.Errorf("runner called %d times, want 1", runner.calls())
		}
	})

	t.Run("returns error when already running", func(t *testing.T) {
		runner := &MockRunner{Release: make(chan struct{})}
		manager := NewManager(runner, logger.Nop())

		if _, err := manager.Start(context.Background(), testJob(), nil); err != nil {
			t.Fatalf("first Start() error: %v", err)
		}
		_, err := manager.Start(context.Background(), testJob(), nil)
		if !errors.Is(err, ErrAlreadyRunning) {
			t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
		}

		close(runner.Release)
		manager.Wait()

		// free again once the first job ends
		if _, err := manager.Start(context.Background(), testJob(), nil); err != nil {
			t.Errorf("Start() after finish: %v", err)
		}
		manager.Wait()
	})

	t.Run("job survives the starting context", func(t *testing.T) {
		runner := &MockRunner{Release: make(chan struct{})}
		manager := NewManager(runner, logger.Nop())

		ctx, cancel := context.WithCancel(context.Background())
		if _, err := manager.Start(ctx, testJob(), nil); err != nil {
			t.Fatalf("Start() error: %v", err)
		}
		cancel()

		time.Sleep(20 * time.Millisecond)
		if _, running := manager.Current(); !running {
			t.Error("job ended with the request context")
		}
		close(runner.Release)
		manager.Wait()
	})
}

func TestManager_Stop(t *testing.T) {
	t.Run("stops running job", func(t *testing.T) {
		runner := &MockRunner{Release: make(chan struct{})}
		manager := NewManager(runner, logger.Nop())

		done := make(chan Result, 1)
		manager.OnFinish(func(_ *Job, res Result) { done <- res })

		if _, err := manager.Start(context.Background(), testJob(), nil); err != nil {
			t.Fatalf("Start() error: %v", err)
		}
		if !manager.Stop() {
			t.Fatal("Stop() = false with a job running")
		}

		select {
		case res := <-done:
			if !res.Stopped {
				t.Error("result should be marked stopped")
			}
		case <-time.After(time.Second):
			t.Fatal("job did not stop")
		}

		if _, running := manager.Current(); running {
			t.Error("Current() should be empty after stop")
		}
	})

	t.Run("stop without job", func(t *testing.T) {
		manager := NewManager(&MockRunner{}, logger.Nop())
		if manager.Stop() {
			t.Error("Stop() = true with nothing running")
		}
	})

	t.Run("shutdown waits for job", func(t *testing.T) {
		runner := &MockRunner{Release: make(chan struct{})}
		manager := NewManager(runner, logger.Nop())

		if _, err := manager.Start(context.Background(), testJob(), nil); err != nil {
			t.Fatalf("Start() error: %v", err)
		}
		manager.Shutdown()

		last, ok := manager.Last()
		if !ok {
			t.Fatal("Last() empty after shutdown")
		}
		if !last.Stopped || last.Running {
			t.Errorf("last = %+v, want stopped and not running", last)
		}
	})
}

func TestManager_Snapshots(t *testing.T) {
	runner := &MockRunner{Release: make(chan struct{}), Result: Result{Counters: Counters{Attempted: 3, Succeeded: 2, Missing: 1}}}
	manager := NewManager(runner, logger.Nop())

	job := testJob()
	job.RequestedIn = 777
	if _, err := manager.Start(context.Background(), job, nil); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	var cur Snapshot
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		var ok bool
		if cur, ok = manager.Current(); ok && cur.Counters.Attempted == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cur.Running || cur.Total != 3 || cur.Source != "Source Chan" || cur.RequestedIn != 777 {
		t.Errorf("Current() = %+v", cur)
	}

	close(runner.Release)
	manager.Wait()

	last, ok := manager.Last()
	if !ok {
		t.Fatal("Last() empty")
	}
	if last.Running {
		t.Error("last job should not be running")
	}
	if last.Counters != runner.Result.Counters {
		t.Errorf("last counters = %+v, want %+v", last.Counters, runner.Result.Counters)
	}
}
