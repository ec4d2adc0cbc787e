// Package backup copies telegram messages into a destination chat, one
// item at a time, with randomized pacing and bounded flood-wait retries.
package backup

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blockedby/backupbot/internal/telegram"
)

// Kind is the type of work a job does.
type Kind string

const (
	KindBackup  Kind = "backup"      // copy a list of message ids
	KindForward Kind = "autoforward" // forward a chat's history
)

// Mode controls caption handling for backups.
type Mode string

const (
	ModeExact     Mode = "exact"     // caption and entities untouched
	ModeAnnotated Mode = "annotated" // backup time and source title appended
)

// DelayRange is the inclusive bounds of the pause before each item.
type DelayRange struct {
	Min time.Duration
	Max time.Duration
}

// Pick returns a uniformly random delay in [Min, Max].
func (d DelayRange) Pick() time.Duration {
	if d.Max <= d.Min {
		return d.Min
	}
	return d.Min + time.Duration(rand.Int64N(int64(d.Max-d.Min)+1))
}

func (d DelayRange) String() string {
	return fmt.Sprintf("%s-%s", d.Min, d.Max)
}

// Rewriter rewrites caption text before delivery.
type Rewriter interface {
	Apply(text string) string
}

// Job is a unit of work owned by the Manager.
type Job struct {
	ID     uuid.UUID
	Kind   Kind
	Source telegram.Chat
	Dest   telegram.Chat

	// backup
	IDs     []int
	Mode    Mode
	Rewrite Rewriter // nil for no rewriting
	Delay   DelayRange

	// autoforward
	Limit     int // 0 = whole history
	BatchSize int

	// RequestedIn is the marked id of the chat the command came from.
	RequestedIn int64
	StartedAt   time.Time
}

// Total returns the number of items the job will walk, 0 when unknown.
func (j *Job) Total() int {
	if j.Kind == KindForward {
		return j.Limit
	}
	return len(j.IDs)
}

// Counters are per-job item tallies.
type Counters struct {
	Attempted  int `json:"attempted"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	Missing    int `json:"missing"`
	FloodWaits int `json:"flood_waits"`
}

// Result is the outcome of a finished job.
type Result struct {
	Counters
	Stopped  bool
	Err      error // fatal error that ended the job early, nil otherwise
	Duration time.Duration
}

// Stats is the live, concurrency-safe view of a running job.
type Stats struct {
	mu      sync.Mutex
	c       Counters
	current int // message id being processed
}

func (s *Stats) update(fn func(c *Counters)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.c)
}

func (s *Stats) setCurrent(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = id
}

// Snapshot returns the counters and the message id in progress.
func (s *Stats) Snapshot() (Counters, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c, s.current
}
