package captions

import (
	"errors"
	"sync"

	"github.com/blockedby/backupbot/internal/backup"
	"github.com/blockedby/backupbot/internal/telegram"
)

// State is the coarse phase of an edit session.
type State string

const (
	StateIdle       State = "idle"
	StateCollecting State = "collecting"
	StateConfirming State = "confirming"
	StateRunning    State = "running"
)

// session errors
var (
	ErrBusy         = errors.New("an edit is already running, /cancel it first")
	ErrNoTargets    = errors.New("no messages selected, use /edit <link>")
	ErrNoRules      = errors.New("no rules yet, use /rule search -> replacement")
	ErrNotConfirmed = errors.New("nothing to confirm, send /done first")
)

// Target is one message to rewrite.
type Target struct {
	Chat  telegram.Chat
	MsgID int
}

type targetKey struct {
	chat int64
	msg  int
}

// Session is one user's caption-edit workflow.
// thread-safe
type Session struct {
	UserID int64

	mu      sync.Mutex
	state   State
	targets []Target
	seen    map[targetKey]bool
	rules   Rules
	preset  Preset
	stop    *backup.StopToken
	last    *EditStats

	// adaptive counters, reset per run
	successStreak int
	failStreak    int
	floodWaits    int
	downgraded    bool
}

// NewSession creates an idle session using preset.
func NewSession(userID int64, preset Preset) *Session {
	return &Session{UserID: userID, state: StateIdle, preset: preset, seen: make(map[targetKey]bool)}
}

// State returns the current phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AddTargets queues message ids from chat; duplicates are skipped.
// Returns the number of new targets.
func (s *Session) AddTargets(chat telegram.Chat, ids []int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRunning {
		return 0, ErrBusy
	}

	added := 0
	for _, id := range ids {
		key := targetKey{chat: chat.ID, msg: id}
		if s.seen[key] {
			continue
		}
		s.seen[key] = true
		s.targets = append(s.targets, Target{Chat: chat, MsgID: id})
		added++
	}
	s.state = StateCollecting
	return added, nil
}

// AddRule appends a rewrite rule.
func (s *Session) AddRule(r Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRunning {
		return ErrBusy
	}
	s.rules = append(s.rules, r)
	if s.state == StateIdle || s.state == StateConfirming {
		s.state = StateCollecting
	}
	return nil
}

// Targets returns a copy of the queued targets.
func (s *Session) Targets() []Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Target(nil), s.targets...)
}

// Rules returns a copy of the rules.
func (s *Session) Rules() Rules {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(Rules(nil), s.rules...)
}

// Preset returns the active preset.
func (s *Session) Preset() Preset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preset
}

// SetPreset selects a preset; a running edit picks it up at its next item.
func (s *Session) SetPreset(p Preset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preset = p
}

// Done moves a collecting session to confirming.
func (s *Session) Done() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.state == StateRunning:
		return ErrBusy
	case len(s.targets) == 0:
		return ErrNoTargets
	case len(s.rules) == 0:
		return ErrNoRules
	}
	s.state = StateConfirming
	return nil
}

// Begin moves a confirming session to running and returns its stop token.
func (s *Session) Begin() (*backup.StopToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateRunning:
		return nil, ErrBusy
	case StateConfirming:
	default:
		return nil, ErrNotConfirmed
	}

	s.state = StateRunning
	s.stop = backup.NewStopToken()
	s.successStreak, s.failStreak, s.floodWaits, s.downgraded = 0, 0, 0, false
	return s.stop, nil
}

// Finish records the run result and resets the session to idle.
func (s *Session) Finish(stats EditStats) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.last = &stats
	s.reset()
}

// Cancel stops a running edit or clears a pending one.
// Returns true if a running edit was signalled.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRunning {
		s.stop.Stop()
		return true
	}
	s.reset()
	return false
}

func (s *Session) reset() {
	s.state = StateIdle
	s.targets = nil
	s.seen = make(map[targetKey]bool)
	s.rules = nil
	s.stop = nil
}

// Last returns the stats of the previous run, if any.
func (s *Session) Last() (EditStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.last == nil {
		return EditStats{}, false
	}
	return *s.last, true
}

// record updates the adaptive counters and returns cumulative flood waits.
func (s *Session) record(ok, flood bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case flood:
		s.floodWaits++
		s.successStreak = 0
	case ok:
		s.successStreak++
		s.failStreak = 0
	default:
		s.failStreak++
		s.successStreak = 0
	}
	return s.floodWaits
}

// downgrade switches to p once per run; false if already downgraded.
func (s *Session) downgrade(p Preset) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.downgraded || s.preset.MaxDelay >= p.MaxDelay {
		return false
	}
	s.preset = p
	s.downgraded = true
	return true
}

// View is a read-only summary for status output.
type View struct {
	UserID        int64
	State         State
	Targets       int
	Rules         int
	Preset        string
	FloodWaits    int
	SuccessStreak int
	FailStreak    int
	Downgraded    bool
}

// View returns the session summary.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	return View{
		UserID:        s.UserID,
		State:         s.state,
		Targets:       len(s.targets),
		Rules:         len(s.rules),
		Preset:        s.preset.Name,
		FloodWaits:    s.floodWaits,
		SuccessStreak: s.successStreak,
		FailStreak:    s.failStreak,
		Downgraded:    s.downgraded,
	}
}

// Store keeps sessions keyed by user id.
type Store interface {
	Get(userID int64) (*Session, bool)
	GetOrCreate(userID int64, preset Preset) *Session
	Delete(userID int64)
	Range(fn func(s *Session) bool)
}

// MemoryStore is an in-process Store. Sessions are lost on restart.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[int64]*Session
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[int64]*Session)}
}

func (m *MemoryStore) Get(userID int64) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	return s, ok
}

func (m *MemoryStore) GetOrCreate(userID int64, preset Preset) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok {
		s = NewSession(userID, preset)
		m.sessions[userID] = s
	}
	return s
}

func (m *MemoryStore) Delete(userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
}

// Range calls fn for each session until it returns false.
func (m *MemoryStore) Range(fn func(s *Session) bool) {
	m.mu.Lock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.Unlock()

	for _, s := range list {
		if !fn(s) {
			return
		}
	}
}
