package telegram

import (
	"context"
	"sync"

	"github.com/celestix/gotgproto"
	"gorm.io/gorm"

	"github.com/blockedby/backupbot/internal/config"
	"github.com/blockedby/backupbot/internal/logger"
)

// Status represents the Telegram client status.
type Status string

// Status constants define the possible states of the Telegram client.
const (
	StatusInitializing Status = "INITIALIZING"
	StatusReady        Status = "READY"
	StatusUnauthorized Status = "UNAUTHORIZED"
	StatusError        Status = "ERROR"
)

// ClientFactory creates a logged-in telegram client.
type ClientFactory func(ctx context.Context, cfg *config.Config, db *gorm.DB) (*gotgproto.Client, error)

// Manager owns the protocol client lifecycle.
type Manager struct {
	client *gotgproto.Client
	db     *gorm.DB
	cfg    *config.Config
	log    *logger.Logger

	status  Status
	lastErr error
	mu      sync.RWMutex

	clientFactory ClientFactory
}

// NewManager creates a new Telegram Manager. db holds the sqlite session
// store and may be nil when a session string is configured.
func NewManager(cfg *config.Config, db *gorm.DB) *Manager {
	return &Manager{
		db:            db,
		cfg:           cfg,
		log:           logger.Get().Component("telegram"),
		status:        StatusInitializing,
		clientFactory: NewSessionClient,
	}
}

// SetClientFactory allows overriding the client creation logic (e.g. for testing).
func (m *Manager) SetClientFactory(f ClientFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clientFactory = f
}

// GetStatus returns the current Telegram client status.
func (m *Manager) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Err returns the error that moved the manager out of READY, if any.
func (m *Manager) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// GetClient returns the underlying Telegram client.
func (m *Manager) GetClient() *gotgproto.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

// hasSession reports whether any login material is configured
func (m *Manager) hasSession() bool {
	if m.cfg.TGSessionStr != "" || m.cfg.BotToken != "" {
		return true
	}
	if m.db == nil {
		return false
	}

	var count int64
	if err := m.db.Table("sessions").Count(&count).Error; err != nil {
		m.log.Warn().Err(err).Msg("telegram: failed to check sessions table")
		return false
	}
	return count > 0
}

// Init connects using the session string, the stored session or the bot token.
// Without any of them the manager stays UNAUTHORIZED; Init itself only fails
// on factory errors so the caller can decide whether that is fatal.
func (m *Manager) Init(ctx context.Context) error {
	m.setStatus(StatusInitializing, nil)

	if !m.hasSession() {
		m.log.Info().Msg("telegram: no session configured")
		m.setStatus(StatusUnauthorized, nil)
		return nil
	}

	m.mu.RLock()
	factory := m.clientFactory
	m.mu.RUnlock()

	client, err := factory(ctx, m.cfg, m.db)
	if err != nil {
		m.log.Error().Err(err).Msg("telegram: failed to initialize client")
		m.setStatus(StatusUnauthorized, err)
		return err
	}

	m.mu.Lock()
	m.client = client
	m.status = StatusReady
	m.lastErr = nil
	m.mu.Unlock()

	m.log.Info().Msg("telegram: client is ready")
	return nil
}

func (m *Manager) setStatus(s Status, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = s
	m.lastErr = err
}

// Stop stops the Telegram client.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		m.client.Stop()
		m.client = nil
	}
	m.status = StatusInitializing
}
