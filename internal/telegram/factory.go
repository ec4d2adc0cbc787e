package telegram

import (
	"context"
	"fmt"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/sessionMaker"
	"gorm.io/gorm"

	"github.com/blockedby/backupbot/internal/config"
)

// session string formats accepted in USER_SESSION_STRING
const (
	SessionGotgproto = "gotgproto"
	SessionPyrogram  = "pyrogram"
	SessionTelethon  = "telethon"
)

// sessionFor picks the session constructor. A session string wins over the
// sqlite session store; the store keeps auth keys and peers across restarts.
func sessionFor(cfg *config.Config, db *gorm.DB) (sessionMaker.SessionConstructor, bool, error) {
	if cfg.TGSessionStr == "" {
		if db == nil {
			return nil, false, fmt.Errorf("no session string and no session database")
		}
		return sessionMaker.SqlSession(db.Dialector), false, nil
	}

	switch cfg.SessionFormat {
	case "", SessionGotgproto:
		return sessionMaker.StringSession(cfg.TGSessionStr), true, nil
	case SessionPyrogram:
		return sessionMaker.PyrogramSession(cfg.TGSessionStr), true, nil
	case SessionTelethon:
		return sessionMaker.TelethonSession(cfg.TGSessionStr), true, nil
	}
	return nil, false, fmt.Errorf("unknown session format %q", cfg.SessionFormat)
}

// NewSessionClient creates a logged-in client from the configured session.
// With BOT_TOKEN and no session string the client logs in as a bot.
func NewSessionClient(ctx context.Context, cfg *config.Config, db *gorm.DB) (*gotgproto.Client, error) {
	sess, inMemory, err := sessionFor(cfg, db)
	if err != nil {
		return nil, err
	}

	clientType := gotgproto.ClientTypePhone("") // empty = use session
	if cfg.TGSessionStr == "" && cfg.BotToken != "" {
		clientType = gotgproto.ClientTypeBot(cfg.BotToken)
	}

	client, err := gotgproto.NewClient(
		cfg.TGApiID,
		cfg.TGApiHash,
		clientType,
		&gotgproto.ClientOpts{
			Session:          sess,
			DisableCopyright: true,
			InMemory:         inMemory,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram client: %w", err)
	}

	return client, nil
}
