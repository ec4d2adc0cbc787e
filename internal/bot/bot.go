// Package bot serves the chat command surface: backups, auto-forward,
// status and the caption editor workflow.
package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gotd/td/tg"

	"github.com/blockedby/backupbot/internal/backup"
	"github.com/blockedby/backupbot/internal/captions"
	"github.com/blockedby/backupbot/internal/logger"
	"github.com/blockedby/backupbot/internal/msgref"
	"github.com/blockedby/backupbot/internal/telegram"
)

// replyTimeout bounds replies sent outside a command's context
const replyTimeout = 30 * time.Second

// Client is the messaging surface the bot talks through.
type Client interface {
	GetChat(ctx context.Context, id int64) (telegram.Chat, error)
	Dialogs(ctx context.Context) ([]telegram.Chat, error)
	SendText(ctx context.Context, to telegram.Chat, text string, entities []tg.MessageEntityClass) (int, error)
	EditText(ctx context.Context, chat telegram.Chat, id int, text string, entities []tg.MessageEntityClass) error
}

// Resolver finds the chat behind a link.
type Resolver interface {
	Resolve(ctx context.Context, link msgref.Link, hint int64) (telegram.Chat, error)
}

// Jobs runs backup and auto-forward jobs.
type Jobs interface {
	Start(ctx context.Context, job *backup.Job, report backup.ProgressFunc) (*backup.Job, error)
	Stop() bool
	Current() (backup.Snapshot, bool)
	Last() (backup.Snapshot, bool)
}

// Editor runs caption edit sessions.
type Editor interface {
	Run(ctx context.Context, s *captions.Session, stop *backup.StopToken, report captions.EditProgressFunc) captions.EditStats
}

// Options are the static settings of a Bot.
type Options struct {
	SelfID       int64   // the logged-in account
	Username     string  // bot username for /cmd@name addressing, empty for user accounts
	AllowedUsers []int64 // besides SelfID
	Dest         telegram.Chat
	Delay        backup.DelayRange
	MaxBatch     int
}

// Bot dispatches incoming commands.
type Bot struct {
	tg       Client
	resolver Resolver
	jobs     Jobs
	editor   Editor
	sessions captions.Store
	presets  *captions.Presets
	opts     Options
	log      *logger.Logger

	router  *router
	handler func(ctx context.Context, req *Request) error

	mu         sync.Mutex
	hints      map[int64]int64         // user -> last forwarded-from channel
	lastSource map[int64]telegram.Chat // user -> last backup source

	edits sync.WaitGroup
}

// New creates a Bot.
func New(client Client, resolver Resolver, jobs Jobs, editor Editor, sessions captions.Store, presets *captions.Presets, opts Options, log *logger.Logger) *Bot {
	b := &Bot{
		tg:         client,
		resolver:   resolver,
		jobs:       jobs,
		editor:     editor,
		sessions:   sessions,
		presets:    presets,
		opts:       opts,
		log:        log,
		hints:      make(map[int64]int64),
		lastSource: make(map[int64]telegram.Chat),
	}
	b.router = newRouter(b.routes())
	b.handler = Chain(b.dispatch, MWRecover(log), MWRequestLog(log))
	return b
}

// allowed reports whether the sender may issue commands.
func (b *Bot) allowed(in telegram.Incoming) bool {
	if in.Out || in.SenderID == b.opts.SelfID {
		return true
	}
	for _, id := range b.opts.AllowedUsers {
		if id == in.SenderID {
			return true
		}
	}
	return false
}

// controlChat reports whether chatID is the account's own chat or a private
// chat with an allowed user. Forwards elsewhere are ordinary traffic.
func (b *Bot) controlChat(chatID int64) bool {
	if chatID == b.opts.SelfID {
		return true
	}
	for _, id := range b.opts.AllowedUsers {
		if id == chatID {
			return true
		}
	}
	return false
}

func (b *Bot) userOf(in telegram.Incoming) int64 {
	if in.Out || in.SenderID == 0 {
		return b.opts.SelfID
	}
	return in.SenderID
}

// Handle serves one incoming message. It matches telegram.IncomingHandler.
func (b *Bot) Handle(ctx context.Context, in telegram.Incoming) error {
	if !b.allowed(in) {
		return nil
	}
	user := b.userOf(in)

	if in.ForwardedFrom != 0 {
		if !b.controlChat(in.ChatID) {
			return nil
		}
		b.rememberHint(user, in.ForwardedFrom)
		_, err := b.reply(ctx, in.ChatID, "📌 Got it, I'll use that channel to resolve your next links.")
		return err
	}

	cmd, ok := ParseCommand(in.Text, b.opts.Username)
	if !ok {
		return nil
	}
	if _, known := b.router.find(cmd.Name); !known {
		return nil
	}

	req := &Request{In: in, UserID: user, Cmd: cmd, bot: b}
	if err := b.handler(ctx, req); err != nil {
		_, _ = req.Replyf(ctx, "❌ Error: %v", err)
		return err
	}
	return nil
}

func (b *Bot) dispatch(ctx context.Context, req *Request) error {
	route, _ := b.router.find(req.Cmd.Name)
	return route.Handle(ctx, req)
}

// Wait blocks until running caption edits finish.
func (b *Bot) Wait() {
	b.edits.Wait()
}

func (b *Bot) rememberHint(user, chatID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hints[user] = chatID
}

func (b *Bot) rememberSource(user int64, chat telegram.Chat) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastSource[user] = chat
}

// hintFor picks the chat id used to resolve link for user.
func (b *Bot) hintFor(user int64, link msgref.Link) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if link.IsBare() {
		if chat, ok := b.lastSource[user]; ok {
			return chat.ID
		}
	}
	return b.hints[user]
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) (int, error) {
	chat, err := b.tg.GetChat(ctx, chatID)
	if err != nil {
		return 0, err
	}
	return b.tg.SendText(ctx, chat, text, nil)
}

// edit replaces a status message, sending a new one if editing fails.
// Safe to call from job goroutines.
func (b *Bot) edit(chatID int64, msgID int, text string) int {
	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	defer cancel()

	chat, err := b.tg.GetChat(ctx, chatID)
	if err != nil {
		b.log.Warn().Err(err).Int64("chat_id", chatID).Msg("bot: status chat lookup failed")
		return msgID
	}

	if msgID != 0 {
		err = b.tg.EditText(ctx, chat, msgID, text, nil)
		if err == nil || errors.Is(err, telegram.ErrNotModified) {
			return msgID
		}
		b.log.Debug().Err(err).Int("msg_id", msgID).Msg("bot: status edit failed, sending new message")
	}

	id, err := b.tg.SendText(ctx, chat, text, nil)
	if err != nil {
		b.log.Warn().Err(err).Int64("chat_id", chatID).Msg("bot: status send failed")
		return msgID
	}
	return id
}

// resolve maps a link to a chat, remembering it as the user's last source.
func (b *Bot) resolve(ctx context.Context, user int64, link msgref.Link) (telegram.Chat, error) {
	chat, err := b.resolver.Resolve(ctx, link, b.hintFor(user, link))
	if err != nil {
		return telegram.Chat{}, err
	}
	b.rememberSource(user, chat)
	return chat, nil
}
