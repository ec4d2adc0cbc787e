package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/blockedby/backupbot/internal/backup"
	"github.com/blockedby/backupbot/internal/msgref"
	"github.com/blockedby/backupbot/internal/resolve"
	"github.com/blockedby/backupbot/internal/telegram"
)

// chats listed by /chats
const chatListLimit = 10

const linkHelp = `
Links:
  https://t.me/c/<chat>/<id>
  https://t.me/c/<chat>/10-20
  https://t.me/<username>/1,4,5-10
  10-20 (reuses the last source chat)
Forward any message from a private channel here if a link can't be resolved.`

func (b *Bot) routes() []Route {
	return []Route{
		{Name: "start", Aliases: []string{"help"}, Description: "show this help", Handle: b.handleHelp},
		{Name: "backup", Usage: "<link-or-range> [exact]", Description: "copy messages to the backup channel with a backup note", Handle: b.handleBackup},
		{Name: "exact", Usage: "<link-or-range>", Description: "copy messages exactly as they are", Handle: b.handleExact},
		{Name: "autoforward", Usage: "<source> <dest> [limit] [batch]", Description: "forward a chat's history (source/dest: @username or chat id)", Handle: b.handleAutoForward},
		{Name: "chats", Description: "list accessible groups and channels", Handle: b.handleChats},
		{Name: "status", Aliases: []string{"forward_status"}, Description: "show the running job and editor session", Handle: b.handleStatus},
		{Name: "stop", Aliases: []string{"stop_forward"}, Description: "stop the running job after the current message", Handle: b.handleStop},
		{Name: "cancel", Description: "stop the job and clear the caption editor session", Handle: b.handleCancel},
		{Name: "edit", Usage: "<link-or-range>", Description: "add messages to rewrite captions of", Handle: b.handleEdit},
		{Name: "rule", Usage: "<search> -> <replacement>", Description: "add a caption rewrite rule", Handle: b.handleRule},
		{Name: "rules", Description: "list rewrite rules", Handle: b.handleRules},
		{Name: "done", Description: "finish collecting and review the edit", Handle: b.handleDone},
		{Name: "confirm", Description: "start the caption edit", Handle: b.handleConfirm},
		{Name: "speed", Usage: "[preset]", Description: "show or choose the caption edit speed", Handle: b.handleSpeed},
	}
}

func (b *Bot) handleHelp(ctx context.Context, req *Request) error {
	_, err := req.Reply(ctx, b.router.help()+"\n"+linkHelp)
	return err
}

// statusMessage is a reply that is edited in place as a job advances.
type statusMessage struct {
	b      *Bot
	chatID int64

	mu    sync.Mutex
	msgID int
}

func (s *statusMessage) set(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgID = s.b.edit(s.chatID, s.msgID, text)
}

func (b *Bot) jobReporter(status *statusMessage) backup.ProgressFunc {
	return func(p backup.Progress) {
		if p.Final {
			status.set(formatResult(p, time.Since(p.Job.StartedAt)))
			return
		}
		status.set(formatProgress(p))
	}
}

// parseTarget parses a link or range and replies with the problem if it fails.
func (b *Bot) parseTarget(ctx context.Context, req *Request, arg string) (msgref.Link, bool) {
	link, err := msgref.ParseTarget(arg, b.opts.MaxBatch)
	switch {
	case err == nil:
		return link, true
	case errors.Is(err, msgref.ErrTooManyIDs):
		_, _ = req.Replyf(ctx, "❌ Too many messages, the limit is %d per command.", b.opts.MaxBatch)
	default:
		_, _ = req.Replyf(ctx, "❌ Could not read %q: %v", arg, err)
	}
	return msgref.Link{}, false
}

// resolveFor resolves the link's chat and replies with guidance if it fails.
func (b *Bot) resolveFor(ctx context.Context, req *Request, link msgref.Link) (telegram.Chat, bool) {
	chat, err := b.resolve(ctx, req.UserID, link)
	switch {
	case err == nil:
		return chat, true
	case errors.Is(err, resolve.ErrNeedSample) && link.IsBare():
		_, _ = req.Reply(ctx, "❌ No source chat yet. Send a full message link first.")
	case errors.Is(err, resolve.ErrNeedSample):
		_, _ = req.Reply(ctx, "❌ Could not find the chat. Forward any message from it here, then try again.")
	default:
		_, _ = req.Replyf(ctx, "❌ Could not find the chat: %v", err)
	}
	return telegram.Chat{}, false
}

func (b *Bot) busy(ctx context.Context, req *Request) bool {
	if _, running := b.jobs.Current(); running {
		_, _ = req.Reply(ctx, "⚠️ A job is already running. Use /status to watch it or /stop to end it.")
		return true
	}
	return false
}

func (b *Bot) handleBackup(ctx context.Context, req *Request) error {
	args := req.Cmd.Args
	if len(args) == 0 {
		_, err := req.Reply(ctx, "❌ Please provide a message link or range.\nUsage: /backup <link-or-range> [exact]")
		return err
	}
	mode := backup.ModeAnnotated
	if len(args) > 1 && strings.EqualFold(args[1], "exact") {
		mode = backup.ModeExact
	}
	return b.startBackup(ctx, req, args[0], mode)
}

func (b *Bot) handleExact(ctx context.Context, req *Request) error {
	if len(req.Cmd.Args) == 0 {
		_, err := req.Reply(ctx, "❌ Please provide a message link or range.\nUsage: /exact <link-or-range>")
		return err
	}
	return b.startBackup(ctx, req, req.Cmd.Args[0], backup.ModeExact)
}

func (b *Bot) startBackup(ctx context.Context, req *Request, arg string, mode backup.Mode) error {
	if b.busy(ctx, req) {
		return nil
	}
	link, ok := b.parseTarget(ctx, req, arg)
	if !ok {
		return nil
	}
	source, ok := b.resolveFor(ctx, req, link)
	if !ok {
		return nil
	}

	job := &backup.Job{
		Kind:        backup.KindBackup,
		Source:      source,
		Dest:        b.opts.Dest,
		IDs:         link.IDs,
		Mode:        mode,
		Delay:       b.opts.Delay,
		RequestedIn: req.In.ChatID,
	}
	return b.launch(ctx, req, job, fmt.Sprintf("✅ Found: %s\n🚀 Starting %s of %s messages (delay %s each)",
		source.Title, strings.ToLower(jobTitle(job)), count(len(link.IDs)), b.opts.Delay))
}

func (b *Bot) launch(ctx context.Context, req *Request, job *backup.Job, intro string) error {
	msgID, err := req.Reply(ctx, intro)
	if err != nil {
		return err
	}
	status := &statusMessage{b: b, chatID: req.In.ChatID, msgID: msgID}

	if _, err := b.jobs.Start(ctx, job, b.jobReporter(status)); err != nil {
		if errors.Is(err, backup.ErrAlreadyRunning) {
			status.set("⚠️ A job is already running. Use /stop first.")
			return nil
		}
		return fmt.Errorf("start job: %w", err)
	}
	return nil
}

// chatRef resolves an autoforward argument: @username, t.me link or marked id.
func (b *Bot) chatRef(ctx context.Context, req *Request, arg string) (telegram.Chat, bool) {
	if id, err := strconv.ParseInt(arg, 10, 64); err == nil {
		chat, err := b.tg.GetChat(ctx, id)
		if err != nil {
			_, _ = req.Replyf(ctx, "❌ Cannot access chat %d: %v", id, err)
			return telegram.Chat{}, false
		}
		return chat, true
	}

	link := msgref.Link{Username: strings.TrimPrefix(arg, "@"), Raw: arg}
	if strings.Contains(arg, "/") {
		var err error
		if link, err = msgref.ParseLink(arg + "/1"); err != nil {
			_, _ = req.Replyf(ctx, "❌ Could not read chat %q", arg)
			return telegram.Chat{}, false
		}
	}
	return b.resolveFor(ctx, req, link)
}

func (b *Bot) handleAutoForward(ctx context.Context, req *Request) error {
	args := req.Cmd.Args
	if len(args) < 2 {
		_, err := req.Reply(ctx, "❌ Usage: /autoforward <source> <dest> [limit] [batch]\nExample: /autoforward @source_channel -1001234567890 500")
		return err
	}
	if b.busy(ctx, req) {
		return nil
	}

	var limit, batch int
	var err error
	if len(args) > 2 {
		if limit, err = strconv.Atoi(args[2]); err != nil || limit < 0 {
			_, err = req.Reply(ctx, "❌ limit must be a non-negative number")
			return err
		}
	}
	if len(args) > 3 {
		if batch, err = strconv.Atoi(args[3]); err != nil || batch <= 0 || batch > 100 {
			_, err = req.Reply(ctx, "❌ batch must be between 1 and 100")
			return err
		}
	}

	source, ok := b.chatRef(ctx, req, args[0])
	if !ok {
		return nil
	}
	dest, ok := b.chatRef(ctx, req, args[1])
	if !ok {
		return nil
	}

	job := &backup.Job{
		Kind:        backup.KindForward,
		Source:      source,
		Dest:        dest,
		Limit:       limit,
		BatchSize:   batch,
		RequestedIn: req.In.ChatID,
	}
	scope := "all messages"
	if limit > 0 {
		scope = count(limit) + " messages"
	}
	return b.launch(ctx, req, job, fmt.Sprintf("🔄 Auto-forward started\n📤 From: %s\n📥 To: %s\n📊 %s", source.Title, dest.Title, scope))
}

func (b *Bot) handleChats(ctx context.Context, req *Request) error {
	dialogs, err := b.tg.Dialogs(ctx)
	if err != nil {
		return fmt.Errorf("list chats: %w", err)
	}

	var chats []telegram.Chat
	for _, c := range dialogs {
		if c.IsGroupOrChannel() {
			chats = append(chats, c)
		}
	}
	if len(chats) == 0 {
		_, err = req.Reply(ctx, "📭 No groups or channels found.")
		return err
	}

	var sb strings.Builder
	sb.WriteString("📋 Accessible chats:\n")
	for i, c := range chats {
		if i == chatListLimit {
			fmt.Fprintf(&sb, "\n… and %d more", len(chats)-chatListLimit)
			break
		}
		icon := "👥"
		if c.Broadcast {
			icon = "📢"
		}
		fmt.Fprintf(&sb, "\n%s %s\n   ID: %d", icon, c.Title, c.ID)
		if c.Username != "" {
			fmt.Fprintf(&sb, " (@%s)", c.Username)
		}
	}
	_, err = req.Reply(ctx, sb.String())
	return err
}

func (b *Bot) handleStatus(ctx context.Context, req *Request) error {
	var parts []string
	if snap, ok := b.jobs.Current(); ok {
		parts = append(parts, formatSnapshot(snap))
	} else if last, ok := b.jobs.Last(); ok {
		parts = append(parts, "💤 No job running. Last job:\n"+formatSnapshot(last))
	} else {
		parts = append(parts, "💤 No job running.")
	}

	if s, ok := b.sessions.Get(req.UserID); ok {
		parts = append(parts, formatSession(s.View()))
	}
	_, err := req.Reply(ctx, strings.Join(parts, "\n\n"))
	return err
}

func (b *Bot) handleStop(ctx context.Context, req *Request) error {
	if !b.jobs.Stop() {
		_, err := req.Reply(ctx, "💤 No job is running.")
		return err
	}
	_, err := req.Reply(ctx, "⏹ Stopping after the current message…")
	return err
}

func (b *Bot) handleCancel(ctx context.Context, req *Request) error {
	var notes []string
	if b.jobs.Stop() {
		notes = append(notes, "⏹ Stopping the running job…")
	}
	if s, ok := b.sessions.Get(req.UserID); ok {
		if s.Cancel() {
			notes = append(notes, "⏹ Stopping the caption edit…")
		} else {
			notes = append(notes, "🧹 Caption editor session cleared.")
		}
	}
	if len(notes) == 0 {
		notes = append(notes, "💤 Nothing to cancel.")
	}
	_, err := req.Reply(ctx, strings.Join(notes, "\n"))
	return err
}
