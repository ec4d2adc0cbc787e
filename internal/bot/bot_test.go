package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/backupbot/internal/backup"
	"github.com/blockedby/backupbot/internal/captions"
	"github.com/blockedby/backupbot/internal/logger"
	"github.com/blockedby/backupbot/internal/msgref"
	"github.com/blockedby/backupbot/internal/resolve"
	"github.com/blockedby/backupbot/internal/telegram"
)

const (
	selfID    int64 = 1000
	friendID  int64 = 2000
	strangeID int64 = 3000
)

var (
	destChat   = telegram.Chat{ID: telegram.MarkChannel(9), Title: "Backups", Kind: telegram.ChatChannel}
	sourceChat = telegram.Chat{ID: telegram.MarkChannel(3166766661), Title: "Source", Kind: telegram.ChatChannel}
)

type sentText struct {
	ChatID int64
	ID     int
	Text   string
}

type fakeClient struct {
	mu      sync.Mutex
	sent    []sentText
	edited  []sentText
	dialogs []telegram.Chat
}

func (f *fakeClient) GetChat(_ context.Context, id int64) (telegram.Chat, error) {
	return telegram.Chat{ID: id, Title: fmt.Sprintf("chat %d", id)}, nil
}

func (f *fakeClient) Dialogs(context.Context) ([]telegram.Chat, error) {
	return f.dialogs, nil
}

func (f *fakeClient) SendText(_ context.Context, to telegram.Chat, text string, _ []tg.MessageEntityClass) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := len(f.sent) + 1
	f.sent = append(f.sent, sentText{ChatID: to.ID, ID: id, Text: text})
	return id, nil
}

func (f *fakeClient) EditText(_ context.Context, chat telegram.Chat, id int, text string, _ []tg.MessageEntityClass) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edited = append(f.edited, sentText{ChatID: chat.ID, ID: id, Text: text})
	return nil
}

func (f *fakeClient) lastSent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1].Text
}

func (f *fakeClient) lastEdit() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.edited) == 0 {
		return ""
	}
	return f.edited[len(f.edited)-1].Text
}

type fakeResolver struct {
	chats map[string]telegram.Chat // fragment or username
	hints []int64
}

func (f *fakeResolver) Resolve(_ context.Context, link msgref.Link, hint int64) (telegram.Chat, error) {
	f.hints = append(f.hints, hint)
	if link.IsBare() {
		if hint == 0 {
			return telegram.Chat{}, resolve.ErrNeedSample
		}
		return telegram.Chat{ID: hint, Title: "hinted"}, nil
	}
	key := link.ChatFragment
	if key == "" {
		key = link.Username
	}
	if c, ok := f.chats[key]; ok {
		return c, nil
	}
	return telegram.Chat{}, resolve.ErrNeedSample
}

type fakeJobs struct {
	mu      sync.Mutex
	started []*backup.Job
	report  backup.ProgressFunc
	running bool
	stops   int
	current backup.Snapshot
}

func (f *fakeJobs) Start(_ context.Context, job *backup.Job, report backup.ProgressFunc) (*backup.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return nil, backup.ErrAlreadyRunning
	}
	job.StartedAt = time.Now()
	f.started = append(f.started, job)
	f.report = report
	return job, nil
}

func (f *fakeJobs) Stop() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return f.running
}

func (f *fakeJobs) Current() (backup.Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, f.running
}

func (f *fakeJobs) Last() (backup.Snapshot, bool) {
	return backup.Snapshot{}, false
}

type fakeEditor struct {
	runs chan *captions.Session
}

func (f *fakeEditor) Run(_ context.Context, s *captions.Session, _ *backup.StopToken, report captions.EditProgressFunc) captions.EditStats {
	stats := captions.EditStats{Total: len(s.Targets()), Edited: len(s.Targets()), Final: true}
	s.Finish(stats)
	report(stats)
	f.runs <- s
	return stats
}

type harness struct {
	bot      *Bot
	client   *fakeClient
	resolver *fakeResolver
	jobs     *fakeJobs
	editor   *fakeEditor
	sessions *captions.MemoryStore
}

func newHarness() *harness {
	h := &harness{
		client:   &fakeClient{},
		resolver: &fakeResolver{chats: map[string]telegram.Chat{"3166766661": sourceChat, "news": {ID: -10077, Title: "News"}}},
		jobs:     &fakeJobs{},
		editor:   &fakeEditor{runs: make(chan *captions.Session, 1)},
		sessions: captions.NewMemoryStore(),
	}
	h.bot = New(h.client, h.resolver, h.jobs, h.editor, h.sessions, captions.DefaultPresets(), Options{
		SelfID:       selfID,
		AllowedUsers: []int64{friendID},
		Dest:         destChat,
		Delay:        backup.DelayRange{Min: 5 * time.Second, Max: 15 * time.Second},
		MaxBatch:     100,
	}, logger.Nop())
	return h
}

func (h *harness) say(t *testing.T, text string) {
	t.Helper()
	require.NoError(t, h.bot.Handle(context.Background(), telegram.Incoming{MessageID: 1, ChatID: selfID, Out: true, Text: text}))
}

func TestBot_IgnoresStrangers(t *testing.T) {
	h := newHarness()
	err := h.bot.Handle(context.Background(), telegram.Incoming{ChatID: strangeID, SenderID: strangeID, Text: "/help"})
	require.NoError(t, err)
	assert.Empty(t, h.client.sent)

	err = h.bot.Handle(context.Background(), telegram.Incoming{ChatID: friendID, SenderID: friendID, Text: "/help"})
	require.NoError(t, err)
	assert.Len(t, h.client.sent, 1)
}

func TestBot_IgnoresPlainTextAndUnknownCommands(t *testing.T) {
	h := newHarness()
	h.say(t, "hello there")
	h.say(t, "/unknown")
	assert.Empty(t, h.client.sent)
}

func TestBot_Help(t *testing.T) {
	h := newHarness()
	h.say(t, "/start")

	help := h.client.lastSent()
	for _, cmd := range []string{"/backup", "/exact", "/chats", "/status", "/stop", "/autoforward", "/edit", "/rule", "/confirm", "/speed"} {
		assert.Contains(t, help, cmd)
	}
	assert.Contains(t, help, "https://t.me/c/<chat>/<id>")
}

func TestBot_Backup(t *testing.T) {
	h := newHarness()
	h.say(t, "/backup https://t.me/c/3166766661/10-12")

	require.Len(t, h.jobs.started, 1)
	job := h.jobs.started[0]
	assert.Equal(t, backup.KindBackup, job.Kind)
	assert.Equal(t, backup.ModeAnnotated, job.Mode)
	assert.Equal(t, []int{10, 11, 12}, job.IDs)
	assert.Equal(t, sourceChat, job.Source)
	assert.Equal(t, destChat, job.Dest)
	assert.Equal(t, selfID, job.RequestedIn)
	assert.Contains(t, h.client.lastSent(), "Found: Source")

	h.jobs.report(backup.Progress{Job: job, Done: 2, Counters: backup.Counters{Succeeded: 2}})
	assert.Contains(t, h.client.lastEdit(), "2/3")

	h.jobs.report(backup.Progress{Job: job, Done: 3, Final: true, Counters: backup.Counters{Succeeded: 2, Missing: 1}})
	final := h.client.lastEdit()
	assert.Contains(t, final, "Backup complete")
	assert.Contains(t, final, "Not found: 1")
}

func TestBot_BackupModes(t *testing.T) {
	tests := []struct {
		text string
		want backup.Mode
	}{
		{"/backup https://t.me/c/3166766661/5 exact", backup.ModeExact},
		{"/exact https://t.me/c/3166766661/5", backup.ModeExact},
		{"/backup https://t.me/news/5", backup.ModeAnnotated},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			h := newHarness()
			h.say(t, tt.text)
			require.Len(t, h.jobs.started, 1)
			assert.Equal(t, tt.want, h.jobs.started[0].Mode)
		})
	}
}

func TestBot_BackupErrors(t *testing.T) {
	t.Run("missing argument", func(t *testing.T) {
		h := newHarness()
		h.say(t, "/backup")
		assert.Contains(t, h.client.lastSent(), "Please provide")
	})

	t.Run("unknown chat asks for a sample", func(t *testing.T) {
		h := newHarness()
		h.say(t, "/backup https://t.me/c/999/1")
		assert.Contains(t, h.client.lastSent(), "Forward any message")
		assert.Empty(t, h.jobs.started)
	})

	t.Run("too many ids", func(t *testing.T) {
		h := newHarness()
		h.say(t, "/backup https://t.me/c/3166766661/1-500")
		assert.Contains(t, h.client.lastSent(), "limit is 100")
	})

	t.Run("busy", func(t *testing.T) {
		h := newHarness()
		h.jobs.running = true
		h.say(t, "/backup https://t.me/c/3166766661/1")
		assert.Contains(t, h.client.lastSent(), "already running")
		assert.Empty(t, h.jobs.started)
	})

	t.Run("bare range without a previous source", func(t *testing.T) {
		h := newHarness()
		h.say(t, "/backup 1-5")
		assert.Contains(t, h.client.lastSent(), "No source chat yet")
	})
}

func TestBot_ForwardHintAndLastSource(t *testing.T) {
	h := newHarness()

	require.NoError(t, h.bot.Handle(context.Background(), telegram.Incoming{ChatID: selfID, Out: true, ForwardedFrom: -100555}))
	assert.Contains(t, h.client.lastSent(), "use that channel")

	h.say(t, "/backup https://t.me/c/999/1")
	assert.Equal(t, int64(-100555), h.resolver.hints[len(h.resolver.hints)-1])

	h.say(t, "/backup https://t.me/c/3166766661/1")
	h.say(t, "/backup 7-8")
	assert.Equal(t, sourceChat.ID, h.resolver.hints[len(h.resolver.hints)-1], "bare range reuses the last source")
	require.Len(t, h.jobs.started, 2)
	assert.Equal(t, []int{7, 8}, h.jobs.started[1].IDs)
}

func TestBot_ForwardOutsideControlChats(t *testing.T) {
	tests := []struct {
		name   string
		in     telegram.Incoming
		replied bool
	}{
		{"own forward in a group", telegram.Incoming{ChatID: -1001234, Out: true, SenderID: selfID, ForwardedFrom: -100555}, false},
		{"own forward to a stranger", telegram.Incoming{ChatID: 424242, Out: true, SenderID: selfID, ForwardedFrom: -100555}, false},
		{"allowed user in their private chat", telegram.Incoming{ChatID: friendID, SenderID: friendID, ForwardedFrom: -100555}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			require.NoError(t, h.bot.Handle(context.Background(), tt.in))
			if !tt.replied {
				assert.Empty(t, h.client.sent)
				h.say(t, "/backup https://t.me/c/999/1")
				assert.NotEqual(t, int64(-100555), h.resolver.hints[len(h.resolver.hints)-1])
				return
			}
			require.Len(t, h.client.sent, 1)
			assert.Equal(t, friendID, h.client.sent[0].ChatID)
		})
	}
}

func TestBot_Chats(t *testing.T) {
	h := newHarness()
	h.client.dialogs = append(h.client.dialogs, telegram.Chat{ID: 5, Title: "A Person", Kind: telegram.ChatUser})
	for i := 0; i < 12; i++ {
		h.client.dialogs = append(h.client.dialogs, telegram.Chat{ID: telegram.MarkChannel(int64(i + 1)), Title: fmt.Sprintf("Channel %d", i), Kind: telegram.ChatChannel, Broadcast: true})
	}

	h.say(t, "/chats")
	out := h.client.lastSent()
	assert.Contains(t, out, "Channel 0")
	assert.Contains(t, out, "Channel 9")
	assert.NotContains(t, out, "Channel 10")
	assert.NotContains(t, out, "A Person")
	assert.Contains(t, out, "… and 2 more")
}

func TestBot_StopAndStatus(t *testing.T) {
	h := newHarness()
	h.say(t, "/stop")
	assert.Contains(t, h.client.lastSent(), "No job is running")

	h.jobs.running = true
	h.jobs.current = backup.Snapshot{Kind: backup.KindBackup, Source: "Source", Dest: "Backups", Total: 10, Running: true,
		Counters: backup.Counters{Attempted: 4, Succeeded: 3, Missing: 1}, StartedAt: time.Now()}

	h.say(t, "/stop_forward")
	assert.Contains(t, h.client.lastSent(), "Stopping")
	assert.Equal(t, 2, h.jobs.stops)

	h.say(t, "/status")
	status := h.client.lastSent()
	assert.Contains(t, status, "4/10")
	assert.Contains(t, status, "Source → Backups")
}

func TestBot_AutoForward(t *testing.T) {
	h := newHarness()
	h.say(t, "/autoforward @news -1009 50 20")

	require.Len(t, h.jobs.started, 1)
	job := h.jobs.started[0]
	assert.Equal(t, backup.KindForward, job.Kind)
	assert.Equal(t, "News", job.Source.Title)
	assert.Equal(t, int64(-1009), job.Dest.ID)
	assert.Equal(t, 50, job.Limit)
	assert.Equal(t, 20, job.BatchSize)

	h2 := newHarness()
	h2.say(t, "/autoforward @news")
	assert.Contains(t, h2.client.lastSent(), "Usage")

	h2.say(t, "/autoforward @news -1009 x")
	assert.Contains(t, h2.client.lastSent(), "limit must be")
}

func TestBot_CaptionEditFlow(t *testing.T) {
	h := newHarness()

	h.say(t, "/confirm")
	assert.Contains(t, h.client.lastSent(), "/done first")

	h.say(t, "/edit https://t.me/c/3166766661/1-3")
	assert.Contains(t, h.client.lastSent(), "Added 3 messages")

	h.say(t, "/done")
	assert.Contains(t, h.client.lastSent(), "no rules yet")

	h.say(t, "/rule @Old -> New")
	assert.Contains(t, h.client.lastSent(), "1. Old → New")

	h.say(t, "/rules")
	assert.Contains(t, h.client.lastSent(), "Old → New")

	h.say(t, "/done")
	assert.Contains(t, h.client.lastSent(), "Ready to edit 3 messages in Source")

	h.say(t, "/confirm")
	select {
	case s := <-h.editor.runs:
		assert.Equal(t, selfID, s.UserID)
	case <-time.After(time.Second):
		t.Fatal("editor was not started")
	}
	h.bot.Wait()

	assert.True(t, strings.Contains(h.client.lastEdit(), "Caption edit complete"))
	s, ok := h.sessions.Get(selfID)
	require.True(t, ok)
	assert.Equal(t, captions.StateIdle, s.State())
}

func TestBot_CancelClearsSession(t *testing.T) {
	h := newHarness()
	h.say(t, "/edit https://t.me/c/3166766661/1")
	h.say(t, "/cancel")
	assert.Contains(t, h.client.lastSent(), "session cleared")

	s, _ := h.sessions.Get(selfID)
	assert.Empty(t, s.Targets())
}

func TestBot_Speed(t *testing.T) {
	h := newHarness()

	h.say(t, "/speed")
	assert.Contains(t, h.client.lastSent(), "👉 normal")

	h.say(t, "/speed FAST")
	assert.Contains(t, h.client.lastSent(), "Speed set to fast")
	s, _ := h.sessions.Get(selfID)
	assert.Equal(t, captions.PresetFast, s.Preset().Name)

	h.say(t, "/speed warp")
	assert.Contains(t, h.client.lastSent(), "unknown speed preset")
}
