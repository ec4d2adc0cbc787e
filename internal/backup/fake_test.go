package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gotd/td/tg"

	"github.com/blockedby/backupbot/internal/telegram"
)

type sentItem struct {
	Kind    string // text | media
	Path    string
	Caption string
	MsgKind telegram.MediaKind
}

// fakeTelegram is an in-memory stand-in for the telegram client.
type fakeTelegram struct {
	mu sync.Mutex

	messages map[int]*telegram.Message
	history  []telegram.Message // newest first

	getErrs      map[int][]error // queued per message id
	sendErrs     []error         // queued for SendText/SendMedia
	forwardErrs  []error
	downloadErr  error
	downloadDir  string
	fetched      []int
	sent         []sentItem
	forwarded    []int
	downloaded   []string
	historyCalls int
}

func newFakeTelegram(ids ...int) *fakeTelegram {
	f := &fakeTelegram{messages: map[int]*telegram.Message{}, getErrs: map[int][]error{}}
	for _, id := range ids {
		f.messages[id] = &telegram.Message{ID: id, Text: fmt.Sprintf("message %d", id)}
	}
	return f
}

func pop(q *[]error) error {
	if len(*q) == 0 {
		return nil
	}
	err := (*q)[0]
	*q = (*q)[1:]
	return err
}

func (f *fakeTelegram) GetMessage(_ context.Context, _ telegram.Chat, id int) (*telegram.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fetched = append(f.fetched, id)
	if q := f.getErrs[id]; len(q) > 0 {
		err := pop(&q)
		f.getErrs[id] = q
		return nil, err
	}
	m, ok := f.messages[id]
	if !ok {
		return nil, fmt.Errorf("get message: %w", telegram.ErrMessageNotFound)
	}
	return m, nil
}

func (f *fakeTelegram) History(_ context.Context, _ telegram.Chat, offsetID, limit int) ([]telegram.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.historyCalls++
	var out []telegram.Message
	for _, m := range f.history {
		if offsetID != 0 && m.ID >= offsetID {
			continue
		}
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeTelegram) Download(_ context.Context, media *telegram.Media, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.downloadErr != nil {
		return "", f.downloadErr
	}
	path := filepath.Join(f.downloadDir, fmt.Sprintf("%d_%s", len(f.downloaded), media.Kind))
	if err := os.WriteFile(path, []byte("data"), 0644); err != nil {
		return "", err
	}
	f.downloaded = append(f.downloaded, path)
	return path, nil
}

func (f *fakeTelegram) SendMedia(_ context.Context, _ telegram.Chat, media *telegram.Media, path, caption string, _ []tg.MessageEntityClass) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := pop(&f.sendErrs); err != nil {
		return 0, err
	}
	f.sent = append(f.sent, sentItem{Kind: "media", Path: path, Caption: caption, MsgKind: media.Kind})
	return len(f.sent), nil
}

func (f *fakeTelegram) SendText(_ context.Context, _ telegram.Chat, text string, _ []tg.MessageEntityClass) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := pop(&f.sendErrs); err != nil {
		return 0, err
	}
	f.sent = append(f.sent, sentItem{Kind: "text", Caption: text})
	return len(f.sent), nil
}

func (f *fakeTelegram) Forward(_ context.Context, _ telegram.Chat, ids []int, _ telegram.Chat) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := pop(&f.forwardErrs); err != nil {
		return err
	}
	f.forwarded = append(f.forwarded, ids...)
	return nil
}

func (f *fakeTelegram) sentCaptions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sent {
		out = append(out, s.Caption)
	}
	return out
}

func (f *fakeTelegram) setHistory(ids ...int) {
	sort.Sort(sort.Reverse(sort.IntSlice(ids)))
	for _, id := range ids {
		f.history = append(f.history, telegram.Message{ID: id})
	}
}

// sleepRecorder records requested pauses instead of waiting.
type sleepRecorder struct {
	mu    sync.Mutex
	calls []time.Duration
	hook  func(n int, d time.Duration, stop *StopToken) error
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration, stop *StopToken) error {
	s.mu.Lock()
	s.calls = append(s.calls, d)
	n := len(s.calls)
	s.mu.Unlock()

	if s.hook != nil {
		return s.hook(n, d, stop)
	}
	return nil
}

func (s *sleepRecorder) durations() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.calls...)
}
