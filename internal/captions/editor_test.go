package captions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/backupbot/internal/backup"
	"github.com/blockedby/backupbot/internal/logger"
	"github.com/blockedby/backupbot/internal/telegram"
)

var editChat = telegram.Chat{ID: telegram.MarkChannel(77), Title: "Archive", Kind: telegram.ChatChannel}

type edit struct {
	ID      int
	Text    string
	Caption bool
}

type fakeEditTelegram struct {
	mu       sync.Mutex
	messages map[int]*telegram.Message
	editErrs []error
	edits    []edit
}

func (f *fakeEditTelegram) GetMessage(_ context.Context, _ telegram.Chat, id int) (*telegram.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return nil, fmt.Errorf("get: %w", telegram.ErrMessageNotFound)
	}
	return m, nil
}

func (f *fakeEditTelegram) popErr() error {
	if len(f.editErrs) == 0 {
		return nil
	}
	err := f.editErrs[0]
	f.editErrs = f.editErrs[1:]
	return err
}

func (f *fakeEditTelegram) EditText(_ context.Context, _ telegram.Chat, id int, text string, _ []tg.MessageEntityClass) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.popErr(); err != nil {
		return err
	}
	f.edits = append(f.edits, edit{ID: id, Text: text})
	return nil
}

func (f *fakeEditTelegram) EditCaption(_ context.Context, _ telegram.Chat, id int, caption string, _ []tg.MessageEntityClass) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.popErr(); err != nil {
		return err
	}
	f.edits = append(f.edits, edit{ID: id, Text: caption, Caption: true})
	return nil
}

type pauses struct {
	mu    sync.Mutex
	calls []time.Duration
	hook  func(n int, stop *backup.StopToken) error
}

func (p *pauses) sleep(_ context.Context, d time.Duration, stop *backup.StopToken) error {
	p.mu.Lock()
	p.calls = append(p.calls, d)
	n := len(p.calls)
	p.mu.Unlock()
	if p.hook != nil {
		return p.hook(n, stop)
	}
	return nil
}

func newTestEditor(fake *fakeEditTelegram, p *pauses, threshold int) *Editor {
	e := NewEditor(fake, AdaptivePolicy{Threshold: threshold, Presets: DefaultPresets()}, backup.DefaultRetryPolicy(), 0, logger.Nop())
	e.sleep = p.sleep
	return e
}

func readySession(t *testing.T, preset Preset, ids []int, rules ...string) (*Session, *backup.StopToken) {
	t.Helper()
	s := NewSession(1, preset)
	_, err := s.AddTargets(editChat, ids)
	require.NoError(t, err)
	for i := 0; i+1 < len(rules); i += 2 {
		r, err := NewRule(rules[i], rules[i+1])
		require.NoError(t, err)
		require.NoError(t, s.AddRule(r))
	}
	require.NoError(t, s.Done())
	stop, err := s.Begin()
	require.NoError(t, err)
	return s, stop
}

func TestEditor_Run(t *testing.T) {
	fake := &fakeEditTelegram{messages: map[int]*telegram.Message{
		1: {ID: 1, Text: "Extracted By: @X"},
		2: {ID: 2, Text: "nothing to see"},
		3: {ID: 3, Text: "photo by x", Media: &telegram.Media{Kind: telegram.MediaPhoto}},
	}}
	normal, _ := DefaultPresets().Get(PresetNormal)
	s, stop := readySession(t, normal, []int{1, 2, 3, 4}, "X", "Y")

	var final EditStats
	stats := newTestEditor(fake, &pauses{}, 3).Run(context.Background(), s, stop, func(st EditStats) {
		if st.Final {
			final = st
		}
	})

	assert.Equal(t, 2, stats.Edited)
	assert.Equal(t, 1, stats.Unchanged)
	assert.Equal(t, 1, stats.Missing)
	assert.Equal(t, 4, stats.Done)
	assert.False(t, stats.Stopped)
	assert.Equal(t, stats, final)

	assert.Equal(t, []edit{
		{ID: 1, Text: "Extracted By: Y"},
		{ID: 3, Text: "photo by Y", Caption: true},
	}, fake.edits)

	assert.Equal(t, StateIdle, s.State())
	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, 2, last.Edited)
}

func TestEditor_BatchPause(t *testing.T) {
	fake := &fakeEditTelegram{messages: map[int]*telegram.Message{}}
	for i := 1; i <= 5; i++ {
		fake.messages[i] = &telegram.Message{ID: i, Text: "a"}
	}
	preset := Preset{Name: "tiny", MinDelay: time.Second, MaxDelay: time.Second, BatchSize: 2, BatchPause: time.Minute}
	s, stop := readySession(t, preset, []int{1, 2, 3, 4, 5}, "a", "b")

	p := &pauses{}
	newTestEditor(fake, p, 0).Run(context.Background(), s, stop, nil)

	assert.Equal(t, []time.Duration{time.Second, time.Minute, time.Second, time.Minute}, p.calls)
	assert.Len(t, fake.edits, 5)
}

func TestEditor_FloodDowngrade(t *testing.T) {
	fake := &fakeEditTelegram{messages: map[int]*telegram.Message{}}
	for i := 1; i <= 4; i++ {
		fake.messages[i] = &telegram.Message{ID: i, Text: "old"}
	}
	flood := &telegram.FloodWaitError{Wait: 2 * time.Second}
	fake.editErrs = []error{flood, flood, flood}

	fast, _ := DefaultPresets().Get(PresetFast)
	s, stop := readySession(t, fast, []int{1, 2, 3, 4}, "old", "new")

	stats := newTestEditor(fake, &pauses{}, 3).Run(context.Background(), s, stop, nil)

	assert.Equal(t, 3, stats.FloodWaits)
	assert.True(t, stats.Downgraded)
	assert.Equal(t, PresetSafe, stats.Preset)
	assert.Equal(t, PresetSafe, s.Preset().Name, "never upgrades back")
	// item 1: flood, retry flood -> failed; item 2: flood, retry ok
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 3, stats.Edited)
}

func TestEditor_Stop(t *testing.T) {
	fake := &fakeEditTelegram{messages: map[int]*telegram.Message{
		1: {ID: 1, Text: "a"}, 2: {ID: 2, Text: "a"}, 3: {ID: 3, Text: "a"},
	}}
	normal, _ := DefaultPresets().Get(PresetNormal)
	s, stop := readySession(t, normal, []int{1, 2, 3}, "a", "b")

	p := &pauses{hook: func(n int, _ *backup.StopToken) error {
		if n == 1 {
			assert.True(t, s.Cancel(), "cancel signals the running edit")
			return backup.ErrStopped
		}
		return nil
	}}
	stats := newTestEditor(fake, p, 0).Run(context.Background(), s, stop, nil)

	assert.True(t, stats.Stopped)
	assert.Equal(t, 1, stats.Edited)
	assert.Len(t, fake.edits, 1)
	assert.Equal(t, StateIdle, s.State())
}

func TestEditor_StopDuringFloodPauseFinishesItem(t *testing.T) {
	fake := &fakeEditTelegram{
		messages: map[int]*telegram.Message{1: {ID: 1, Text: "a"}, 2: {ID: 2, Text: "a"}},
		editErrs: []error{&telegram.FloodWaitError{Wait: time.Second}},
	}
	normal, _ := DefaultPresets().Get(PresetNormal)
	s, stop := readySession(t, normal, []int{1, 2}, "a", "b")

	p := &pauses{hook: func(n int, token *backup.StopToken) error {
		if n == 1 { // flood pause while editing item 1
			assert.Nil(t, token)
			assert.True(t, s.Cancel())
		}
		return nil
	}}
	stats := newTestEditor(fake, p, 0).Run(context.Background(), s, stop, nil)

	assert.True(t, stats.Stopped)
	assert.Equal(t, 1, stats.Edited)
	assert.Equal(t, 1, stats.FloodWaits)
	assert.Len(t, fake.edits, 1)
}

func TestEditor_NotModifiedCountsUnchanged(t *testing.T) {
	fake := &fakeEditTelegram{
		messages: map[int]*telegram.Message{1: {ID: 1, Text: "a"}},
		editErrs: []error{fmt.Errorf("edit: %w", telegram.ErrNotModified)},
	}
	normal, _ := DefaultPresets().Get(PresetNormal)
	s, stop := readySession(t, normal, []int{1}, "a", "b")

	stats := newTestEditor(fake, &pauses{}, 0).Run(context.Background(), s, stop, nil)
	assert.Equal(t, 1, stats.Unchanged)
	assert.Equal(t, 0, stats.Failed)
}

func TestEditor_TransientFailure(t *testing.T) {
	fake := &fakeEditTelegram{
		messages: map[int]*telegram.Message{1: {ID: 1, Text: "a"}, 2: {ID: 2, Text: "a"}},
		editErrs: []error{errors.New("rpc timeout")},
	}
	normal, _ := DefaultPresets().Get(PresetNormal)
	s, stop := readySession(t, normal, []int{1, 2}, "a", "b")

	stats := newTestEditor(fake, &pauses{}, 0).Run(context.Background(), s, stop, nil)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Edited)
	assert.Equal(t, 1, s.View().SuccessStreak, "streak survives into the view until next Begin")
}
