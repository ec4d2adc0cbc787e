package captions

import (
	"context"
	"errors"
	"time"

	"github.com/gotd/td/tg"

	"github.com/blockedby/backupbot/internal/backup"
	"github.com/blockedby/backupbot/internal/logger"
	"github.com/blockedby/backupbot/internal/telegram"
)

// Telegram is the client capability set the editor needs.
type Telegram interface {
	GetMessage(ctx context.Context, chat telegram.Chat, id int) (*telegram.Message, error)
	EditText(ctx context.Context, chat telegram.Chat, id int, text string, entities []tg.MessageEntityClass) error
	EditCaption(ctx context.Context, chat telegram.Chat, id int, caption string, entities []tg.MessageEntityClass) error
}

// EditStats are the tallies of one edit run.
type EditStats struct {
	Total      int           `json:"total"`
	Done       int           `json:"done"`
	Edited     int           `json:"edited"`
	Unchanged  int           `json:"unchanged"`
	Missing    int           `json:"missing"`
	Failed     int           `json:"failed"`
	FloodWaits int           `json:"flood_waits"`
	Downgraded bool          `json:"downgraded"`
	Preset     string        `json:"preset"`
	Stopped    bool          `json:"stopped"`
	Final      bool          `json:"final"`
	Duration   time.Duration `json:"duration"`
}

// EditProgressFunc receives periodic and final stats.
type EditProgressFunc func(stats EditStats)

// Editor applies a session's rules to its targets.
type Editor struct {
	tg            Telegram
	policy        AdaptivePolicy
	retry         backup.RetryPolicy
	progressEvery int
	sleep         backup.SleepFunc
	now           func() time.Time
	log           *logger.Logger
}

// NewEditor creates an Editor.
func NewEditor(client Telegram, policy AdaptivePolicy, retry backup.RetryPolicy, progressEvery int, log *logger.Logger) *Editor {
	return &Editor{
		tg:            client,
		policy:        policy,
		retry:         retry,
		progressEvery: progressEvery,
		sleep:         backup.Sleep,
		now:           time.Now,
		log:           log,
	}
}

func interrupted(ctx context.Context, err error) bool {
	return errors.Is(err, backup.ErrStopped) || ctx.Err() != nil
}

// Run edits every target of s, then resets s to idle.
// s must have been moved to running with Begin, which returned stop.
func (e *Editor) Run(ctx context.Context, s *Session, stop *backup.StopToken, report EditProgressFunc) EditStats {
	if report == nil {
		report = func(EditStats) {}
	}

	started := e.now()
	targets := s.Targets()
	rules := s.Rules()
	stats := EditStats{Total: len(targets)}

	retrier := backup.NewRetrier(e.retry, e.log)
	retrier.Sleep = e.sleep
	retrier.OnFlood = func(wait time.Duration) {
		stats.FloodWaits++
		if p, ok := e.policy.OnFlood(s); ok {
			stats.Downgraded = true
			e.log.Warn().
				Int64("user_id", s.UserID).
				Int("flood_waits", stats.FloodWaits).
				Str("preset", p.Name).
				Msg("captions: too many flood waits, slowing down")
		}
	}

	e.log.Info().Int64("user_id", s.UserID).Int("targets", len(targets)).Int("rules", len(rules)).
		Str("preset", s.Preset().Name).Msg("captions: edit started")

	inBatch := 0
	for i, target := range targets {
		if stop.Stopped() || ctx.Err() != nil {
			stats.Stopped = true
			break
		}

		preset := s.Preset()
		if i > 0 {
			pause := preset.Delay().Pick()
			if inBatch >= preset.BatchSize {
				pause, inBatch = preset.BatchPause, 0
				e.log.Debug().Dur("pause", pause).Msg("captions: batch pause")
			}
			if err := e.sleep(ctx, pause, stop); err != nil {
				stats.Stopped = true
				break
			}
			if stop.Stopped() {
				stats.Stopped = true
				break
			}
		}
		inBatch++

		ok, err := e.editOne(ctx, retrier, target, rules, &stats)
		if err != nil && interrupted(ctx, err) {
			stats.Stopped = true
			break
		}
		e.policy.OnResult(s, ok)

		stats.Done++
		if e.progressEvery > 0 && stats.Done%e.progressEvery == 0 && stats.Done < stats.Total {
			stats.Preset = s.Preset().Name
			report(stats)
		}
	}

	stats.Preset = s.Preset().Name
	stats.Final = true
	stats.Duration = e.now().Sub(started)
	s.Finish(stats)
	report(stats)

	e.log.Info().
		Int64("user_id", s.UserID).
		Int("edited", stats.Edited).
		Int("unchanged", stats.Unchanged).
		Int("missing", stats.Missing).
		Int("failed", stats.Failed).
		Int("flood_waits", stats.FloodWaits).
		Bool("stopped", stats.Stopped).
		Msg("captions: edit finished")
	return stats
}

// editOne rewrites one message. Stop is not observed inside an item, only
// between items. It returns whether the item counted as
// handled and, for failures, the error.
func (e *Editor) editOne(ctx context.Context, retrier *backup.Retrier, target Target, rules Rules, stats *EditStats) (bool, error) {
	var msg *telegram.Message
	err := retrier.Do(ctx, nil, "fetch", func() error {
		var err error
		msg, err = e.tg.GetMessage(ctx, target.Chat, target.MsgID)
		return err
	})
	switch {
	case err == nil:
	case interrupted(ctx, err):
		return false, err
	case errors.Is(err, telegram.ErrMessageNotFound):
		stats.Missing++
		return true, nil
	default:
		e.log.Error().Err(err).Int("msg_id", target.MsgID).Msg("captions: fetch failed")
		stats.Failed++
		return false, err
	}

	text := rules.Apply(msg.Text)
	if text == msg.Text {
		stats.Unchanged++
		return true, nil
	}

	err = retrier.Do(ctx, nil, "edit", func() error {
		if msg.HasMedia() {
			return e.tg.EditCaption(ctx, target.Chat, target.MsgID, text, nil)
		}
		return e.tg.EditText(ctx, target.Chat, target.MsgID, text, nil)
	})
	switch {
	case err == nil:
		stats.Edited++
		return true, nil
	case interrupted(ctx, err):
		return false, err
	case errors.Is(err, telegram.ErrNotModified):
		stats.Unchanged++
		return true, nil
	case errors.Is(err, telegram.ErrMessageNotFound):
		stats.Missing++
		return true, nil
	default:
		e.log.Error().Err(err).Int("msg_id", target.MsgID).Msg("captions: edit failed")
		stats.Failed++
		return false, err
	}
}
