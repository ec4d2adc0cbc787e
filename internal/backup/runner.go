package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gotd/td/tg"

	"github.com/blockedby/backupbot/internal/logger"
	"github.com/blockedby/backupbot/internal/telegram"
)

// pauses used by autoforward
const (
	forwardItemPause  = 500 * time.Millisecond
	forwardBatchPause = time.Second
	defaultBatchSize  = 100
)

// Telegram is the client capability set a job needs.
type Telegram interface {
	GetMessage(ctx context.Context, chat telegram.Chat, id int) (*telegram.Message, error)
	History(ctx context.Context, chat telegram.Chat, offsetID, limit int) ([]telegram.Message, error)
	Download(ctx context.Context, media *telegram.Media, dir string) (string, error)
	SendMedia(ctx context.Context, to telegram.Chat, media *telegram.Media, path, caption string, entities []tg.MessageEntityClass) (int, error)
	SendText(ctx context.Context, to telegram.Chat, text string, entities []tg.MessageEntityClass) (int, error)
	Forward(ctx context.Context, from telegram.Chat, ids []int, to telegram.Chat) error
}

// Progress is a periodic report from a running job.
type Progress struct {
	Job      *Job
	Counters Counters
	Done     int // items processed so far
	Final    bool
	Stopped  bool  // final report only
	Err      error // final report only
}

// ProgressFunc receives progress reports; it must not block for long.
type ProgressFunc func(p Progress)

// Options configure a Runner.
type Options struct {
	Retry            RetryPolicy
	DownloadDir      string
	ProgressEvery    int           // report after this many items
	ProgressInterval time.Duration // or after this much time, whichever first
}

// Runner executes jobs item by item.
type Runner struct {
	tg    Telegram
	opts  Options
	sleep SleepFunc
	now   func() time.Time
	log   *logger.Logger
}

// NewRunner creates a Runner.
func NewRunner(client Telegram, opts Options, log *logger.Logger) *Runner {
	if opts.DownloadDir == "" {
		opts.DownloadDir = os.TempDir()
	}
	return &Runner{
		tg:    client,
		opts:  opts,
		sleep: Sleep,
		now:   time.Now,
		log:   log,
	}
}

// throttle decides when a progress report is due
type throttle struct {
	every    int
	interval time.Duration
	pending  int
	last     time.Time
}

func (t *throttle) due(now time.Time) bool {
	t.pending++
	if (t.every > 0 && t.pending >= t.every) || (t.interval > 0 && now.Sub(t.last) >= t.interval) {
		t.pending = 0
		t.last = now
		return true
	}
	return false
}

// run carries the state of one job execution
type run struct {
	*Runner
	job     *Job
	stop    *StopToken
	stats   *Stats
	report  ProgressFunc
	retry   *Retrier
	tick    throttle
	done    int
	stopped bool
}

func (r *Runner) newRun(job *Job, stop *StopToken, stats *Stats, report ProgressFunc) *run {
	if stats == nil {
		stats = &Stats{}
	}
	if report == nil {
		report = func(Progress) {}
	}

	retry := &Retrier{
		Policy: r.opts.Retry,
		Sleep:  r.sleep,
		log:    r.log,
		OnFlood: func(time.Duration) {
			stats.update(func(c *Counters) { c.FloodWaits++ })
		},
	}

	return &run{
		Runner: r,
		job:    job,
		stop:   stop,
		stats:  stats,
		report: report,
		retry:  retry,
		tick:   throttle{every: r.opts.ProgressEvery, interval: r.opts.ProgressInterval, last: r.now()},
	}
}

// Run executes the job until it completes, stop fires or ctx ends.
// Per-item failures are counted and never abort the job.
func (r *Runner) Run(ctx context.Context, job *Job, stop *StopToken, stats *Stats, report ProgressFunc) Result {
	started := r.now()
	x := r.newRun(job, stop, stats, report)

	var err error
	switch job.Kind {
	case KindForward:
		err = x.forwardHistory(ctx)
	default:
		x.backupIDs(ctx)
	}

	counters, _ := x.stats.Snapshot()
	res := Result{
		Counters: counters,
		Stopped:  x.stopped,
		Err:      err,
		Duration: r.now().Sub(started),
	}
	x.report(Progress{Job: job, Counters: counters, Done: x.done, Final: true, Stopped: res.Stopped, Err: err})

	r.log.Info().
		Str("job_id", job.ID.String()).
		Str("kind", string(job.Kind)).
		Int("succeeded", res.Succeeded).
		Int("failed", res.Failed).
		Int("missing", res.Missing).
		Bool("stopped", res.Stopped).
		Dur("duration", res.Duration).
		Msg("backup: job finished")
	return res
}

// halted checks the stop token and context between steps
func (x *run) halted(ctx context.Context) bool {
	if x.stop.Stopped() || ctx.Err() != nil {
		x.stopped = true
	}
	return x.stopped
}

// interrupted reports whether err came from stop or cancellation
func (x *run) interrupted(ctx context.Context, err error) bool {
	if errors.Is(err, ErrStopped) || ctx.Err() != nil {
		x.stopped = true
		return true
	}
	return false
}

// abandon counts an item cut off by cancellation as failed and ends the job
func (x *run) abandon(id int) {
	x.stopped = true
	x.log.Warn().Int("msg_id", id).Msg("backup: canceled mid-item")
	x.stats.update(func(c *Counters) { c.Failed++ })
}

func (x *run) advance() {
	x.done++
	if x.tick.due(x.now()) {
		counters, _ := x.stats.Snapshot()
		x.report(Progress{Job: x.job, Counters: counters, Done: x.done})
	}
}

func (x *run) backupIDs(ctx context.Context) {
	for _, id := range x.job.IDs {
		if x.halted(ctx) {
			return
		}
		x.stats.setCurrent(id)
		x.stats.update(func(c *Counters) { c.Attempted++ })

		// once started, an item runs to completion; stop only ends the job
		// at the next item boundary
		var msg *telegram.Message
		err := x.retry.Do(ctx, nil, "fetch", func() error {
			var err error
			msg, err = x.tg.GetMessage(ctx, x.job.Source, id)
			return err
		})
		switch {
		case err == nil:
		case x.interrupted(ctx, err):
			x.abandon(id)
			return
		case errors.Is(err, telegram.ErrMessageNotFound):
			x.log.Warn().Int("msg_id", id).Msg("backup: message not found")
			x.stats.update(func(c *Counters) { c.Missing++ })
			x.advance()
			continue
		default:
			x.log.Error().Err(err).Int("msg_id", id).Msg("backup: fetch failed")
			x.stats.update(func(c *Counters) { c.Failed++ })
			x.advance()
			continue
		}

		// a stop cuts the delay short; the item is still delivered
		if err := x.sleep(ctx, x.job.Delay.Pick(), x.stop); err != nil && !errors.Is(err, ErrStopped) {
			x.abandon(id)
			return
		}

		err = x.deliver(ctx, msg)
		switch {
		case err == nil:
			x.log.Info().Int("msg_id", id).Str("mode", string(x.job.Mode)).Msg("backup: message copied")
			x.stats.update(func(c *Counters) { c.Succeeded++ })
		case x.interrupted(ctx, err):
			x.abandon(id)
			return
		default:
			x.log.Error().Err(err).Int("msg_id", id).Msg("backup: delivery failed")
			x.stats.update(func(c *Counters) { c.Failed++ })
		}
		x.advance()
	}
}

// deliver sends one message to the destination.
func (x *run) deliver(ctx context.Context, msg *telegram.Message) error {
	caption, entities := Transform(msg.Text, msg.Entities, x.job.Mode, x.job.Rewrite, x.job.Source.Title, x.now())
	dest := x.job.Dest

	if !msg.HasMedia() {
		if caption == "" {
			return x.forward(ctx, msg.ID)
		}
		return x.retry.Do(ctx, nil, "send text", func() error {
			_, err := x.tg.SendText(ctx, dest, caption, entities)
			return err
		})
	}

	media := msg.Media
	switch {
	case media.Kind == telegram.MediaSticker:
		return x.retry.Do(ctx, nil, "send sticker", func() error {
			_, err := x.tg.SendMedia(ctx, dest, media, "", "", nil)
			return err
		})
	case media.Kind == telegram.MediaOther:
		return x.forward(ctx, msg.ID)
	}

	var path string
	err := x.retry.Do(ctx, nil, "download", func() error {
		var err error
		path, err = x.tg.Download(ctx, media, x.opts.DownloadDir)
		return err
	})
	if err != nil {
		if x.interrupted(ctx, err) {
			return err
		}
		x.log.Warn().Err(err).Int("msg_id", msg.ID).Msg("backup: download failed, forwarding instead")
		return x.forward(ctx, msg.ID)
	}
	defer func() {
		if rerr := os.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
			x.log.Warn().Err(rerr).Str("path", path).Msg("backup: failed to remove temp file")
		}
	}()

	return x.retry.Do(ctx, nil, "upload", func() error {
		_, err := x.tg.SendMedia(ctx, dest, media, path, caption, entities)
		return err
	})
}

func (x *run) forward(ctx context.Context, id int) error {
	return x.retry.Do(ctx, nil, "forward", func() error {
		return x.tg.Forward(ctx, x.job.Source, []int{id}, x.job.Dest)
	})
}

// forwardHistory walks the source history newest first, forwarding each message.
func (x *run) forwardHistory(ctx context.Context) error {
	batch := x.job.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}

	offsetID := 0
	for {
		if x.halted(ctx) {
			return nil
		}

		var messages []telegram.Message
		err := x.retry.Do(ctx, x.stop, "history", func() error {
			var err error
			messages, err = x.tg.History(ctx, x.job.Source, offsetID, batch)
			return err
		})
		if err != nil {
			if x.interrupted(ctx, err) {
				return nil
			}
			return fmt.Errorf("fetch history at %d: %w", offsetID, err)
		}
		if len(messages) == 0 {
			return nil
		}

		for _, msg := range messages {
			if x.halted(ctx) {
				return nil
			}
			if x.job.Limit > 0 && x.done >= x.job.Limit {
				return nil
			}

			x.stats.setCurrent(msg.ID)
			x.stats.update(func(c *Counters) { c.Attempted++ })

			err := x.forward(ctx, msg.ID)
			switch {
			case err == nil:
				x.stats.update(func(c *Counters) { c.Succeeded++ })
			case x.interrupted(ctx, err):
				x.abandon(msg.ID)
				return nil
			default:
				x.log.Error().Err(err).Int("msg_id", msg.ID).Msg("backup: forward failed")
				x.stats.update(func(c *Counters) { c.Failed++ })
			}
			x.advance()

			if err := x.sleep(ctx, forwardItemPause, x.stop); err != nil {
				x.stopped = true
				return nil
			}
		}

		offsetID = messages[len(messages)-1].ID
		if x.job.Limit > 0 && x.done >= x.job.Limit {
			return nil
		}
		if err := x.sleep(ctx, forwardBatchPause, x.stop); err != nil {
			x.stopped = true
			return nil
		}
	}
}
