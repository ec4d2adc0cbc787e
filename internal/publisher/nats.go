// Package publisher emits job lifecycle events.
package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/blockedby/backupbot/internal/backup"
	"github.com/blockedby/backupbot/internal/logger"
)

// SubjectJobFinished carries a JobFinishedEvent for every ended job.
const SubjectJobFinished = "backup.jobs.finished"

// publishTimeout bounds one publish
const publishTimeout = 10 * time.Second

// NATSClient interface to allow mocking
type NATSClient interface {
	Publish(ctx context.Context, subject string, data any) error
}

// JobFinishedEvent is the payload of SubjectJobFinished.
type JobFinishedEvent struct {
	JobID      uuid.UUID       `json:"job_id"`
	Kind       backup.Kind     `json:"kind"`
	Mode       backup.Mode     `json:"mode,omitempty"`
	SourceID   int64           `json:"source_id"`
	Source     string          `json:"source"`
	DestID     int64           `json:"dest_id"`
	Counters   backup.Counters `json:"counters"`
	Stopped    bool            `json:"stopped"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	DurationMS int64           `json:"duration_ms"`
}

// NATSPublisher publishes job events to NATS.
type NATSPublisher struct {
	js  NATSClient
	log *logger.Logger
}

// NewNATSPublisher creates a new publisher
func NewNATSPublisher(client NATSClient, log *logger.Logger) *NATSPublisher {
	return &NATSPublisher{js: client, log: log}
}

// PublishJobFinished publishes a finished job event
func (p *NATSPublisher) PublishJobFinished(ctx context.Context, event JobFinishedEvent) error {
	if err := p.js.Publish(ctx, SubjectJobFinished, event); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// OnFinish adapts the publisher to backup.Manager.OnFinish.
func (p *NATSPublisher) OnFinish(job *backup.Job, res backup.Result) {
	event := JobFinishedEvent{
		JobID:      job.ID,
		Kind:       job.Kind,
		Mode:       job.Mode,
		SourceID:   job.Source.ID,
		Source:     job.Source.Title,
		DestID:     job.Dest.ID,
		Counters:   res.Counters,
		Stopped:    res.Stopped,
		StartedAt:  job.StartedAt,
		FinishedAt: job.StartedAt.Add(res.Duration),
		DurationMS: res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		event.Error = res.Err.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := p.PublishJobFinished(ctx, event); err != nil {
		p.log.Warn().Err(err).Str("job_id", job.ID.String()).Msg("publisher: job event not sent")
	}
}
