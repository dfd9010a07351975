package provision

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/reeltask/authserver/internal/metrics"
	"github.com/reeltask/authserver/types"
)

// Publisher is the queue capability the producer side needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// JobQueue enqueues compensation jobs onto the configured broker channel.
type JobQueue struct {
	queue   Publisher
	channel string
	logger  zerolog.Logger
}

func NewJobQueue(queue Publisher, channel string, logger zerolog.Logger) *JobQueue {
	return &JobQueue{
		queue:   queue,
		channel: channel,
		logger:  logger.With().Str("component", "provision_queue").Logger(),
	}
}

// Enqueue publishes a job. The error is returned so the caller can log it,
// but a registration response already in flight must never fail because of
// it.
func (q *JobQueue) Enqueue(ctx context.Context, job types.ProvisioningJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	attrs := map[string]string{}
	if job.CorrelationID != "" {
		attrs[requestIDKey] = job.CorrelationID
	}

	if _, err := q.queue.Publish(ctx, q.channel, data, attrs); err != nil {
		return err
	}
	metrics.ProvisioningJobsEnqueued.Inc()
	q.logger.Info().
		Str("user_id", job.UserID).
		Int("attempt", job.Attempt).
		Msg("compensation job enqueued")
	return nil
}
