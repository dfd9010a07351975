package provision

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/reeltask/authserver/internal/mq"
	"github.com/reeltask/authserver/types"
)

const (
	// maxJobAttempts is the consumer-side retry budget. Reaching it marks
	// the job terminally failed for manual intervention; the account is
	// never deleted.
	maxJobAttempts = 10

	// jobBaseDelay is the base of the exponential re-enqueue delay.
	jobBaseDelay = 2 * time.Second

	// jobMaxDelay caps the re-enqueue delay.
	jobMaxDelay = 5 * time.Minute
)

// ProfileProvisioner is the synchronous provisioning capability the worker
// retries through. Satisfied by *Provisioner.
type ProfileProvisioner interface {
	Provision(ctx context.Context, userID, username, correlationID string) bool
}

// FailureRecorder persists terminally failed jobs.
type FailureRecorder interface {
	Create(ctx context.Context, failure types.ProvisioningFailure) error
}

// Worker consumes compensation jobs and drives them to completion or to the
// dead-letter store. It runs as an independent loop decoupled from any
// request's lifetime.
type Worker struct {
	queue       mq.Backend
	channel     string
	provisioner ProfileProvisioner
	failures    FailureRecorder
	logger      zerolog.Logger

	baseDelay time.Duration
	maxDelay  time.Duration
}

func NewWorker(queue mq.Backend, channel string, provisioner ProfileProvisioner, failures FailureRecorder, logger zerolog.Logger) *Worker {
	return &Worker{
		queue:       queue,
		channel:     channel,
		provisioner: provisioner,
		failures:    failures,
		logger:      logger.With().Str("component", "provision_worker").Logger(),
		baseDelay:   jobBaseDelay,
		maxDelay:    jobMaxDelay,
	}
}

// Run blocks consuming jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Str("channel", w.channel).Msg("compensation worker started")
	return w.queue.Subscribe(ctx, w.channel, w.handle)
}

// handle processes one delivery. Retries are expressed as fresh publishes
// with an incremented attempt counter and a not-before timestamp carrying the
// backoff, so the attempt number is monotonically non-decreasing across
// redeliveries. The republish happens before the ack; any failure on that
// path nacks the delivery so the broker retains the original message.
func (w *Worker) handle(ctx context.Context, msg mq.Message) error {
	var job types.ProvisioningJob
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		w.logger.Error().Err(err).Str("message_id", msg.ID).Msg("dropping malformed compensation job")
		return nil
	}

	if wait := time.Until(job.NotBefore); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			// Nack so the broker redelivers after restart.
			return ctx.Err()
		case <-timer.C:
		}
	}

	w.logger.Info().
		Str("user_id", job.UserID).
		Int("attempt", job.Attempt).
		Msg("processing compensation job")

	if w.provisioner.Provision(ctx, job.UserID, job.Username, job.CorrelationID) {
		w.logger.Info().Str("user_id", job.UserID).Msg("profile created by compensation job")
		return nil
	}

	if job.Attempt+1 >= maxJobAttempts {
		w.logger.Error().
			Str("user_id", job.UserID).
			Int("attempts", job.Attempt+1).
			Msg("compensation job exhausted retries, recording for manual intervention")
		if err := w.failures.Create(ctx, types.ProvisioningFailure{
			UserID:        job.UserID,
			Username:      job.Username,
			CorrelationID: job.CorrelationID,
			Attempts:      job.Attempt + 1,
			LastError:     "profile provisioning failed after maximum attempts",
		}); err != nil {
			w.logger.Error().Err(err).Str("user_id", job.UserID).Msg("failed to record terminal provisioning failure")
		}
		return nil
	}

	return w.requeue(ctx, job)
}

// requeue publishes the job again with attempt+1 and a not-before timestamp
// carrying the exponential backoff, then lets the delivery be acked. A
// publish failure is returned so the delivery is nacked and the broker keeps
// the original message instead of losing the job.
func (w *Worker) requeue(ctx context.Context, job types.ProvisioningJob) error {
	next := job
	next.Attempt++
	delay := w.delayFor(job.Attempt)
	next.NotBefore = time.Now().Add(delay)

	w.logger.Warn().
		Str("user_id", job.UserID).
		Int("next_attempt", next.Attempt).
		Dur("delay", delay).
		Msg("compensation job failed, re-enqueueing")

	data, err := json.Marshal(next)
	if err != nil {
		w.logger.Error().Err(err).Str("user_id", next.UserID).Msg("failed to marshal compensation job")
		return err
	}
	if _, err := w.queue.Publish(ctx, w.channel, data, nil); err != nil {
		w.logger.Error().Err(err).Str("user_id", next.UserID).Msg("failed to re-enqueue compensation job")
		return err
	}
	return nil
}

func (w *Worker) delayFor(attempt int) time.Duration {
	delay := w.baseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= w.maxDelay {
			return w.maxDelay
		}
	}
	return delay
}
