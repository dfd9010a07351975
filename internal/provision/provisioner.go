package provision

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/reeltask/authserver/internal/metrics"
)

const (
	defaultCallTimeout     = time.Second
	defaultMaxRetries      = 3
	defaultInitialInterval = 100 * time.Millisecond
	defaultMaxInterval     = time.Second

	breakerCooldown   = 30 * time.Second
	breakerMinSamples = 5
	breakerErrorRate  = 0.5
)

// NewBreaker builds the circuit breaker guarding downstream calls. The
// instance is shared across all concurrent provisioning callers in the
// process so they aggregate one failure signal; tests construct their own.
func NewBreaker(logger zerolog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "user-service",
		MaxRequests: 1, // one trial call while half-open
		Timeout:     breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < breakerMinSamples {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= breakerErrorRate
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})
}

// Provisioner drives a breaker-guarded, retried profile-creation call.
type Provisioner struct {
	transport   Transport
	breaker     *gobreaker.CircuitBreaker
	logger      zerolog.Logger
	callTimeout time.Duration
	maxRetries  uint64
	initialWait time.Duration
	maxWait     time.Duration
}

// Option tweaks Provisioner timing, used by tests to avoid real waits.
type Option func(*Provisioner)

func WithCallTimeout(d time.Duration) Option {
	return func(p *Provisioner) { p.callTimeout = d }
}

func WithBackoff(initial, max time.Duration) Option {
	return func(p *Provisioner) { p.initialWait = initial; p.maxWait = max }
}

func NewProvisioner(transport Transport, breaker *gobreaker.CircuitBreaker, logger zerolog.Logger, opts ...Option) *Provisioner {
	p := &Provisioner{
		transport:   transport,
		breaker:     breaker,
		logger:      logger.With().Str("component", "provisioner").Logger(),
		callTimeout: defaultCallTimeout,
		maxRetries:  defaultMaxRetries,
		initialWait: defaultInitialInterval,
		maxWait:     defaultMaxInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Provision attempts to create the downstream profile. It returns true when
// the profile exists (created now or previously) and false when every
// synchronous option is exhausted, in which case the caller must fall back
// to the compensation queue. It never returns an error: permanent failure
// is an expected, compensatable condition here.
func (p *Provisioner) Provision(ctx context.Context, userID, username, correlationID string) bool {
	req := Request{UserID: userID, Username: username, CorrelationID: correlationID}

	attempt := 0
	operation := func() error {
		attempt++
		outcome, err := p.call(ctx, req)
		if err != nil {
			p.logger.Warn().
				Err(err).
				Str("user_id", userID).
				Int("attempt", attempt).
				Msg("profile provisioning attempt failed")
			metrics.ProvisioningAttempts.WithLabelValues(attemptLabel(err)).Inc()
			return err
		}
		if outcome == OutcomeConflict {
			p.logger.Info().
				Str("user_id", userID).
				Msg("profile already exists, treating as success")
			metrics.ProvisioningAttempts.WithLabelValues("conflict").Inc()
		} else {
			metrics.ProvisioningAttempts.WithLabelValues("success").Inc()
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.initialWait
	bo.Multiplier = 2
	bo.MaxInterval = p.maxWait
	bo.MaxElapsedTime = 0

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, p.maxRetries), ctx))
	if err != nil {
		p.logger.Warn().
			Err(err).
			Str("user_id", userID).
			Str("request_id", correlationID).
			Msg("profile provisioning exhausted synchronous retries")
		return false
	}
	return true
}

// call runs a single breaker-guarded transport attempt under the per-call
// timeout. A timeout is a failure; it is never interpreted as success.
func (p *Provisioner) call(ctx context.Context, req Request) (Outcome, error) {
	result, err := p.breaker.Execute(func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
		defer cancel()
		return p.transport.CreateProfile(callCtx, req)
	})
	if err != nil {
		return 0, err
	}
	return result.(Outcome), nil
}

func attemptLabel(err error) string {
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return "open_circuit"
	}
	return "failure"
}
