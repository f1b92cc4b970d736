// Package submit wraps ledger transaction submission with bounded
// exponential-backoff retries.
//
// Only a gateway timeout from the ledger API is worth retrying: the envelope
// may still be applied, and resubmitting the same signed envelope is safe.
// Every other failure is terminal and surfaced immediately.
package submit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"stellar-wallet-sync/internal/horizon"
	"stellar-wallet-sync/internal/observability"
)

// Policy is the retry configuration. Constant once constructed.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  int
}

// DefaultPolicy returns the production retry policy.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2}
}

// Validate checks the policy is usable.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.BaseDelay <= 0 {
		return fmt.Errorf("base delay must be positive, got %s", p.BaseDelay)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("multiplier must be >= 1, got %d", p.Multiplier)
	}
	return nil
}

// BackoffDelay returns the delay after the given failed attempt (1-indexed):
// BaseDelay * Multiplier^(attempt-1). Pure, so it is testable without timers.
func (p Policy) BackoffDelay(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= time.Duration(p.Multiplier)
	}
	return delay
}

// IsRetryable reports whether err is worth retrying: a ledger-API error with
// status 504. Other statuses and generic transport errors are terminal.
func IsRetryable(err error) bool {
	var herr *horizon.Error
	return errors.As(err, &herr) && herr.Status == http.StatusGatewayTimeout
}

// Transactor submits signed envelopes. Implemented by *horizon.Client.
type Transactor interface {
	SubmitTransaction(ctx context.Context, envelopeXDR string) (*horizon.SubmitResponse, error)
}

// Submitter retries transaction submission per its Policy.
type Submitter struct {
	client Transactor
	policy Policy
	wait   func(ctx context.Context, d time.Duration) error
	logger *log.Logger
}

// Option configures Submitter.
type Option func(*Submitter)

// WithWait overrides how backoff delays are waited out (tests).
func WithWait(wait func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Submitter) {
		s.wait = wait
	}
}

// WithLogger sets the logger for retry decisions.
func WithLogger(logger *log.Logger) Option {
	return func(s *Submitter) {
		s.logger = logger
	}
}

// NewSubmitter creates a Submitter. The policy is validated once here.
func NewSubmitter(client Transactor, policy Policy, opts ...Option) (*Submitter, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}

	s := &Submitter{
		client: client,
		policy: policy,
		wait:   sleepWait,
		logger: log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Submit posts the signed envelope, retrying retryable failures with
// exponential backoff. The delay runs before each retried attempt, never
// before the first. On exhaustion the last error is returned unmodified.
func (s *Submitter) Submit(ctx context.Context, envelopeXDR string) (*horizon.SubmitResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		observability.RecordSubmitAttempt(attempt > 1)

		resp, err := s.client.SubmitTransaction(ctx, envelopeXDR)
		if err == nil {
			observability.RecordSubmitOutcome("success")
			return resp, nil
		}
		if !IsRetryable(err) {
			observability.RecordSubmitOutcome("failed")
			return nil, err
		}

		lastErr = err
		if attempt == s.policy.MaxAttempts {
			break
		}

		delay := s.policy.BackoffDelay(attempt)
		s.logger.Printf("submit attempt %d/%d failed with gateway timeout, retrying in %s",
			attempt, s.policy.MaxAttempts, delay)
		if err := s.wait(ctx, delay); err != nil {
			observability.RecordSubmitOutcome("cancelled")
			return nil, err
		}
	}

	observability.RecordSubmitOutcome("exhausted")
	return nil, lastErr
}

// sleepWait blocks for d or until ctx is cancelled.
func sleepWait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
