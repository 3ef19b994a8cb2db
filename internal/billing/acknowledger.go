package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/purchase-lifecycle/internal/domain"
	"github.com/Dhoini/purchase-lifecycle/internal/provider"
	"github.com/Dhoini/purchase-lifecycle/pkg/logger"
)

const (
	defaultMaxTrials = 3
	defaultBaseDelay = 500 * time.Millisecond
)

// AcknowledgementFailedError is returned when a purchase token could not be
// acknowledged. Code and Message hold the last provider response.
type AcknowledgementFailedError struct {
	PurchaseToken string
	Trials        int
	Code          provider.ResponseCode
	Message       string
	// Err is set when the wait was interrupted by the context.
	Err error
}

func (e *AcknowledgementFailedError) Error() string {
	msg := fmt.Sprintf("acknowledgement of %s failed after %d trial(s): %s", e.PurchaseToken, e.Trials, e.Code)
	if e.Message != "" {
		msg += " (" + e.Message + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AcknowledgementFailedError) Is(target error) bool {
	return target == domain.ErrAcknowledgementFailed
}

func (e *AcknowledgementFailedError) Unwrap() error {
	return e.Err
}

// Acknowledger confirms purchases with the provider, retrying recoverable
// failures with exponential backoff.
type Acknowledger struct {
	log       *logger.Logger
	clock     Clock
	metrics   Metrics
	locks     *tokenLocks
	maxTrials int
	baseDelay time.Duration
}

// AcknowledgerOption customizes an Acknowledger.
type AcknowledgerOption func(*Acknowledger)

// WithClock replaces the timer used between trials.
func WithClock(c Clock) AcknowledgerOption {
	return func(a *Acknowledger) { a.clock = c }
}

// WithAcknowledgeMetrics sets the metrics sink.
func WithAcknowledgeMetrics(m Metrics) AcknowledgerOption {
	return func(a *Acknowledger) { a.metrics = m }
}

// NewAcknowledger creates an acknowledger with three trials and a 500ms base
// delay.
func NewAcknowledger(log *logger.Logger, opts ...AcknowledgerOption) *Acknowledger {
	a := &Acknowledger{
		log:       log,
		clock:     RealClock(),
		metrics:   nopMetrics{},
		locks:     newTokenLocks(),
		maxTrials: defaultMaxTrials,
		baseDelay: defaultBaseDelay,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// delay returns the wait after the given 1-based trial: base * 2^trial.
func (a *Acknowledger) delay(trial int) time.Duration {
	return a.baseDelay * time.Duration(1<<trial)
}

// Acknowledge confirms purchaseToken. clientFn is consulted on every trial so
// that a reconnected client is picked up between retries. Concurrent calls
// for the same token run one after another.
func (a *Acknowledger) Acknowledge(ctx context.Context, clientFn func() provider.Client, purchaseToken string) error {
	release, err := a.locks.acquire(ctx, purchaseToken)
	if err != nil {
		a.metrics.IncAcknowledgeResult("failed")
		return &AcknowledgementFailedError{PurchaseToken: purchaseToken, Code: provider.ServiceDisconnected, Err: err}
	}
	defer release()

	var (
		last   provider.Result
		trials int
	)
loop:
	for trial := 1; trial <= a.maxTrials; trial++ {
		trials = trial
		last = a.attempt(ctx, clientFn, purchaseToken)
		outcome := Classify(last.Code)
		a.metrics.IncAcknowledgeAttempt(outcome.String())

		switch outcome {
		case OutcomeOK:
			a.log.Infow("Purchase acknowledged", "trial", trial)
			a.metrics.IncAcknowledgeResult("success")
			return nil
		case OutcomeAlreadyOwned:
			a.log.Infow("Purchase already acknowledged", "trial", trial)
			a.metrics.IncAcknowledgeResult("success")
			return nil
		case OutcomeRecoverable:
			if trial == a.maxTrials {
				continue
			}
			wait := a.delay(trial)
			a.log.Warnw("Acknowledgement failed, retrying",
				"trial", trial, "code", last.Code.String(), "debugMessage", last.DebugMessage, "retryIn", wait)
			if err := a.clock.Sleep(ctx, wait); err != nil {
				a.metrics.IncAcknowledgeResult("failed")
				return &AcknowledgementFailedError{
					PurchaseToken: purchaseToken, Trials: trial,
					Code: last.Code, Message: last.DebugMessage, Err: err,
				}
			}
		case OutcomeNonrecoverable:
			a.log.Errorw("Acknowledgement failed", "trial", trial, "code", last.Code.String(), "debugMessage", last.DebugMessage)
			break loop
		default:
			a.log.Errorw("Unexpected acknowledgement response", "trial", trial, "code", int(last.Code), "debugMessage", last.DebugMessage)
			break loop
		}
	}

	a.log.Errorw("Failed to acknowledge purchase", "trials", trials, "code", last.Code.String())
	a.metrics.IncAcknowledgeResult("failed")
	return &AcknowledgementFailedError{
		PurchaseToken: purchaseToken,
		Trials:        trials,
		Code:          last.Code,
		Message:       last.DebugMessage,
	}
}

func (a *Acknowledger) attempt(ctx context.Context, clientFn func() provider.Client, token string) provider.Result {
	var client provider.Client
	if clientFn != nil {
		client = clientFn()
	}
	if client == nil {
		return provider.ResultOf(provider.ServiceDisconnected, "billing client is not connected")
	}
	if err := ctx.Err(); err != nil {
		return provider.ResultOf(provider.ServiceDisconnected, "%v", err)
	}
	return client.AcknowledgePurchase(ctx, token)
}

// IsAcknowledgementFailed reports whether err came from Acknowledge.
func IsAcknowledgementFailed(err error) bool {
	var target *AcknowledgementFailedError
	return errors.As(err, &target)
}
