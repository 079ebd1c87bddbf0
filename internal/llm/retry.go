package llm

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/omicscout/omicscout/internal/provider"
)

const (
	maxPreferredAttempts = 3
	retryBaseDelay       = 1 * time.Second
	retryJitterMax       = 250 * time.Millisecond
)

// retryPhase is the state of the tier sequence for one logical call.
type retryPhase int

const (
	phasePreferred retryPhase = iota
	phaseStandard
	phaseExhausted
)

// RetryState tracks one logical call through the retry state machine.
type RetryState struct {
	Attempt int    // attempts made so far, across tiers
	Tier    string // tier to use for the next attempt
	phase   retryPhase
}

// RetryController wraps a single logical call to the upstream provider with
// rate-limit-aware backoff and processing-tier fallback. One controller is
// shared by the blocking and streaming call shapes.
//
// Policy: up to 3 attempts on the preferred tier with exponential backoff
// (base 1s, doubling) plus 0-250ms jitter, then exactly one attempt on the
// standard tier. Calls already on the standard tier propagate rate-limit
// failures immediately. Non-rate-limit errors always propagate immediately.
type RetryController struct {
	preferredTier string // empty = no preferred tier configured
	standardTier  string // empty = provider default tier
	logger        *slog.Logger

	// Swapped out in tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

func NewRetryController(preferredTier string, logger *slog.Logger) *RetryController {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryController{
		preferredTier: preferredTier,
		logger:        logger,
		sleep:         sleepWithContext,
		jitter:        randomJitter,
	}
}

// newState initializes the state machine for one logical call.
func (rc *RetryController) newState() *RetryState {
	if rc.preferredTier == "" || rc.preferredTier == rc.standardTier {
		return &RetryState{Tier: rc.standardTier, phase: phaseStandard}
	}
	return &RetryState{Tier: rc.preferredTier, phase: phasePreferred}
}

// advance consumes a failed attempt and returns the backoff delay before
// the next attempt, or ok=false when the failure must propagate.
func (rc *RetryController) advance(st *RetryState, err error) (delay time.Duration, ok bool) {
	if !provider.IsRateLimit(err) {
		st.phase = phaseExhausted
		return 0, false
	}

	switch st.phase {
	case phasePreferred:
		delay = rc.backoff(st.Attempt - 1)
		if st.Attempt >= maxPreferredAttempts {
			// Preferred tier exhausted: one final attempt on standard.
			st.phase = phaseStandard
			st.Tier = rc.standardTier
		}
		return delay, true
	default:
		// Already on the standard tier: propagate immediately.
		st.phase = phaseExhausted
		return 0, false
	}
}

// Do runs call through the retry state machine. The call receives the tier
// to use for that attempt; streaming callers restart their stream from the
// beginning on every attempt.
func (rc *RetryController) Do(ctx context.Context, call func(ctx context.Context, tier string) error) error {
	st := rc.newState()
	for {
		st.Attempt++
		err := call(ctx, st.Tier)
		if err == nil {
			return nil
		}

		delay, retry := rc.advance(st, err)
		if !retry {
			return err
		}

		rc.logger.Info("rate limited, retrying",
			"attempt", st.Attempt, "next_tier", st.Tier, "delay", delay)
		if sleepErr := rc.sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}
}

// backoff returns the delay for attempt n (0-indexed) with jitter.
func (rc *RetryController) backoff(attempt int) time.Duration {
	delay := retryBaseDelay
	for range attempt {
		delay *= 2
	}
	return delay + rc.jitter()
}

func randomJitter() time.Duration {
	return time.Duration(rand.Int64N(int64(retryJitterMax)))
}

// sleepWithContext sleeps for d, returning early if ctx is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
