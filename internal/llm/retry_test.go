package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/omicscout/omicscout/internal/provider"
)

// testController returns a controller with deterministic timing: no jitter,
// sleeps recorded instead of slept.
func testController(preferredTier string) (*RetryController, *[]time.Duration) {
	rc := NewRetryController(preferredTier, nil)
	var sleeps []time.Duration
	rc.jitter = func() time.Duration { return 0 }
	rc.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return rc, &sleeps
}

func rateLimited() error {
	return &provider.RateLimitError{StatusCode: 429, Err: errors.New("too many requests")}
}

func TestRetry_ExhaustsPreferredThenStandard(t *testing.T) {
	rc, sleeps := testController("flex")

	var tiers []string
	err := rc.Do(context.Background(), func(ctx context.Context, tier string) error {
		tiers = append(tiers, tier)
		return rateLimited()
	})

	if !provider.IsRateLimit(err) {
		t.Fatalf("final error = %v, want rate limit", err)
	}

	wantTiers := []string{"flex", "flex", "flex", ""}
	if len(tiers) != len(wantTiers) {
		t.Fatalf("attempt tiers = %v, want %v", tiers, wantTiers)
	}
	for i := range wantTiers {
		if tiers[i] != wantTiers[i] {
			t.Errorf("attempt %d tier = %q, want %q", i+1, tiers[i], wantTiers[i])
		}
	}

	wantSleeps := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}
	if len(*sleeps) != len(wantSleeps) {
		t.Fatalf("sleeps = %v, want %v", *sleeps, wantSleeps)
	}
	for i := range wantSleeps {
		if (*sleeps)[i] != wantSleeps[i] {
			t.Errorf("sleep %d = %v, want %v", i, (*sleeps)[i], wantSleeps[i])
		}
	}
}

func TestRetry_SuccessOnSecondAttempt(t *testing.T) {
	rc, sleeps := testController("flex")

	attempts := 0
	err := rc.Do(context.Background(), func(ctx context.Context, tier string) error {
		attempts++
		if attempts == 1 {
			return rateLimited()
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	if len(*sleeps) != 1 || (*sleeps)[0] != 1*time.Second {
		t.Errorf("sleeps = %v, want [1s]", *sleeps)
	}
}

func TestRetry_NonRateLimitPropagatesImmediately(t *testing.T) {
	rc, sleeps := testController("flex")

	boom := &provider.TransportError{StatusCode: 500, Err: errors.New("upstream down")}
	attempts := 0
	err := rc.Do(context.Background(), func(ctx context.Context, tier string) error {
		attempts++
		return boom
	})

	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want %v", err, boom)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if len(*sleeps) != 0 {
		t.Errorf("unexpected sleeps: %v", *sleeps)
	}
}

func TestRetry_NoPreferredTierSingleAttempt(t *testing.T) {
	rc, sleeps := testController("")

	attempts := 0
	err := rc.Do(context.Background(), func(ctx context.Context, tier string) error {
		attempts++
		if tier != "" {
			t.Errorf("tier = %q, want provider default", tier)
		}
		return rateLimited()
	})

	if !provider.IsRateLimit(err) {
		t.Fatalf("error = %v, want rate limit", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if len(*sleeps) != 0 {
		t.Errorf("unexpected sleeps: %v", *sleeps)
	}
}

func TestRetry_StandardTierFailureEndsCall(t *testing.T) {
	rc, _ := testController("flex")

	attempts := 0
	err := rc.Do(context.Background(), func(ctx context.Context, tier string) error {
		attempts++
		if attempts <= 3 {
			return rateLimited()
		}
		return &provider.RateLimitError{StatusCode: 529, Err: fmt.Errorf("overloaded")}
	})

	if attempts != 4 {
		t.Errorf("attempts = %d, want 4", attempts)
	}
	if !provider.IsRateLimit(err) {
		t.Fatalf("error = %v, want rate limit", err)
	}
}

func TestRetry_CancelledSleepAbortsCall(t *testing.T) {
	rc := NewRetryController("flex", nil)
	rc.jitter = func() time.Duration { return 0 }

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := rc.Do(ctx, func(ctx context.Context, tier string) error {
		attempts++
		cancel()
		return rateLimited()
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetry_JitterBounds(t *testing.T) {
	for range 100 {
		j := randomJitter()
		if j < 0 || j >= retryJitterMax {
			t.Fatalf("jitter %v outside [0, %v)", j, retryJitterMax)
		}
	}
}
