package mailbox

import (
	"context"
	"time"

	"github.com/loomkit/loom/internal/loomerr"
)

// RetryPolicy configures SendWithRetry. Grounded on the teacher's
// internal/agent/providers/base.go Retry helper, adapted from that
// helper's linear backoff (retryDelay * attempt) to the exponential
// backoff spec.md §4.6 requires (doubling from ~2s, capped), since the
// two differ and the spec is explicit about which one this module
// implements — see DESIGN.md.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy satisfies §4.6's "at least 3 attempts, doubling
// interval starting at ~2s, capped".
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second}
}

func (p RetryPolicy) sanitize() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy().MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultRetryPolicy().BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultRetryPolicy().MaxDelay
	}
	return p
}

// SendWithRetry wraps mb.Send with bounded exponential backoff: a
// transient error (per mb.Classify) is retried until policy.MaxAttempts
// attempts in total have been made, with the delay doubling each
// attempt, capped at MaxDelay. A
// fatal error aborts immediately without consuming further attempts
// (§4.6: "a 4xx (other than 429) is fatal to the turn"). onRetry is
// called before each backoff sleep with the 1-based attempt index and
// the cause, satisfying the "retry event with attempt index and cause"
// observability requirement.
func SendWithRetry(ctx context.Context, mb Mailbox, wireRequest any, policy RetryPolicy, onRetry RetryCallback) (any, error) {
	policy = policy.sanitize()

	var lastErr error
	delay := policy.BaseDelay
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		resp, err := mb.Send(ctx, wireRequest)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if mb.Classify(err) == ErrorFatal {
			return nil, loomerr.Wrap(loomerr.KindProviderFatal, "provider request failed", err)
		}
		if attempt == policy.MaxAttempts {
			break
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}

		select {
		case <-ctx.Done():
			return nil, loomerr.Wrap(loomerr.KindCancelled, "cancelled during retry backoff", ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
	return nil, loomerr.Wrap(loomerr.KindProviderTransient, "provider request exhausted retries", lastErr)
}
