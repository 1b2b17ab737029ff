package modeladapter

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Chanpoe/ModelHub/pkg/chats/chat"
	"github.com/Chanpoe/ModelHub/pkg/chats/content"
	"github.com/Chanpoe/ModelHub/pkg/chats/message"
	"github.com/Chanpoe/ModelHub/pkg/modeladapter/usage"
)

var _ Exchanger = (*RateLimitedExchanger)(nil)

type tokenEntry struct {
	timestamp    time.Time
	inputTokens  int
	outputTokens int
}

// RateLimitedExchanger wraps an Exchanger with proactive TPM/RPM-based throttling
// and reactive 429 retry with exponential backoff and jitter.
// Input and output tokens are tracked and throttled independently.
//
// It is transport plumbing: it sees only call outcomes and never touches the
// history it forwards. It is safe for concurrent use by several dialogs.
type RateLimitedExchanger struct {
	inner      Exchanger
	mu         sync.Mutex
	window     []tokenEntry
	inputTPM   int           // input tokens-per-minute limit (0 = no limit)
	outputTPM  int           // output tokens-per-minute limit (0 = no limit)
	requests   *rate.Limiter // requests-per-minute limiter (nil = no limit)
	maxRetries int           // max retries on 429
	baseDelay  time.Duration // initial backoff delay

	// nowFunc is used for testing; defaults to time.Now.
	nowFunc func() time.Time
	// sleepFunc is used for testing; defaults to a context-aware sleep.
	sleepFunc func(ctx context.Context, d time.Duration) error
	// randFunc returns a random float64 in [0,1); used for jitter. Defaults to rand.Float64.
	randFunc func() float64
}

// RateLimitOpts configures the RateLimitedExchanger.
type RateLimitOpts struct {
	InputTPM   int           // Input tokens per minute (0 = no limit).
	OutputTPM  int           // Output tokens per minute (0 = no limit).
	RPM        int           // Requests per minute (0 = no limit).
	MaxRetries int           // Max retries on 429 (default 3).
	BaseDelay  time.Duration // Initial backoff delay (default 1s).
}

// NewRateLimitedExchanger wraps an Exchanger with rate limiting.
func NewRateLimitedExchanger(inner Exchanger, opts RateLimitOpts) *RateLimitedExchanger {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}

	r := &RateLimitedExchanger{
		inner:      inner,
		inputTPM:   opts.InputTPM,
		outputTPM:  opts.OutputTPM,
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		nowFunc:    time.Now,
		sleepFunc:  contextSleep,
		randFunc:   rand.Float64,
	}

	if opts.RPM > 0 {
		r.requests = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RPM)), opts.RPM)
	}

	return r
}

// Unwrap returns the wrapped Exchanger.
func (r *RateLimitedExchanger) Unwrap() Exchanger { return r.inner }

// SetNowFunc overrides the time source (for testing).
func (r *RateLimitedExchanger) SetNowFunc(fn func() time.Time) { r.nowFunc = fn }

// SetSleepFunc overrides the sleep function (for testing).
func (r *RateLimitedExchanger) SetSleepFunc(fn func(ctx context.Context, d time.Duration) error) {
	r.sleepFunc = fn
}

// SetRandFunc overrides the random number generator (for testing).
func (r *RateLimitedExchanger) SetRandFunc(fn func() float64) { r.randFunc = fn }

// contextSleep sleeps for d or until ctx is cancelled.
func contextSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// pruneWindow removes entries older than 1 minute. Must be called with mu held.
func (r *RateLimitedExchanger) pruneWindow(now time.Time) {
	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(r.window) && !r.window[i].timestamp.After(cutoff) {
		i++
	}
	if i > 0 {
		r.window = append(r.window[:0:0], r.window[i:]...)
	}
}

// windowTotals returns the sum of input and output tokens in the current window.
// Must be called with mu held.
func (r *RateLimitedExchanger) windowTotals() (inputTotal, outputTotal int) {
	for _, e := range r.window {
		inputTotal += e.inputTokens
		outputTotal += e.outputTokens
	}
	return inputTotal, outputTotal
}

// waitForCapacity blocks until there is capacity in the TPM windows and the
// request limiter grants a slot.
func (r *RateLimitedExchanger) waitForCapacity(ctx context.Context) error {
	for r.inputTPM > 0 || r.outputTPM > 0 {
		r.mu.Lock()
		now := r.nowFunc()
		r.pruneWindow(now)
		inputTotal, outputTotal := r.windowTotals()

		inputOK := r.inputTPM <= 0 || inputTotal < r.inputTPM
		outputOK := r.outputTPM <= 0 || outputTotal < r.outputTPM

		if inputOK && outputOK {
			r.mu.Unlock()
			break
		}

		// Find when the oldest entry expires to free capacity.
		var waitDur time.Duration
		if len(r.window) > 0 {
			waitDur = max(r.window[0].timestamp.Add(time.Minute).Sub(now), 0)
		}
		r.mu.Unlock()

		const minWait = 10 * time.Millisecond
		if waitDur < minWait {
			waitDur = minWait
		}

		if err := r.sleepFunc(ctx, waitDur); err != nil {
			return err
		}
	}

	if r.requests != nil {
		return r.requests.Wait(ctx)
	}

	return nil
}

// recordTokens adds a token entry to the sliding window.
func (r *RateLimitedExchanger) recordTokens(tc usage.TokenCount) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.window = append(r.window, tokenEntry{
		timestamp:    r.nowFunc(),
		inputTokens:  tc.InputTokens,
		outputTokens: tc.OutputTokens,
	})
}

// jitter applies ±25% random jitter to a duration.
func (r *RateLimitedExchanger) jitter(d time.Duration) time.Duration {
	// Scale factor in [0.75, 1.25).
	factor := 0.75 + r.randFunc()*0.5 //nolint:mnd // jitter range: ±25%
	return time.Duration(float64(d) * factor)
}

// Exchange implements Exchanger with proactive TPM/RPM throttling and 429 retry.
func (r *RateLimitedExchanger) Exchange(ctx context.Context, history chat.Reader, input []content.Part) (message.Message, usage.TokenCount, error) {
	if err := r.waitForCapacity(ctx); err != nil {
		return message.Message{}, usage.TokenCount{}, Unavailable(err)
	}

	var lastErr error
	for attempt := range r.maxRetries + 1 {
		msg, tc, err := r.inner.Exchange(ctx, history, input)
		if err == nil {
			r.recordTokens(tc)
			if sleepErr := r.adaptFromServerInfo(ctx); sleepErr != nil {
				return message.Message{}, usage.TokenCount{}, Unavailable(sleepErr)
			}
			return msg, tc, nil
		}

		var rle *RateLimitError
		if !errors.As(err, &rle) {
			return message.Message{}, usage.TokenCount{}, err
		}

		lastErr = err

		if attempt >= r.maxRetries {
			break
		}

		// Compute backoff: baseDelay * 2^attempt, but use RetryAfter if larger. Apply jitter.
		backoff := r.jitter(max(
			r.baseDelay*time.Duration(math.Pow(2, float64(attempt))), //nolint:mnd // exponential backoff formula
			rle.RetryAfter,
		))

		if err := r.sleepFunc(ctx, backoff); err != nil {
			return message.Message{}, usage.TokenCount{}, Unavailable(err)
		}
	}

	if lastErr == nil {
		lastErr = Unavailable(errors.New("rate limit: exhausted retries without a successful exchange"))
	}

	return message.Message{}, usage.TokenCount{}, lastErr
}

// adaptFromServerInfo checks whether the inner exchanger reports near-zero
// remaining capacity via RateLimitInfoReporter. If so, it preemptively sleeps
// until the provider's reset time.
func (r *RateLimitedExchanger) adaptFromServerInfo(ctx context.Context) error {
	reporter, ok := r.inner.(RateLimitInfoReporter)
	if !ok {
		return nil
	}

	info := reporter.LastRateLimitInfo()
	if info == nil {
		return nil
	}

	now := r.nowFunc()
	var sleepUntil time.Time

	if info.RemainingRequests <= 1 && !info.RequestsReset.IsZero() && info.RequestsReset.After(now) {
		sleepUntil = info.RequestsReset
	}

	if info.RemainingTokens <= 1 && !info.TokensReset.IsZero() && info.TokensReset.After(now) {
		if info.TokensReset.After(sleepUntil) {
			sleepUntil = info.TokensReset
		}
	}

	if sleepUntil.IsZero() {
		return nil
	}

	return r.sleepFunc(ctx, sleepUntil.Sub(now))
}
