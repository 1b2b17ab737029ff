package modeladapter

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RateLimitInfo is the backend's view of the caller's remaining quota, as
// reported in the headers of the last successful response. Counts whose
// header was absent are zero, as are their limits and reset times.
type RateLimitInfo struct {
	LimitRequests     int
	LimitTokens       int
	RemainingRequests int
	RemainingTokens   int
	RequestsReset     time.Time
	TokensReset       time.Time
}

// RateLimitInfoReporter provides the most recently observed rate limit info
// from a backend's response headers.
type RateLimitInfoReporter interface {
	LastRateLimitInfo() *RateLimitInfo
}

// RateLimitHeaderParser extracts rate limit info from HTTP response headers.
// It receives the current time so callers can control the clock in tests.
type RateLimitHeaderParser func(h http.Header, now time.Time) *RateLimitInfo

// RateLimitHeaders names the response headers a backend uses to report its
// quota. Reset headers hold an RFC 3339 time or a duration relative to now.
type RateLimitHeaders struct {
	LimitRequests     string
	LimitTokens       string
	RemainingRequests string
	RemainingTokens   string
	ResetRequests     string
	ResetTokens       string
}

// OpenAIRateLimitHeaders are sent by api.openai.com. Reset values are
// durations such as "6m0s" or "20ms".
var OpenAIRateLimitHeaders = RateLimitHeaders{
	LimitRequests:     "x-ratelimit-limit-requests",
	LimitTokens:       "x-ratelimit-limit-tokens",
	RemainingRequests: "x-ratelimit-remaining-requests",
	RemainingTokens:   "x-ratelimit-remaining-tokens",
	ResetRequests:     "x-ratelimit-reset-requests",
	ResetTokens:       "x-ratelimit-reset-tokens",
}

// AnthropicRateLimitHeaders are sent by the Anthropic Messages API. Reset
// values are RFC 3339 times.
var AnthropicRateLimitHeaders = RateLimitHeaders{
	LimitRequests:     "anthropic-ratelimit-requests-limit",
	LimitTokens:       "anthropic-ratelimit-tokens-limit",
	RemainingRequests: "anthropic-ratelimit-requests-remaining",
	RemainingTokens:   "anthropic-ratelimit-tokens-remaining",
	ResetRequests:     "anthropic-ratelimit-requests-reset",
	ResetTokens:       "anthropic-ratelimit-tokens-reset",
}

// Parser returns a RateLimitHeaderParser for these header names. The parser
// returns nil when neither remaining count is present.
func (n RateLimitHeaders) Parser() RateLimitHeaderParser {
	return func(h http.Header, now time.Time) *RateLimitInfo {
		reqRemaining := h.Get(n.RemainingRequests)
		tokRemaining := h.Get(n.RemainingTokens)
		if reqRemaining == "" && tokRemaining == "" {
			return nil
		}

		return &RateLimitInfo{
			LimitRequests:     headerInt(h, n.LimitRequests),
			LimitTokens:       headerInt(h, n.LimitTokens),
			RemainingRequests: atoi(reqRemaining),
			RemainingTokens:   atoi(tokRemaining),
			RequestsReset:     parseResetTime(h.Get(n.ResetRequests), now),
			TokensReset:       parseResetTime(h.Get(n.ResetTokens), now),
		}
	}
}

// Header parsers for the backends whose conventions are known.
var (
	ParseOpenAIRateLimitHeaders    = OpenAIRateLimitHeaders.Parser()
	ParseAnthropicRateLimitHeaders = AnthropicRateLimitHeaders.Parser()
)

// RateLimitInfoOf returns the last rate limit info reported by e, looking
// through wrappers that expose Unwrap() Exchanger. It returns nil when no
// layer reports any.
func RateLimitInfoOf(e Exchanger) *RateLimitInfo {
	for e != nil {
		if r, ok := e.(RateLimitInfoReporter); ok {
			if info := r.LastRateLimitInfo(); info != nil {
				return info
			}
		}

		w, ok := e.(interface{ Unwrap() Exchanger })
		if !ok {
			return nil
		}
		e = w.Unwrap()
	}

	return nil
}

func headerInt(h http.Header, name string) int {
	if name == "" {
		return 0
	}
	return atoi(h.Get(name))
}

func atoi(s string) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return v
}

// parseResetTime tries RFC 3339 first, then a Go duration string (e.g. "6s",
// "1m30s") relative to now.
func parseResetTime(val string, now time.Time) time.Time {
	if val == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, val); err == nil {
		return t
	}
	if d, err := time.ParseDuration(val); err == nil {
		return now.Add(d)
	}
	return time.Time{}
}
