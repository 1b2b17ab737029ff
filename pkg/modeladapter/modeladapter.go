package modeladapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Chanpoe/ModelHub/pkg/chats/chat"
	"github.com/Chanpoe/ModelHub/pkg/chats/content"
	"github.com/Chanpoe/ModelHub/pkg/chats/message"
	"github.com/Chanpoe/ModelHub/pkg/chats/role"
	"github.com/Chanpoe/ModelHub/pkg/modeladapter/usage"
)

// Exchanger performs one conversational turn against an LLM backend.
//
// It receives a read-only view of the prior history (possibly empty) and the
// content of the new user message, and returns the complete assistant reply
// with the token usage of the call. Exchange never modifies history; the
// caller decides whether to record the turn.
//
// Failures match one of ErrBackendUnavailable, ErrMalformedResponse,
// ErrUnsupportedContent or ErrEmptyInput.
type Exchanger interface {
	Exchange(ctx context.Context, history chat.Reader, input []content.Part) (message.Message, usage.TokenCount, error)
}

// Auth holds authentication settings for an LLM provider API.
type Auth struct {
	Key    string // API key value.
	Header string // Header name (default: "Authorization").
	Scheme string // Scheme prefix (default: "Bearer" when Header is "Authorization").
}

// ModelAdapter holds the fixed configuration shared by provider
// implementations. Embed it in concrete adapter structs to get HTTP helpers,
// auth, custom headers, capabilities and usage estimation. It never holds
// conversation state, so one adapter may serve many dialogs.
type ModelAdapter struct {
	Name         string                // Model identifier (e.g. "gpt-4o").
	Temperature  *float64              // Sampling temperature; nil means provider default.
	TopP         *float64              // Nucleus sampling; nil means provider default.
	MaxTokens    int                   // Maximum tokens in the response.
	Auth         Auth                  // Authentication settings.
	BaseURL      string                // API base URL (no trailing slash).
	Client       *http.Client          // HTTP client; falls back to a default with a 10-minute timeout.
	Headers      map[string]string     // Extra headers applied to every request.
	Capabilities Capabilities          // Content kinds the backend accepts.
	Estimator    TokenEstimator        // Used when the backend omits usage data.
	HeaderParser RateLimitHeaderParser // Optional parser for rate limit response headers.

	rateLimitInfo atomic.Pointer[RateLimitInfo]
	clientOnce    sync.Once
	defaultClient *http.Client
}

// New creates a ModelAdapter with the given settings.
// A nil client falls back to a default client at call time.
func New(baseURL string, auth Auth, client *http.Client) ModelAdapter {
	return ModelAdapter{
		Auth:    auth,
		BaseURL: baseURL,
		Client:  client,
	}
}

// ModelName returns the configured model identifier.
func (a *ModelAdapter) ModelName() string { return a.Name }

// LastRateLimitInfo returns the most recently observed rate limit info, or nil.
func (a *ModelAdapter) LastRateLimitInfo() *RateLimitInfo { return a.rateLimitInfo.Load() }

// Turn validates input against the adapter's capabilities and returns the
// history followed by the pending user message, ready for translation.
func (a *ModelAdapter) Turn(history chat.Reader, input []content.Part) ([]message.Message, error) {
	if err := a.Capabilities.Check(input); err != nil {
		return nil, err
	}

	var msgs []message.Message
	if history != nil {
		msgs = history.Render()
	}

	for _, m := range msgs {
		if err := a.Capabilities.Check(m.Parts); err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
	}

	return append(msgs, message.New(role.User, input...)), nil
}

// EstimateUsage returns a local estimate for a call whose reply carried no
// usage data.
func (a *ModelAdapter) EstimateUsage(prompt []message.Message, reply message.Message) usage.TokenCount {
	return usage.TokenCount{
		InputTokens:  a.Estimator.EstimateMessages(prompt),
		OutputTokens: a.Estimator.EstimateMessages([]message.Message{reply}) - perMessageOverhead,
		Estimated:    true,
	}
}

// httpClient returns the configured client or a cached default client with a 10-minute timeout.
func (a *ModelAdapter) httpClient() *http.Client {
	if a.Client != nil {
		return a.Client
	}

	a.clientOnce.Do(func() {
		a.defaultClient = &http.Client{Timeout: 10 * time.Minute}
	})

	return a.defaultClient
}

// NewRequest builds an *http.Request with the base URL, auth, and custom
// headers already applied.
func (a *ModelAdapter) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	url := a.BaseURL + path

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	// Apply auth.
	if a.Auth.Key != "" {
		header := a.Auth.Header
		if header == "" {
			header = "Authorization"
		}

		value := a.Auth.Key
		if header == "Authorization" {
			scheme := a.Auth.Scheme
			if scheme == "" {
				scheme = "Bearer"
			}

			value = scheme + " " + value
		} else if a.Auth.Scheme != "" {
			value = a.Auth.Scheme + " " + value
		}

		req.Header.Set(header, value)
	}

	// Apply custom headers.
	for k, v := range a.Headers {
		req.Header.Set(k, v)
	}

	return req, nil
}

// Do sends the request using the configured HTTP client.
func (a *ModelAdapter) Do(req *http.Request) (*http.Response, error) {
	return a.httpClient().Do(req) //nolint:gosec // URL is built from trusted BaseURL config, not user input.
}

// PostJSON marshals payload as JSON, sends a POST to the given path,
// checks for a 2xx status, and unmarshals the response body into dest.
// If dest is nil the response body is discarded after the status check.
//
// Transport failures, non-2xx statuses and cancellation are reported as
// ErrBackendUnavailable (429 as *RateLimitError); an undecodable body as
// ErrMalformedResponse.
func (a *ModelAdapter) PostJSON(ctx context.Context, path string, payload any, dest any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return Malformed("marshal payload: %w", err)
	}

	req, err := a.NewRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return Unavailable(fmt.Errorf("build request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := a.Do(req)
	if err != nil {
		return Unavailable(fmt.Errorf("do request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		respBody, _ := io.ReadAll(resp.Body)
		return &RateLimitError{
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
			Body:       string(respBody),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return &Error{
			Kind:   ErrBackendUnavailable,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("unexpected status: %s", string(respBody)),
		}
	}

	// Parse and store rate limit info from response headers.
	if a.HeaderParser != nil {
		if info := a.HeaderParser(resp.Header, time.Now()); info != nil {
			a.rateLimitInfo.Store(info)
		}
	}

	if dest == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		if ctx.Err() != nil {
			return Unavailable(ctx.Err())
		}
		return Malformed("decode response: %w", err)
	}

	return nil
}
