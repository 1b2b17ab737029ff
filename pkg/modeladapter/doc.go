// Package modeladapter defines the contract between a conversation and an LLM
// backend, plus the shared plumbing concrete adapters are built from.
//
// It contains:
//   - [Exchanger] interface: one synchronous turn against a backend
//   - embeddable [ModelAdapter] base struct with HTTP helpers, auth, custom headers and capabilities
//   - the adapter error taxonomy ([ErrBackendUnavailable], [ErrMalformedResponse], [ErrUnsupportedContent])
//   - [TokenEstimator] for backends that omit usage data
//   - [RateLimitedExchanger], an optional transport-level throttling and 429 retry decorator
//   - [github.com/Chanpoe/ModelHub/pkg/modeladapter/usage]: token counts and a thread-safe tracker
//
// This package contains no provider-specific code; concrete adapters live in
// separate packages that import modeladapter.
package modeladapter
