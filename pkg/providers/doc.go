// Package providers groups the concrete [modeladapter.Exchanger]
// implementations.
//
// Backends fall into two families:
//   - [github.com/Chanpoe/ModelHub/pkg/providers/openai]: compatible backends sharing the OpenAI chat completions shape (OpenAI, OpenRouter, Volcengine Ark, DMX)
//   - [github.com/Chanpoe/ModelHub/pkg/providers/anthropic]: native adapter for the Anthropic Messages API
//   - [github.com/Chanpoe/ModelHub/pkg/providers/gemini]: native adapter for the Google Gemini API
//
// [modeladapter.Exchanger]: https://pkg.go.dev/github.com/Chanpoe/ModelHub/pkg/modeladapter#Exchanger
package providers
