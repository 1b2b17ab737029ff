// Package anthropic provides an Exchanger for the Anthropic Messages API.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/Chanpoe/ModelHub/pkg/chats/chat"
	"github.com/Chanpoe/ModelHub/pkg/chats/content"
	"github.com/Chanpoe/ModelHub/pkg/chats/message"
	"github.com/Chanpoe/ModelHub/pkg/chats/role"
	"github.com/Chanpoe/ModelHub/pkg/modeladapter"
	"github.com/Chanpoe/ModelHub/pkg/modeladapter/usage"
)

// DefaultBaseURL is the base URL for the Anthropic API.
const DefaultBaseURL = "https://api.anthropic.com"

// APIVersion is sent in the anthropic-version header.
const APIVersion = "2023-06-01"

const messagesPath = "/v1/messages"

var _ modeladapter.Exchanger = (*Adapter)(nil)

// Adapter implements modeladapter.Exchanger for the Anthropic Messages API.
type Adapter struct {
	modeladapter.ModelAdapter
}

// New creates an Adapter configured for the Anthropic API.
// The baseURL should be "https://api.anthropic.com" (no trailing slash).
func New(baseURL, apiKey, model string) *Adapter {
	a := &Adapter{}
	a.BaseURL = strings.TrimSuffix(baseURL, "/")
	a.Auth = modeladapter.Auth{
		Key:    apiKey,
		Header: "x-api-key",
	}
	a.Name = model
	a.MaxTokens = 4096
	a.Headers = map[string]string{
		"anthropic-version": APIVersion,
	}
	a.Capabilities = modeladapter.Capabilities{Images: true}
	a.HeaderParser = modeladapter.ParseAnthropicRateLimitHeaders

	return a
}

// Exchange sends the history plus the new user input to the Messages API and
// returns the assistant's reply.
func (a *Adapter) Exchange(ctx context.Context, history chat.Reader, input []content.Part) (message.Message, usage.TokenCount, error) {
	msgs, err := a.Turn(history, input)
	if err != nil {
		return message.Message{}, usage.TokenCount{}, fmt.Errorf("anthropic: %w", err)
	}

	var resp apiResponse
	if err := a.PostJSON(ctx, messagesPath, a.buildRequest(msgs), &resp); err != nil {
		return message.Message{}, usage.TokenCount{}, fmt.Errorf("anthropic: %w", err)
	}

	if resp.Error != nil {
		return message.Message{}, usage.TokenCount{}, fmt.Errorf("anthropic: %w",
			modeladapter.Unavailable(fmt.Errorf("api error: %s: %s", resp.Error.Type, resp.Error.Message)))
	}

	reply, err := parseResponse(resp)
	if err != nil {
		return message.Message{}, usage.TokenCount{}, fmt.Errorf("anthropic: %w", err)
	}

	if resp.Usage == nil {
		return reply, a.EstimateUsage(msgs, reply), nil
	}

	return reply, usage.TokenCount{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}

// --- request types ---

type apiRequest struct {
	Model       string       `json:"model"`
	MaxTokens   int          `json:"max_tokens"`
	System      string       `json:"system,omitempty"`
	Messages    []apiMessage `json:"messages"`
	Temperature *float64     `json:"temperature,omitempty"`
	TopP        *float64     `json:"top_p,omitempty"`
}

type apiMessage struct {
	Role    string       `json:"role"`
	Content []apiContent `json:"content"`
}

type apiContent struct {
	Type   string     `json:"type"`
	Text   string     `json:"text,omitempty"`
	Source *apiSource `json:"source,omitempty"`
}

type apiSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// --- response types ---

type apiResponse struct {
	Role       string       `json:"role"`
	Content    []apiContent `json:"content"`
	StopReason string       `json:"stop_reason"`
	Usage      *apiUsage    `json:"usage"`
	Error      *apiError    `json:"error"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// --- conversion helpers ---

func (a *Adapter) buildRequest(msgs []message.Message) apiRequest {
	req := apiRequest{
		Model:     a.Name,
		MaxTokens: a.MaxTokens,
	}

	req.Temperature = a.Temperature
	req.TopP = a.TopP

	for _, m := range msgs {
		if m.Role == role.System {
			req.System = m.TextContent()
			continue
		}
		appendMessage(&req.Messages, m)
	}

	return req
}

// appendMessage adds m to msgs, merging into the previous message when the
// roles match, since the Messages API requires strict alternation.
func appendMessage(msgs *[]apiMessage, m message.Message) {
	blocks := make([]apiContent, 0, len(m.Parts))
	for _, p := range m.Parts {
		if b, ok := partToBlock(p); ok {
			blocks = append(blocks, b)
		}
	}

	if len(blocks) == 0 {
		return
	}

	msgRole := mapRole(m.Role)

	if n := len(*msgs); n > 0 && (*msgs)[n-1].Role == msgRole {
		(*msgs)[n-1].Content = append((*msgs)[n-1].Content, blocks...)
		return
	}

	*msgs = append(*msgs, apiMessage{Role: msgRole, Content: blocks})
}

func partToBlock(p content.Part) (apiContent, bool) {
	switch v := p.(type) {
	case content.Text:
		return apiContent{Type: "text", Text: v.Text}, true
	case content.Image:
		if v.Inline() {
			return apiContent{Type: "image", Source: &apiSource{
				Type:      "base64",
				MediaType: v.Type(),
				Data:      v.Base64(),
			}}, true
		}
		return apiContent{Type: "image", Source: &apiSource{Type: "url", URL: v.URL}}, true
	default:
		return apiContent{}, false
	}
}

func mapRole(r role.Role) string {
	if r == role.Assistant {
		return "assistant"
	}
	return "user"
}

func parseResponse(resp apiResponse) (message.Message, error) {
	if resp.Role != "" && resp.Role != "assistant" {
		return message.Message{}, modeladapter.Malformed("unexpected reply role %q", resp.Role)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}

	if b.Len() == 0 {
		return message.Message{}, modeladapter.Malformed("no text content in response (stop_reason %q)", resp.StopReason)
	}

	return message.NewText(role.Assistant, b.String()), nil
}
