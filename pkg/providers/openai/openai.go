// Package openai provides the Exchanger for backends that speak the OpenAI
// Chat Completions shape: OpenAI itself and compatible services such as
// OpenRouter, Volcengine Ark and DMX. These backends differ only in base URL,
// credential, model identifier and optional headers; no content translation
// is needed between them.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Chanpoe/ModelHub/pkg/chats/chat"
	"github.com/Chanpoe/ModelHub/pkg/chats/content"
	"github.com/Chanpoe/ModelHub/pkg/chats/message"
	"github.com/Chanpoe/ModelHub/pkg/chats/role"
	"github.com/Chanpoe/ModelHub/pkg/modeladapter"
	"github.com/Chanpoe/ModelHub/pkg/modeladapter/usage"
)

// DefaultBaseURL is the base URL for the OpenAI API.
const DefaultBaseURL = "https://api.openai.com/v1"

const completionsPath = "/chat/completions"

var _ modeladapter.Exchanger = (*Adapter)(nil)

// Adapter implements modeladapter.Exchanger for the Chat Completions API.
type Adapter struct {
	modeladapter.ModelAdapter

	// Label prefixes errors; defaults to "openai". Presets set it to the
	// backend name (e.g. "openrouter").
	Label string
}

// New creates an Adapter for a Chat Completions endpoint.
// The baseURL includes the API version segment (e.g. "https://api.openai.com/v1").
// Image input is enabled; disable it through Capabilities for text-only models.
// No rate limit header parser is set, as compatible backends differ; set
// HeaderParser for backends with a known convention.
func New(baseURL, apiKey, model string) *Adapter {
	a := &Adapter{Label: "openai"}
	a.BaseURL = strings.TrimSuffix(baseURL, "/")
	a.Auth = modeladapter.Auth{Key: apiKey}
	a.Name = model
	a.Capabilities = modeladapter.Capabilities{Images: true}

	return a
}

// Exchange sends the history plus the new user input and returns the
// assistant's reply. When the backend omits usage data, the returned usage is
// a local estimate.
func (a *Adapter) Exchange(ctx context.Context, history chat.Reader, input []content.Part) (message.Message, usage.TokenCount, error) {
	msgs, err := a.Turn(history, input)
	if err != nil {
		return message.Message{}, usage.TokenCount{}, a.wrap(err)
	}

	var resp apiResponse
	if err := a.PostJSON(ctx, completionsPath, a.buildRequest(msgs), &resp); err != nil {
		return message.Message{}, usage.TokenCount{}, a.wrap(err)
	}

	if resp.Error != nil {
		return message.Message{}, usage.TokenCount{}, a.wrap(modeladapter.Unavailable(fmt.Errorf("api error: %s", resp.Error.Message)))
	}

	if len(resp.Choices) == 0 {
		return message.Message{}, usage.TokenCount{}, a.wrap(modeladapter.Malformed("empty choices in response"))
	}

	reply, err := parseChoice(resp.Choices[0])
	if err != nil {
		return message.Message{}, usage.TokenCount{}, a.wrap(err)
	}

	if resp.Usage == nil {
		return reply, a.EstimateUsage(msgs, reply), nil
	}

	return reply, usage.TokenCount{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

func (a *Adapter) wrap(err error) error {
	label := a.Label
	if label == "" {
		label = "openai"
	}
	return fmt.Errorf("%s: %w", label, err)
}

// --- request types ---

type apiRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
	TopP        *float64     `json:"top_p,omitempty"`
}

// apiMessage.Content is a plain string for text-only messages and a list of
// apiPart when the message carries images.
type apiMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type apiPart struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *apiImageURL `json:"image_url,omitempty"`
}

type apiImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// --- response types ---

type apiResponse struct {
	Choices []apiChoice `json:"choices"`
	Usage   *apiUsage   `json:"usage"`
	Error   *apiError   `json:"error"`
}

type apiChoice struct {
	Message      apiRespMessage `json:"message"`
	FinishReason string         `json:"finish_reason"`
}

type apiRespMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type apiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type apiError struct {
	Message string `json:"message"`
}

// --- conversion helpers ---

func (a *Adapter) buildRequest(msgs []message.Message) apiRequest {
	req := apiRequest{
		Model:     a.Name,
		MaxTokens: a.MaxTokens,
		Messages:  make([]apiMessage, 0, len(msgs)),
	}

	req.Temperature = a.Temperature
	req.TopP = a.TopP

	for _, m := range msgs {
		req.Messages = append(req.Messages, toAPIMessage(m))
	}

	return req
}

func toAPIMessage(m message.Message) apiMessage {
	if !m.HasImages() {
		return apiMessage{Role: m.Role.String(), Content: m.TextContent()}
	}

	parts := make([]apiPart, 0, len(m.Parts))
	for _, p := range m.Parts {
		switch v := p.(type) {
		case content.Text:
			parts = append(parts, apiPart{Type: "text", Text: v.Text})
		case content.Image:
			parts = append(parts, apiPart{
				Type:     "image_url",
				ImageURL: &apiImageURL{URL: v.Reference(), Detail: v.Detail},
			})
		}
	}

	return apiMessage{Role: m.Role.String(), Content: parts}
}

func parseChoice(choice apiChoice) (message.Message, error) {
	if r := choice.Message.Role; r != "" && r != string(role.Assistant) {
		return message.Message{}, modeladapter.Malformed("unexpected reply role %q", r)
	}

	text, err := decodeContent(choice.Message.Content)
	if err != nil {
		return message.Message{}, err
	}

	if text == "" {
		return message.Message{}, modeladapter.Malformed("empty reply (finish_reason %q)", choice.FinishReason)
	}

	return message.NewText(role.Assistant, text), nil
}

// decodeContent accepts either a string or a list of text parts, which some
// compatible backends return.
func decodeContent(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var parts []apiPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", modeladapter.Malformed("reply content: %w", err)
	}

	var b strings.Builder
	for _, p := range parts {
		if p.Type == "text" {
			b.WriteString(p.Text)
		}
	}

	return b.String(), nil
}
