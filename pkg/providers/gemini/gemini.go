// Package gemini provides an Exchanger for the Google Gemini API.
package gemini

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/Chanpoe/ModelHub/pkg/chats/chat"
	"github.com/Chanpoe/ModelHub/pkg/chats/content"
	"github.com/Chanpoe/ModelHub/pkg/chats/message"
	"github.com/Chanpoe/ModelHub/pkg/chats/role"
	"github.com/Chanpoe/ModelHub/pkg/modeladapter"
	"github.com/Chanpoe/ModelHub/pkg/modeladapter/usage"
)

// DefaultBaseURL is the base URL for the Gemini API.
const DefaultBaseURL = "https://generativelanguage.googleapis.com"

var _ modeladapter.Exchanger = (*Adapter)(nil)

// Adapter implements modeladapter.Exchanger for the Google Gemini API.
type Adapter struct {
	modeladapter.ModelAdapter
}

// New creates an Adapter configured for the Gemini API.
// The baseURL should be "https://generativelanguage.googleapis.com" (no trailing slash).
func New(baseURL, apiKey, model string) *Adapter {
	a := &Adapter{}
	a.BaseURL = strings.TrimSuffix(baseURL, "/")
	a.Auth = modeladapter.Auth{
		Key:    apiKey,
		Header: "x-goog-api-key",
	}
	a.Name = model
	a.MaxTokens = 8192
	a.Capabilities = modeladapter.Capabilities{Images: true}

	// Gemini returns no rate limit headers, so HeaderParser stays unset and
	// RateLimitedExchanger falls back to proactive throttling only.

	return a
}

// Exchange sends the history plus the new user input to generateContent and
// returns the assistant's reply.
func (a *Adapter) Exchange(ctx context.Context, history chat.Reader, input []content.Part) (message.Message, usage.TokenCount, error) {
	msgs, err := a.Turn(history, input)
	if err != nil {
		return message.Message{}, usage.TokenCount{}, fmt.Errorf("gemini: %w", err)
	}

	path := "/v1beta/models/" + url.PathEscape(a.Name) + ":generateContent"

	var resp apiResponse
	if err := a.PostJSON(ctx, path, a.buildRequest(msgs), &resp); err != nil {
		return message.Message{}, usage.TokenCount{}, fmt.Errorf("gemini: %w", err)
	}

	if resp.Error != nil {
		return message.Message{}, usage.TokenCount{}, fmt.Errorf("gemini: %w",
			modeladapter.Unavailable(fmt.Errorf("api error: %s", resp.Error.Message)))
	}

	if len(resp.Candidates) == 0 {
		reason := ""
		if resp.PromptFeedback != nil {
			reason = resp.PromptFeedback.BlockReason
		}
		return message.Message{}, usage.TokenCount{}, fmt.Errorf("gemini: %w",
			modeladapter.Malformed("empty candidates in response (block reason %q)", reason))
	}

	reply, err := parseCandidate(resp.Candidates[0])
	if err != nil {
		return message.Message{}, usage.TokenCount{}, fmt.Errorf("gemini: %w", err)
	}

	if resp.UsageMetadata == nil {
		return reply, a.EstimateUsage(msgs, reply), nil
	}

	return reply, usage.TokenCount{
		InputTokens:  resp.UsageMetadata.PromptTokenCount,
		OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
	}, nil
}

// --- request types ---

type apiRequest struct {
	Contents          []apiContent     `json:"contents"`
	SystemInstruction *apiContent      `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type apiContent struct {
	Role  string    `json:"role,omitempty"`
	Parts []apiPart `json:"parts"`
}

type apiPart struct {
	Text       string         `json:"text,omitempty"`
	InlineData *apiInlineData `json:"inlineData,omitempty"`
	FileData   *apiFileData   `json:"fileData,omitempty"`
	Thought    bool           `json:"thought,omitempty"`
}

type apiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type apiFileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

// --- response types ---

type apiResponse struct {
	Candidates     []apiCandidate     `json:"candidates"`
	UsageMetadata  *apiUsageMeta      `json:"usageMetadata"`
	PromptFeedback *apiPromptFeedback `json:"promptFeedback"`
	Error          *apiError          `json:"error"`
}

type apiCandidate struct {
	Content      apiContent `json:"content"`
	FinishReason string     `json:"finishReason"`
}

type apiUsageMeta struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type apiPromptFeedback struct {
	BlockReason string `json:"blockReason"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// --- conversion helpers ---

func (a *Adapter) buildRequest(msgs []message.Message) apiRequest {
	req := apiRequest{
		GenerationConfig: generationConfig{
			MaxOutputTokens: a.MaxTokens,
		},
	}

	req.GenerationConfig.Temperature = a.Temperature
	req.GenerationConfig.TopP = a.TopP

	for _, m := range msgs {
		if m.Role == role.System {
			req.SystemInstruction = &apiContent{Parts: []apiPart{{Text: m.TextContent()}}}
			continue
		}

		parts := make([]apiPart, 0, len(m.Parts))
		for _, p := range m.Parts {
			if ap, ok := toAPIPart(p); ok {
				parts = append(parts, ap)
			}
		}

		if len(parts) == 0 {
			continue
		}

		r := mapRole(m.Role)

		// Gemini rejects consecutive turns from the same role.
		if n := len(req.Contents); n > 0 && req.Contents[n-1].Role == r {
			req.Contents[n-1].Parts = append(req.Contents[n-1].Parts, parts...)
			continue
		}

		req.Contents = append(req.Contents, apiContent{Role: r, Parts: parts})
	}

	return req
}

func toAPIPart(p content.Part) (apiPart, bool) {
	switch v := p.(type) {
	case content.Text:
		return apiPart{Text: v.Text}, true
	case content.Image:
		if v.Inline() {
			return apiPart{InlineData: &apiInlineData{MimeType: v.Type(), Data: v.Base64()}}, true
		}
		return apiPart{FileData: &apiFileData{MimeType: v.MediaType, FileURI: v.URL}}, true
	default:
		return apiPart{}, false
	}
}

func mapRole(r role.Role) string {
	if r == role.Assistant {
		return "model"
	}
	return "user"
}

func parseCandidate(c apiCandidate) (message.Message, error) {
	if r := c.Content.Role; r != "" && r != "model" {
		return message.Message{}, modeladapter.Malformed("unexpected reply role %q", r)
	}

	var b strings.Builder
	for _, p := range c.Content.Parts {
		if p.Thought {
			continue
		}
		b.WriteString(p.Text)
	}

	if b.Len() == 0 {
		return message.Message{}, modeladapter.Malformed("no text content in candidate (finish reason %q)", c.FinishReason)
	}

	return message.NewText(role.Assistant, b.String()), nil
}
