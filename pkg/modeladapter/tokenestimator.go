package modeladapter

import (
	"github.com/Chanpoe/ModelHub/pkg/chats/chat"
	"github.com/Chanpoe/ModelHub/pkg/chats/content"
	"github.com/Chanpoe/ModelHub/pkg/chats/message"
)

// perMessageOverhead is the estimated token overhead for each message (role,
// structure delimiters, etc.).
const perMessageOverhead = 4

// perImageTokens is the flat cost charged for an image part, matching the
// low-detail image price of OpenAI-style vision models.
const perImageTokens = 85

// TokenEstimator estimates token counts for chat messages.
// It uses a character-to-token heuristic (approximately 1 token per 4 characters
// for English text) plus a flat cost per image.
// The zero value is ready to use.
type TokenEstimator struct{}

// charsToTokens converts a character count to an estimated token count using the
// 1-token-per-4-characters heuristic.
func charsToTokens(chars int) int {
	return (chars + 3) / 4 // round up
}

// EstimateMessages estimates the tokens needed to send msgs, including
// per-message structural overhead.
func (e *TokenEstimator) EstimateMessages(msgs []message.Message) int {
	tokens := 0

	for _, m := range msgs {
		tokens += perMessageOverhead + charsToTokens(len(m.Role))

		for _, p := range m.Parts {
			switch v := p.(type) {
			case content.Text:
				tokens += charsToTokens(len(v.Text))
			case content.Image:
				tokens += perImageTokens
			}
		}
	}

	return tokens
}

// EstimateChat estimates the input tokens of the whole conversation.
func (e *TokenEstimator) EstimateChat(c chat.Reader) int {
	return e.EstimateMessages(c.Render())
}
