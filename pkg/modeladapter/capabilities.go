package modeladapter

import (
	"github.com/Chanpoe/ModelHub/pkg/chats/content"
)

// Capabilities describes which content kinds a backend/model accepts.
// Text is always accepted.
type Capabilities struct {
	Images bool // Vision input (URL or inline images).
}

// Check verifies that every part can be sent to a backend with these
// capabilities. An empty parts slice fails with ErrEmptyInput.
func (c Capabilities) Check(parts []content.Part) error {
	if len(parts) == 0 {
		return &Error{Kind: ErrEmptyInput}
	}

	for i, p := range parts {
		switch v := p.(type) {
		case content.Text:
		case content.Image:
			if !c.Images {
				return Unsupported("part %d: backend does not accept images", i)
			}
			if v.URL == "" && !v.Inline() {
				return Unsupported("part %d: image has neither url nor data", i)
			}
		case nil:
			return Unsupported("part %d: nil content part", i)
		default:
			return Unsupported("part %d: content kind %q", i, p.PartKind())
		}
	}

	return nil
}
