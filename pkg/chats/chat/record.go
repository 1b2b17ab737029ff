package chat

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Chanpoe/ModelHub/pkg/chats/content"
	"github.com/Chanpoe/ModelHub/pkg/chats/message"
	"github.com/Chanpoe/ModelHub/pkg/chats/role"
	"github.com/Chanpoe/ModelHub/pkg/modeladapter/usage"
)

// RecordVersion is the version tag written by Record. Version 2 added
// PartRecord.Source; version 1 image parts carry no source.
const RecordVersion = 2

// Image sources in PartRecord.Source.
const (
	SourceURL    = "url"
	SourceInline = "inline"
)

// ErrUnsupportedVersion is returned when a record was written by a newer
// format than this package understands.
var ErrUnsupportedVersion = errors.New("chat: unsupported record version")

// Record is the serializable form of a Chat: plain values only, safe to hand
// to any JSON store.
type Record struct {
	Version  int             `json:"version"`
	Messages []MessageRecord `json:"messages"`
	Usage    UsageRecord     `json:"usage"`
}

// MessageRecord is the serializable form of a message.
type MessageRecord struct {
	ID      string       `json:"id,omitempty"`
	Role    string       `json:"role"`
	Content []PartRecord `json:"content"`
}

// PartRecord is the serializable form of a content part. Images store their
// reference in Value: the URL as given for SourceURL, a base64 data URI for
// SourceInline. A URL may itself be a data URI; Source keeps it a URL.
type PartRecord struct {
	Kind      string `json:"kind"`
	Value     string `json:"value"`
	Source    string `json:"source,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// UsageRecord is the serializable form of the usage totals.
type UsageRecord struct {
	PromptTokens     int  `json:"prompt_tokens"`
	CompletionTokens int  `json:"completion_tokens"`
	TotalTokens      int  `json:"total_tokens"`
	Estimated        bool `json:"estimated,omitempty"`
}

// Record returns the serializable form of the chat's history and usage.
func (c *Chat) Record() Record {
	rec := Record{
		Version:  RecordVersion,
		Messages: make([]MessageRecord, 0, len(c.messages)),
	}

	for _, m := range c.messages {
		mr := MessageRecord{
			ID:      m.ID,
			Role:    m.Role.String(),
			Content: make([]PartRecord, 0, len(m.Parts)),
		}
		for _, p := range m.Parts {
			mr.Content = append(mr.Content, partRecord(p))
		}
		rec.Messages = append(rec.Messages, mr)
	}

	total := c.usage.Total()
	rec.Usage = UsageRecord{
		PromptTokens:     total.InputTokens,
		CompletionTokens: total.OutputTokens,
		TotalTokens:      total.Total(),
		Estimated:        total.Estimated,
	}

	return rec
}

func partRecord(p content.Part) PartRecord {
	switch v := p.(type) {
	case content.Text:
		return PartRecord{Kind: content.KindText, Value: v.Text}
	case content.Image:
		source := SourceURL
		if v.Inline() {
			source = SourceInline
		}
		return PartRecord{
			Kind:      content.KindImage,
			Value:     v.Reference(),
			Source:    source,
			MediaType: v.MediaType,
			Detail:    v.Detail,
		}
	default:
		return PartRecord{Kind: p.PartKind()}
	}
}

// FromRecord rebuilds a Chat from its serializable form. Records without a
// version are read as version 1. Role validation follows opts.
func FromRecord(rec Record, opts ...Option) (*Chat, error) {
	if rec.Version > RecordVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, rec.Version)
	}

	c := New(opts...)

	msgs := make([]message.Message, 0, len(rec.Messages))
	for i, mr := range rec.Messages {
		m, err := mr.message()
		if err != nil {
			return nil, fmt.Errorf("chat: record message %d: %w", i, err)
		}
		msgs = append(msgs, m)
	}

	if err := c.Append(msgs...); err != nil {
		return nil, err
	}

	u := usage.TokenCount{
		InputTokens:  rec.Usage.PromptTokens,
		OutputTokens: rec.Usage.CompletionTokens,
		Estimated:    rec.Usage.Estimated,
	}
	if u != (usage.TokenCount{}) {
		if err := c.AddUsage(u); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func (mr MessageRecord) message() (message.Message, error) {
	r, err := role.Parse(mr.Role)
	if err != nil {
		return message.Message{}, fmt.Errorf("%w: %w", ErrInvalidRole, err)
	}

	parts := make([]content.Part, 0, len(mr.Content))
	for _, pr := range mr.Content {
		p, err := pr.part()
		if err != nil {
			return message.Message{}, err
		}
		parts = append(parts, p)
	}

	m := message.Message{ID: mr.ID, Role: r, Parts: parts}
	if m.ID == "" {
		m = message.New(r, parts...)
	}

	return m, nil
}

func (pr PartRecord) part() (content.Part, error) {
	switch pr.Kind {
	case content.KindText:
		return content.Text{Text: pr.Value}, nil
	case content.KindImage:
		return pr.image()
	default:
		return nil, fmt.Errorf("chat: unknown content kind %q", pr.Kind)
	}
}

func (pr PartRecord) image() (content.Image, error) {
	var img content.Image

	switch pr.Source {
	case SourceURL:
		if pr.Value == "" {
			return content.Image{}, fmt.Errorf("chat: empty image url")
		}
		img = content.Image{URL: pr.Value}
	case SourceInline, "":
		// Version 1 records have no source and always went through
		// Reference, so their data URIs are inline images.
		parsed, err := content.ParseImage(pr.Value)
		if err != nil {
			return content.Image{}, err
		}
		img = parsed
	default:
		return content.Image{}, fmt.Errorf("chat: unknown image source %q", pr.Source)
	}

	img.MediaType = pr.MediaType
	img.Detail = pr.Detail

	return img, nil
}

// MarshalJSON encodes the chat as its Record.
func (c *Chat) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Record())
}

// UnmarshalJSON replaces the chat's history and usage with the decoded
// Record. The chat's validation options are kept.
func (c *Chat) UnmarshalJSON(data []byte) error {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("chat: decode record: %w", err)
	}

	var opts []Option
	if c.permissive {
		opts = append(opts, Permissive())
	}
	if c.logger != nil {
		opts = append(opts, WithLogger(c.logger))
	}

	restored, err := FromRecord(rec, opts...)
	if err != nil {
		return err
	}

	c.messages = restored.messages
	c.logger = restored.logger
	c.usage.Reset()
	for _, e := range restored.usage.Entries() {
		c.usage.Add(e)
	}

	return nil
}
