package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Chanpoe/ModelHub/pkg/chats/chat"
	"github.com/Chanpoe/ModelHub/pkg/chats/content"
	"github.com/Chanpoe/ModelHub/pkg/chats/message"
	"github.com/Chanpoe/ModelHub/pkg/chats/role"
	"github.com/Chanpoe/ModelHub/pkg/modeladapter"
	"github.com/Chanpoe/ModelHub/pkg/modeladapter/usage"
)

// ErrConcurrentSend is returned when a turn is started while another turn on
// the same Dialog is still in flight.
var ErrConcurrentSend = errors.New("dialog: concurrent send not allowed")

// ErrInvalidConfig is returned by New and Resume for an unusable Config.
var ErrInvalidConfig = errors.New("dialog: invalid config")

// Config configures a Dialog.
type Config struct {
	Model        string       // Model label; defaults to the adapter's ModelName when it has one.
	SystemPrompt string       // Seeds the history and survives Reset.
	Permissive   bool         // Log role violations instead of rejecting them.
	Logger       *slog.Logger // Defaults to slog.Default().
}

type modelNamer interface {
	ModelName() string
}

type unwrapper interface {
	Unwrap() modeladapter.Exchanger
}

// modelName looks for a model name on adapter and on the adapters it wraps.
func modelName(adapter modeladapter.Exchanger) string {
	for adapter != nil {
		if n, ok := adapter.(modelNamer); ok {
			return n.ModelName()
		}
		u, ok := adapter.(unwrapper)
		if !ok {
			return ""
		}
		adapter = u.Unwrap()
	}
	return ""
}

func (c *Config) normalize(adapter modeladapter.Exchanger) error {
	if adapter == nil {
		return fmt.Errorf("%w: nil adapter", ErrInvalidConfig)
	}

	if c.Model == "" {
		c.Model = modelName(adapter)
	}

	if c.Model == "" {
		return fmt.Errorf("%w: model is required", ErrInvalidConfig)
	}

	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	return nil
}

func (c *Config) chatOptions() []chat.Option {
	opts := []chat.Option{chat.WithLogger(c.Logger)}
	if c.Permissive {
		opts = append(opts, chat.Permissive())
	}
	return opts
}

// Dialog is one conversation with one model. It exclusively owns its
// conversation context; accessors return copies.
type Dialog struct {
	cfg     Config
	adapter modeladapter.Exchanger

	busy     atomic.Bool
	mu       sync.RWMutex
	chat     *chat.Chat
	lifetime usage.Tracker
}

// New creates a Dialog over adapter. A non-empty SystemPrompt becomes the
// first message of the history.
func New(cfg Config, adapter modeladapter.Exchanger) (*Dialog, error) {
	if err := cfg.normalize(adapter); err != nil {
		return nil, err
	}

	d := &Dialog{cfg: cfg, adapter: adapter}

	c, err := d.freshChat()
	if err != nil {
		return nil, err
	}
	d.chat = c

	return d, nil
}

// Resume creates a Dialog that continues the conversation stored in rec.
// When cfg.SystemPrompt is empty, the record's system prompt is used for
// later resets.
func Resume(cfg Config, adapter modeladapter.Exchanger, rec chat.Record) (*Dialog, error) {
	if err := cfg.normalize(adapter); err != nil {
		return nil, err
	}

	c, err := chat.FromRecord(rec, cfg.chatOptions()...)
	if err != nil {
		return nil, fmt.Errorf("dialog: resume: %w", err)
	}

	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = c.SystemPrompt()
	}

	d := &Dialog{cfg: cfg, adapter: adapter, chat: c}
	d.lifetime.Add(c.Usage())

	return d, nil
}

func (d *Dialog) freshChat() (*chat.Chat, error) {
	c := chat.New(d.cfg.chatOptions()...)

	if d.cfg.SystemPrompt != "" {
		if err := c.Append(message.NewText(role.System, d.cfg.SystemPrompt)); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Model returns the model label.
func (d *Dialog) Model() string { return d.cfg.Model }

// SystemPrompt returns the prompt that seeds the history.
func (d *Dialog) SystemPrompt() string { return d.cfg.SystemPrompt }

// Send performs one turn with the given user content and returns the text of
// the assistant's reply.
func (d *Dialog) Send(ctx context.Context, parts ...content.Part) (string, error) {
	reply, err := d.Exchange(ctx, parts...)
	if err != nil {
		return "", err
	}
	return reply.TextContent(), nil
}

// SendText performs one turn with a text-only user message.
func (d *Dialog) SendText(ctx context.Context, text string) (string, error) {
	return d.Send(ctx, content.Text{Text: text})
}

// SendImages performs one turn with a text prompt followed by images. An
// empty text sends the images alone.
func (d *Dialog) SendImages(ctx context.Context, text string, images ...content.Image) (string, error) {
	parts := make([]content.Part, 0, len(images)+1)
	if text != "" {
		parts = append(parts, content.Text{Text: text})
	}
	for _, img := range images {
		parts = append(parts, img)
	}
	return d.Send(ctx, parts...)
}

// Exchange performs one turn and returns the full assistant message.
//
// On success the user message and the reply are appended and the turn's
// usage is folded into the totals. On any error, including cancellation of
// ctx before the turn is committed, history and usage are unchanged and the
// adapter's error is returned as is.
func (d *Dialog) Exchange(ctx context.Context, parts ...content.Part) (message.Message, error) {
	reply, _, err := d.Turn(ctx, parts...)
	return reply, err
}

// Turn is Exchange that also returns the usage recorded for this turn alone.
func (d *Dialog) Turn(ctx context.Context, parts ...content.Part) (message.Message, usage.TokenCount, error) {
	if !d.busy.CompareAndSwap(false, true) {
		return message.Message{}, usage.TokenCount{}, ErrConcurrentSend
	}
	defer d.busy.Store(false)

	log := d.cfg.Logger
	input := cloneParts(parts)

	d.mu.RLock()
	history := d.chat.View()
	d.mu.RUnlock()

	start := time.Now()

	reply, tc, err := d.adapter.Exchange(ctx, history, input)
	if err != nil {
		log.WarnContext(ctx, "dialog turn failed",
			"model", d.cfg.Model,
			"duration", time.Since(start),
			"error", err,
		)
		return message.Message{}, usage.TokenCount{}, err
	}

	if err := ctx.Err(); err != nil {
		log.WarnContext(ctx, "dialog turn cancelled before commit", "model", d.cfg.Model)
		return message.Message{}, usage.TokenCount{}, modeladapter.Unavailable(err)
	}

	if err := checkReply(reply, tc); err != nil {
		return message.Message{}, usage.TokenCount{}, fmt.Errorf("dialog: %w", err)
	}

	user := message.New(role.User, input...)

	d.mu.Lock()
	err = d.chat.Append(user, reply)
	if err == nil {
		err = d.chat.AddUsage(tc)
	}
	n := d.chat.Len()
	d.mu.Unlock()

	if err != nil {
		return message.Message{}, usage.TokenCount{}, fmt.Errorf("dialog: %w", err)
	}

	d.lifetime.Add(tc)

	log.DebugContext(ctx, "dialog turn",
		"model", d.cfg.Model,
		"messages", n,
		"input_tokens", tc.InputTokens,
		"output_tokens", tc.OutputTokens,
		"estimated", tc.Estimated,
		"duration", time.Since(start),
	)

	return reply.Clone(), tc, nil
}

func checkReply(reply message.Message, tc usage.TokenCount) error {
	switch {
	case reply.Role != role.Assistant:
		return modeladapter.Malformed("reply role %q", reply.Role)
	case len(reply.Parts) == 0:
		return modeladapter.Malformed("reply has no content")
	case tc.InputTokens < 0 || tc.OutputTokens < 0:
		return modeladapter.Malformed("negative usage %d/%d", tc.InputTokens, tc.OutputTokens)
	}
	return nil
}

// History returns a copy of the conversation so far, oldest first.
func (d *Dialog) History() []message.Message {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.chat.Messages()
}

// Usage returns the token usage accumulated since construction or the last
// Reset.
func (d *Dialog) Usage() usage.TokenCount {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.chat.Usage()
}

// LifetimeUsage returns the token usage accumulated over the Dialog's whole
// life, including turns dropped by Reset.
func (d *Dialog) LifetimeUsage() usage.TokenCount {
	return d.lifetime.Total()
}

// Reset replaces the conversation with a fresh one seeded only by the system
// prompt. It fails with ErrConcurrentSend while a turn is in flight.
func (d *Dialog) Reset() error {
	if !d.busy.CompareAndSwap(false, true) {
		return ErrConcurrentSend
	}
	defer d.busy.Store(false)

	c, err := d.freshChat()
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.chat = c
	d.mu.Unlock()

	d.cfg.Logger.Debug("dialog reset", "model", d.cfg.Model)

	return nil
}

// Record returns the serializable form of the conversation.
func (d *Dialog) Record() chat.Record {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.chat.Record()
}

// EstimateTokens returns a local estimate of the tokens the current history
// would cost as a prompt.
func (d *Dialog) EstimateTokens() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var e modeladapter.TokenEstimator
	return e.EstimateChat(d.chat)
}

func cloneParts(parts []content.Part) []content.Part {
	out := make([]content.Part, 0, len(parts))
	for _, p := range parts {
		out = append(out, content.Clone(p))
	}
	return out
}
