package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/Chanpoe/ModelHub/pkg/dialog"
	"github.com/Chanpoe/ModelHub/pkg/modeladapter"
	"github.com/Chanpoe/ModelHub/pkg/store"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger handed to every dialog.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine is the composition root that assembles providers, dialogs and the
// conversation store from configuration.
type Engine struct {
	cfg    Config
	events *EventBus
	store  *store.Store
	logger *slog.Logger

	mu         sync.Mutex
	exchangers map[string]modeladapter.Exchanger
	sessions   map[string]*Session
}

// New creates an Engine from the given configuration. It validates the config
// and opens the conversation store when one is configured. Provider adapters
// are built on first use, so a missing key only fails the provider that
// needs it.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:        cfg,
		events:     NewEventBus(),
		exchangers: make(map[string]modeladapter.Exchanger, len(cfg.Providers)),
		sessions:   make(map[string]*Session),
	}

	for _, o := range opts {
		o(e)
	}

	if e.logger == nil {
		e.logger = slog.Default()
	}

	if cfg.Store.Path != "" {
		path, err := cfg.storePath()
		if err != nil {
			return nil, err
		}

		st, err := store.Open(path)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		e.store = st
	}

	return e, nil
}

// Events returns the engine's event bus.
func (e *Engine) Events() *EventBus { return e.events }

// Store returns the conversation store, or nil if persistence is disabled.
func (e *Engine) Store() *store.Store { return e.store }

// Providers returns the configured provider names in config order.
func (e *Engine) Providers() []string {
	names := make([]string, 0, len(e.cfg.Providers))
	for _, p := range e.cfg.Providers {
		names = append(names, p.Name)
	}
	return names
}

// DefaultProvider returns the provider used when none is named.
func (e *Engine) DefaultProvider() string { return e.cfg.defaultProvider() }

// Exchanger returns the adapter for the named provider, building it on first
// use. An empty name selects the default provider.
func (e *Engine) Exchanger(name string) (modeladapter.Exchanger, error) {
	if name == "" {
		name = e.cfg.defaultProvider()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if x, ok := e.exchangers[name]; ok {
		return x, nil
	}

	i := slices.IndexFunc(e.cfg.Providers, func(p ProviderConfig) bool { return p.Name == name })
	if i < 0 {
		return nil, fmt.Errorf("engine: provider %q not found", name)
	}

	x, err := buildExchanger(e.cfg.Providers[i])
	if err != nil {
		return nil, fmt.Errorf("engine: provider %q: %w", name, err)
	}
	e.exchangers[name] = x

	return x, nil
}

// NewDialog creates a Dialog over the named provider. An empty systemPrompt
// falls back to the configured one.
func (e *Engine) NewDialog(provider, systemPrompt string) (*dialog.Dialog, error) {
	x, err := e.Exchanger(provider)
	if err != nil {
		return nil, err
	}

	return dialog.New(e.dialogConfig(provider, systemPrompt), x)
}

func (e *Engine) dialogConfig(provider, systemPrompt string) dialog.Config {
	if systemPrompt == "" {
		systemPrompt = e.cfg.SystemPrompt
	}

	cfg := dialog.Config{
		SystemPrompt: systemPrompt,
		Permissive:   e.cfg.Permissive,
		Logger:       e.logger.With("provider", e.providerName(provider)),
	}

	return cfg
}

func (e *Engine) providerName(name string) string {
	if name == "" {
		return e.cfg.defaultProvider()
	}
	return name
}

// NewSession creates a session over the named provider with a fresh
// conversation ID.
func (e *Engine) NewSession(provider, systemPrompt string) (*Session, error) {
	d, err := e.NewDialog(provider, systemPrompt)
	if err != nil {
		return nil, err
	}

	return e.register(uuid.NewString(), e.providerName(provider), d), nil
}

// ResumeSession loads a stored conversation and continues it. The stored
// provider is used unless provider is non-empty.
func (e *Engine) ResumeSession(ctx context.Context, id, provider string) (*Session, error) {
	if e.store == nil {
		return nil, ErrNoStore
	}

	conv, err := e.store.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	if provider == "" {
		provider = conv.Provider
	}

	x, err := e.Exchanger(provider)
	if err != nil {
		return nil, err
	}

	cfg := e.dialogConfig(provider, "")
	// The stored history carries its own system prompt.
	cfg.SystemPrompt = ""

	d, err := dialog.Resume(cfg, x, conv.Record)
	if err != nil {
		return nil, fmt.Errorf("engine: conversation %s: %w", id, err)
	}

	s := e.register(conv.ID, e.providerName(provider), d)
	s.created = conv.CreatedAt

	return s, nil
}

func (e *Engine) register(id, provider string, d *dialog.Dialog) *Session {
	s := newSession(id, provider, d, e.events, e.store)

	e.mu.Lock()
	e.sessions[id] = s
	e.mu.Unlock()

	return s
}

// Session returns a live session by ID.
func (e *Engine) Session(id string) (*Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[id]
	return s, ok
}

// Conversations lists stored conversations, most recent first.
func (e *Engine) Conversations(ctx context.Context) ([]store.Summary, error) {
	if e.store == nil {
		return nil, ErrNoStore
	}
	return e.store.List(ctx)
}

// DeleteConversation removes a stored conversation.
func (e *Engine) DeleteConversation(ctx context.Context, id string) error {
	if e.store == nil {
		return ErrNoStore
	}
	return e.store.Delete(ctx, id)
}

// Close releases the conversation store.
func (e *Engine) Close() error {
	if e.store == nil {
		return nil
	}
	return e.store.Close()
}
