package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Chanpoe/ModelHub/pkg/chats/content"
	"github.com/Chanpoe/ModelHub/pkg/chats/message"
	"github.com/Chanpoe/ModelHub/pkg/dialog"
	"github.com/Chanpoe/ModelHub/pkg/store"
)

// ErrNoStore is returned by persistence operations when no store is configured.
var ErrNoStore = errors.New("engine: conversation store not configured")

// Session is one conversation with a configured provider. It wraps a Dialog,
// publishes its activity on the engine's EventBus and can be saved to the
// conversation store under its ID.
type Session struct {
	id       string
	provider string
	dialog   *dialog.Dialog
	events   *EventBus
	store    *store.Store
	created  time.Time
}

func newSession(id, provider string, d *dialog.Dialog, events *EventBus, st *store.Store) *Session {
	return &Session{
		id:       id,
		provider: provider,
		dialog:   d,
		events:   events,
		store:    st,
	}
}

// ID returns the session identifier, which is also its conversation ID in the store.
func (s *Session) ID() string { return s.id }

// Provider returns the name of the provider the session talks to.
func (s *Session) Provider() string { return s.provider }

// Dialog returns the underlying dialog for history and usage inspection.
func (s *Session) Dialog() *dialog.Dialog { return s.dialog }

// Send performs one text turn and returns the reply text.
func (s *Session) Send(ctx context.Context, text string) (string, error) {
	reply, err := s.SendParts(ctx, content.Text{Text: text})
	if err != nil {
		return "", err
	}
	return reply.TextContent(), nil
}

// SendParts performs one turn with the given parts and returns the reply.
func (s *Session) SendParts(ctx context.Context, parts ...content.Part) (message.Message, error) {
	s.publish(EventTurnStart, nil)

	reply, turn, err := s.dialog.Turn(ctx, parts...)
	if err != nil {
		s.publish(EventError, err)
		return message.Message{}, err
	}

	s.publish(EventTurnEnd, turn)

	return reply, nil
}

// Reset clears the conversation back to its system prompt.
func (s *Session) Reset() error {
	if err := s.dialog.Reset(); err != nil {
		return err
	}
	s.publish(EventReset, nil)
	return nil
}

// Save writes the conversation to the store, replacing any earlier save.
func (s *Session) Save(ctx context.Context) error {
	if s.store == nil {
		return ErrNoStore
	}

	conv := &store.Conversation{
		ID:        s.id,
		Provider:  s.provider,
		Model:     s.dialog.Model(),
		CreatedAt: s.created,
		Record:    s.dialog.Record(),
	}

	if err := s.store.Save(ctx, conv); err != nil {
		return fmt.Errorf("engine: session %s: %w", s.id, err)
	}
	s.created = conv.CreatedAt

	s.publish(EventSaved, s.id)

	return nil
}

func (s *Session) publish(kind EventKind, data any) {
	s.events.Publish(Event{
		Kind:      kind,
		SessionID: s.id,
		Provider:  s.provider,
		Timestamp: time.Now(),
		Data:      data,
	})
}
