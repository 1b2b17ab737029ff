package main

import (
	"log/slog"

	"github.com/Chanpoe/ModelHub/pkg/engine"
)

// logEvents logs session activity from bus until the returned stop function
// is called. stop drains pending events before returning.
func logEvents(bus *engine.EventBus, logger *slog.Logger) (stop func()) {
	sub := bus.Subscribe(64, engine.EventTurnEnd, engine.EventError, engine.EventReset, engine.EventSaved)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for ev := range sub.C {
			logEvent(logger, ev)
		}
	}()

	return func() {
		bus.Unsubscribe(sub)
		<-done
		if n := sub.Dropped(); n > 0 {
			logger.Debug("session events dropped", "count", n)
		}
	}
}

func logEvent(logger *slog.Logger, ev engine.Event) {
	attrs := []any{"session", ev.SessionID, "provider", ev.Provider}

	switch ev.Kind {
	case engine.EventTurnEnd:
		if tc, ok := ev.Usage(); ok {
			attrs = append(attrs,
				"input_tokens", tc.InputTokens,
				"output_tokens", tc.OutputTokens,
				"estimated", tc.Estimated,
			)
		}
		logger.Info("turn completed", attrs...)
	case engine.EventError:
		logger.Info("turn failed", append(attrs, "error", ev.Err())...)
	case engine.EventReset:
		logger.Info("conversation reset", attrs...)
	case engine.EventSaved:
		logger.Info("conversation saved", append(attrs, "id", ev.Data)...)
	}
}
