// Package engine is the composition root that assembles ModelHub components
// from configuration: it builds provider adapters from presets, creates
// dialogs and sessions over them, and persists sessions in the conversation
// store. Frontends interact with Engine and Session, observe activity through
// an EventBus, and never construct adapters directly.
package engine
