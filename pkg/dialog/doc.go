// Package dialog provides Dialog, the conversational facade that binds one
// model adapter to one conversation context.
//
// A Dialog records a turn only when the exchange succeeds: the user message,
// the assistant reply and the turn's usage are committed together, and a
// failed or cancelled Send leaves history and usage untouched. A Dialog is not
// reentrant; a Send issued while another is in flight fails immediately with
// [ErrConcurrentSend].
package dialog
