// Package chats provides a provider-agnostic data model for LLM conversations.
//
// It is organized into sub-packages:
//   - [github.com/Chanpoe/ModelHub/pkg/chats/role]: conversation roles (system, user, assistant)
//   - [github.com/Chanpoe/ModelHub/pkg/chats/content]: content parts (text, image)
//   - [github.com/Chanpoe/ModelHub/pkg/chats/message]: immutable messages composed of a role and content parts
//   - [github.com/Chanpoe/ModelHub/pkg/chats/chat]: conversation context with history, usage and serialization
//
// No provider or API code is included; chats is a foundation layer
// that adapters build on.
package chats
