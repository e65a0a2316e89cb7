// Package middleware wraps a ConversationStore with at-rest protections for
// the slot-filling context: field masking and envelope encryption.
package middleware

import "github.com/aretw0/turnpike/pkg/ports"

// Middleware allows wrapping a ConversationStore to add behavior.
type Middleware func(ports.ConversationStore) ports.ConversationStore

// Chain applies middlewares so that the first one sees a conversation first on Save.
func Chain(store ports.ConversationStore, mws ...Middleware) ports.ConversationStore {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}
