/*
Package turnpike is a conversational-turn orchestration engine.

A turn is one user utterance applied to one conversation. The engine runs it
through an ordered pipeline of steps that share a per-turn fact base
(domain.EngineSession): the conversation is loaded, PRE rules may rewrite the
query, INTENT rules pick an intent, the intent's schema extracts slots, POST
rules adjust state and parameters, a response is resolved from the catalog and
the conversation is saved. Every step and every rule side effect is written to
an append-only audit log, from which a nested trace of the turn can be rebuilt.

# Concept

Rules, responses and schemas live in a Catalog (in memory, or YAML files with
hot reload). Storage, distributed locking and language models are ports, so the
engine can be embedded in a CLI, an HTTP server or an MCP tool server.

# Usage

	catalog := memory.MustCatalog(
		[]domain.Rule{{
			ID: "greet", Phase: domain.PhaseIntent,
			MatchType: domain.MatchRegex, Pattern: `^(hi|hello)\b`,
			ActionType: domain.ActionSetIntent, ActionValue: "greeting",
		}},
		[]domain.ResponseTemplate{{Intent: "greeting", Text: "Hello!"}},
		nil,
	)

	engine, err := turnpike.New(turnpike.WithCatalog(catalog))
	if err != nil {
		log.Fatal(err)
	}
	defer engine.Close()

	result, err := engine.Process(ctx, domain.EngineContext{
		ConversationID: "c-1",
		UserText:       "hello there",
	})

Errors returned by Process are always *domain.EngineError; its Recoverable
field tells the caller whether a retry or a re-prompt is safe.

# Concurrency

Turns of the same conversation are serialized (optionally across processes via
a Redis lock). Audit listeners can be delivered inline or through bounded
per-listener queues; a full queue drops the record and counts it.
*/
package turnpike
