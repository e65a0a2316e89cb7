/*
Package ports defines the driven ports (interfaces) for the Turnpike engine.

These interfaces decouple the pipeline and rule interpreter from external
implementations, allowing the engine to work with various catalog sources,
conversation stores, audit logs and live subscribers.

# Key Interfaces

  - Catalog: Read-only access to rules, responses and extraction schemas.
  - ConversationStore: Persists intent/state/context between turns.
  - AuditStore: The append-only audit log; the sole input of trace reconstruction.
  - AuditListener: A live subscriber receiving every appended record.
  - DistributedLocker: Serializes turns of one conversation across replicas.
  - LLMClient: Completes prompts rendered by derived responses.
*/
package ports
