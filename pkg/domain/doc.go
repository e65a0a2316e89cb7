/*
Package domain contains the core domain models of the Turnpike engine.

It defines the per-turn fact base, the rule and catalog entities, the audit log
records and the traces reconstructed from them. This package is kept pure and free
of external dependencies like I/O or persistence, following Hexagonal Architecture
principles.

# Key Entities

  - EngineSession: The mutable fact base threaded through every pipeline step of a turn.
  - StepResult: The Continue/Stop outcome every step returns.
  - EngineResult: The immutable outcome of a turn (intent, state, output, context).
  - Rule: A configured match/action pair evaluated during a turn.
  - AuditRecord: One immutable entry of the append-only audit log.
  - Trace: The nested step/stage tree rebuilt from the audit log.
*/
package domain
