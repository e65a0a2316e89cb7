/*
Package steps provides the default step set of a turn.

In execution order:

  - input_guard: stops the turn with a clarification when the utterance is blank.
  - load_conversation: restores intent, state and context of the conversation.
  - query_rewrite: applies PRE rules (standalone query rewrites).
  - intent_resolution: applies INTENT rules; the first match wins.
  - schema_extraction: fills the intent's slots and reports missing fields.
  - rule_evaluation: applies every matching POST rule.
  - response_resolution: resolves the response of the intent/state and sets the final result.
  - persist_conversation: saves the conversation in the background.

Each step carries its ordering declaration, so the set can be extended by
assembling additional steps around it.
*/
package steps
