/*
Package observability provides the Prometheus collectors of the Turnpike engine.

The pipeline records per-step latency and failures, the engine counts turns by
outcome, and the audit dispatcher counts deliveries, listener failures and
records dropped by backpressure.
*/
package observability
