/*
Package audit implements the append-only audit trail of the engine.

Service is the single write path: it appends a record to the AuditStore and
hands it to the Dispatcher, which fans it out to live listeners. Listener
failures are isolated from each other and from the append path. In
asynchronous mode each listener has a bounded queue and records that do not
fit are dropped and counted.

TraceService rebuilds the nested step/stage tree of a conversation from the
stored log; BuildTrace is the pure function behind it.
*/
package audit
