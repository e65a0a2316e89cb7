/*
Package session serializes the turns of a conversation.

Only one turn per conversation ID runs at a time. Local exclusion uses
reference-counted per-conversation locks that are garbage collected once
unused; an optional DistributedLocker extends the exclusion across replicas.
*/
package session
