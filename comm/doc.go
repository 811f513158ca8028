/*
Package comm implements the synchronization protocol strand replicas use to
converge: sync sessions tracked by a Coordinator, the request and response
messages exchanged for them, a bounded history of recent deltas, a per-second
bandwidth budget and a priority-weighted peer scheduler.

A full synchronization with a peer is a pull followed by an optional push. The
initiator sends a SyncRequest carrying its vector clock and applies the delta in
the returned SyncResponse. If the peer's clock misses operations the initiator
holds, the initiator pushes exactly those afterwards.

Messages travel over gRPC with a JSON codec. Peers are neither authenticated nor
are payloads encrypted.
*/
package comm
