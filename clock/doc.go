/*
Package clock provides the logical clock primitives strand orders its
replicated operations with: actor identifiers, hybrid logical clock
timestamps and vector clocks.

The Manager type bundles one hybrid logical clock and one vector clock per
replica and is what the RGA engine in package crdt consumes through the
Service interface. The local entry of a replica's vector clock counts the
operations this replica generated, so it doubles as the dense per-actor
sequence number attached to every operation.
*/
package clock
