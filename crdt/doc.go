/*
Package crdt implements the Replicated Growable Array (RGA), the operation-based
sequence CRDT that strand replicates text with.

Every character carries a globally unique Identifier. Identifiers are totally
ordered and an inserted character is always ordered after the character it was
anchored to, which lets every replica place concurrent inserts at the same
anchor identically, no matter in which order they arrive.

CAUTION! Consider these requirements:
* A delete is only effective on a replica that already holds the inserted
  character. A delete for an unknown character is dropped and not counted as
  delivered, so a later synchronization with a replica holding both delivers
  it again. The same holds for an insert whose anchor is unknown.
* Tombstones are only physically removed once the replica has been told a
  stable vector clock (SetStableClock) that covers every delete of the node.
  Without it, GarbageCollect removes nothing.

An RGA synchronizes access by itself with one reader-writer lock. No engine call
blocks on anything but that lock.
*/
package crdt
