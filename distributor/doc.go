// Package distributor spreads single operations to all
// replicas through a Kafka topic as soon as they are
// made. It only speeds up convergence: an operation lost
// or delivered before its dependencies is picked up by
// the next anti-entropy sync.
package distributor
