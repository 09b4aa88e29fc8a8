// Package run models a fan-out lookup run: an IN_PROGRESS record that
// collects one outcome per source and is finalized exactly once into
// COMPLETED, PARTIAL or FAILED.
//
// The Store interface is the persistence contract. MemoryStore serves tests
// and development, CachedStore puts an LRU in front of any Store, and the
// database and redis packages provide durable implementations.
package run
