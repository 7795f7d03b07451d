// Package cache implements the guild-scoped caches that sit in front of the
// durable store: a bounded keyed cache with read-through and write-through
// semantics, flag sets for blacklist and premium membership, a batched
// command-usage recorder and the prefix resolution chain built on them.
//
// Every cache is an explicit object owned by a Manager, which is constructed
// once at startup and handed to the command router and event listeners.
// Writes always reach the store before memory changes; memory-only reads
// (SetCache.Contains) may lag direct store edits until the next Fill.
package cache
