// Package memory implements the collective memory store. Entries are typed
// payloads keyed by (namespace, key), written through a single Coordinator
// that enforces payload limits, retention classes, and a monotonic version
// per key. Reads go through a bounded hot cache; background passes collect
// expired entries and consolidate like-shaped knowledge into merged entries.
package memory
