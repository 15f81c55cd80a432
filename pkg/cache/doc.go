// Package cache holds the dataplane state shared between the poller that
// refreshes it and the collectors that expose it on every scrape.
//
// Readers and writers are totally ordered by a single mutex: a reader that
// holds the lock always sees the complete result of the last finished write.
//
package cache
