// Package collector exposes the dataplane state kept in the shared cache as
// Prometheus metrics.
//
// Collectors never talk to the storage engine themselves: on every scrape
// they lock the cache, read whatever the poller last wrote and translate it
// into gauges. This keeps scrape latency independent of the engine's health.
//
package collector
