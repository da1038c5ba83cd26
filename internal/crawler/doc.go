// Package crawler defines the shared vocabulary of the gamesdb crawler: work
// items, listing pages, fetch payloads, records and crawl state, plus the
// interfaces the orchestration core consumes (fetchers, extractors, sinks and
// checkpoint stores) and the retry policy used by the resilient fetcher.
package crawler
