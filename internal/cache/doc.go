// Package cache holds the in-memory TTL store that shields GitHub's rate
// limits. Entries are partitioned into logical buckets (pulls, branches,
// permissions, forks, commits, star, donators, content); every entry carries
// its capture timestamp and is read back against the bucket's authenticated or
// anonymous TTL depending on the caller. A background sweeper evicts entries
// older than the bucket's maximum possible TTL, and an identity tracker purges
// login-keyed entries when a GitHub user renames. The package also hosts the
// disk-backed content store that persists raw page bodies across restarts.
package cache
