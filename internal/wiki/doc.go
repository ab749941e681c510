// Package wiki implements the domain services behind the hub's API: page
// content and history, pull request listings, branch/permission/fork lookups,
// donator status, star contributors, and prestige tiers. Every read follows
// the same shape: look in the TTL cache with the caller's auth state, coalesce
// concurrent misses onto a single upstream fetch, then fill the cache. Page
// bodies additionally persist to the disk content store so a restarted hub
// can serve pages before its first upstream round trip.
package wiki
