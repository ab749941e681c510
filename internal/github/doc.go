// Package github implements the narrow slice of the GitHub REST API that the
// wiki hub relies on: pull request and commit listings, raw file content,
// branch/permission/fork lookups, user profiles, and the contents/pulls write
// path behind page edits. All calls share one tuned http.Transport, remember
// ETags for conditional requests, honor per-request token overrides forwarded
// from the browser, and surface rate limit headers so callers can observe how
// much quota the upstream has left.
package github
