// Package server hosts the Fiber HTTP service, request middleware chain, and
// wiki registry glue that maps API paths onto configured GitHub repositories.
// It bootstraps Fiber, attaches request-ID and recovery middlewares, extracts
// the caller's auth state from forwarded Authorization headers, and exposes
// router constructors that other packages (main, routes) can reuse. Keep
// exports narrow and accept explicit dependencies.
package server
