// Package middleware provides HTTP middleware components for the stub
// inference target.
//
// Available middleware:
//   - RateLimiter: Per-client rate limiting using a token bucket
//
// Usage:
//
//	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
//	defer rl.Stop()
//	handler = rl.Middleware(handler)
package middleware
