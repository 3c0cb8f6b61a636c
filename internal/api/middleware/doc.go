// Package middleware provides the HTTP middleware in front of the coordinator.
//
// Middleware stack includes:
//   - CORS: Cross-origin resource sharing, including browser extension origins
//   - RateLimit: Per-IP token bucket rate limiting with idle client eviction
//   - GlobalRateLimit: One bucket shared by every client
//
// Example Usage:
//
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
