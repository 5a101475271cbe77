// Package middleware provides HTTP middleware for authentication and
// rate limiting.
package middleware
