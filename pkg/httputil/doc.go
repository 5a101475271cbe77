// Package httputil provides HTTP handler utilities for consistent error
// handling, JSON encoding/decoding, and shared middleware.
package httputil
