// Package api exposes the HTTP surface: the provider webhook
// endpoint, the billing portal and subscription endpoints, and the
// router/middleware assembly around them.
package api
