// Package billing synchronizes tenant subscription state with the
// payment provider. Inbound webhook events are verified, routed by
// type, and applied as idempotent keyed upserts to the tenant billing
// record; the portal service brokers provider-hosted management
// sessions for tenants with an established billing identity.
package billing
