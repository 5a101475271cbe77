// Package tenants manages tenant accounts and tenant membership.
// Every resource in MemberHQ is scoped to a tenant; membership rows
// link users to tenants with a role.
package tenants
