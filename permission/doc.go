// Package permission defines the closed capability enumeration, the static
// role tables, and the resolver that merges role-derived capabilities with
// per-user overrides into one authorization decision.
//
// # Model
//
// A capability is a flat namespaced string ("view_users"); the enumeration is
// closed and fixed at compile time. Roles form a total order
// ADMIN > EDITOR > VIEWER; each role implies a static capability set, and
// ADMIN resolves to the full enumeration by definition rather than by
// listing. Per-user overrides are an independent string set unioned on top.
// All lookup structures are built once and never mutated.
//
// # What this package must NOT do
//
//   - Access Redis, databases, or the network.
//   - Import any other authcore package.
//   - Accept dynamic registration of new capabilities or roles.
package permission
