// Package ratelimit enforces per-origin request budgets for authentication
// endpoints, with escalating lockouts for repeat offenders.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - rw: — request window per (origin, endpoint)
//   - rv: — violation counter per origin, 24h expiry
//   - rl: — lockout flag per origin, TTL = remaining lockout
//
// # Degradation
//
// The shared Redis store is an accelerator, not a correctness dependency.
// Every operation that fails against Redis is retried against an in-process
// counter with identical keys and window semantics, so a single node keeps
// enforcing limits when the shared store is unreachable.
//
// # What this package must NOT do
//
//   - Emit security events (the Engine owns that; [Decision.Suspicious] is
//     the signal it acts on).
//   - Decide which paths are authentication paths beyond prefix matching.
//   - Import authcore or any sibling package.
package ratelimit
