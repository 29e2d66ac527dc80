// Package gating is the core of signalgate: it decides, per trading
// signal, whether a user-facing notification is emitted, at most once
// per logical signal, and records an audit trail for every decision.
// It defines the Policy (thresholds, weights, VIP sets), the pure
// priority scorer, the Advisor contract (optional probabilistic filter,
// fail-open), the Store interface (dedup key spaces), the Engine (one
// decision per signal) and the Service (cycle runner, delivery,
// confirmation).
package gating
