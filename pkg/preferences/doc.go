// Package preferences implements the per-user notification preference
// resolver: allow/deny decisions per (category, channel) pair, including
// quiet-hours windows and daily frequency caps.
//
// Preferences are lazily materialized: the first access for a user
// synthesizes and persists the full (category × channel) cross-product of
// defaults, exactly once. The default policy always enables critical
// categories, enables email, keeps SMS opt-in, and enables push only for
// course enrollment, assignment due and grade available (with a default
// 22:00–08:00 UTC quiet window).
package preferences
