// Package logging assembles structured slog loggers and formatting helpers used
// across visualia components.
//
// It owns the console/JSON handlers, centralizes level and output plumbing, and
// exposes attribute helpers so supervisor, coordinator, and API code emit the
// same event_type/error_hint/impact fields on warnings. The package also
// provides a no-op logger for tests and wiring code that cannot fail.
//
// Prefer these constructors over hand-rolled slog setup so new components emit
// data with the same shape as the rest of the system.
package logging
