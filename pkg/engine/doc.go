// Package engine validates dynamic, per-study form fields against their
// declarative metadata: typed constraints, date rules, custom and
// conditional expression rules, data-quality range checks, and cross-field
// rules. Validation outcomes are returned as data, never as Go errors; the
// engine itself never fails for any input shape.
package engine
