// Package analyze converts a diagnostic into a repair plan: a fixed
// mapping from probe failures to repair primitives, ordered by category
// priority and grouped into dependency-respecting phases.
package analyze
