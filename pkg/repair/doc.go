/*
Package repair executes auto-repair plans.

A run snapshots the instance, executes the plan phase by phase with a
quick health check between phases, and finishes with a full diagnostic.
Non-critical action failures are recorded and execution continues; a
critical failure abandons the run and, when requested, rolls the
instance back to the pre-repair snapshot. A run succeeds when the
instance is healthy afterwards or at least 70% of the initial critical
issues are gone.
*/
package repair
