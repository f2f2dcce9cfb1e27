/*
Package health implements the per-instance probe functions and their
composition into full and quick diagnostics.

Each probe takes an instance record, runs under its own bounded timeout
(containers 10s, HTTP 5s, database 8s, network 3s) and returns a
sub-report. Probes fail soft: errors are captured in the report and
never propagate out of the diagnostic call. RunFullDiagnostic executes
all probes in parallel and synthesizes critical issues from unhealthy
sub-reports via a fixed probe → severity/category/hint mapping.
*/
package health
