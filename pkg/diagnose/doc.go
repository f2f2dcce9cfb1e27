/*
Package diagnose orchestrates health probes into cached, rate-limited
diagnostics.

Full diagnostics for one instance run at most once per rate-limit
window (default two minutes); early callers get the cached report or a
RateLimited error. Cached reports expire after the TTL (default five
minutes) and are discarded on read. Every full run is also appended to
a bbolt-backed per-instance history ring (bounded at 100 entries)
which feeds the trend report.
*/
package diagnose
