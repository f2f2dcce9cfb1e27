/*
Package api serves the HTTP interface consumed by the dashboard.

Every response is JSON. Failures share one envelope,
{success:false, error, kind}, with the status code derived from the
error kind: validation 400, missing 404, busy 409, rate limited 429,
capacity 503, everything else 500. Auto-repair additionally refuses to
run without explicit user confirmation in the request body.
*/
package api
