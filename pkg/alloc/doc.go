/*
Package alloc implements the resource allocator: unique instance
identifiers, host port allocation and credential generation.

Port allocation draws candidates from fixed per-role ranges
(gateway_http 8100-8199, gateway_https 8400-8499, database_external
5500-5599, analytics 4100-4199), skips ports owned by live instances
and verifies each candidate is actually bindable on loopback before
issuing it. The used-port set is rebuilt from the registry on startup.

Credentials are generated fresh per instance: a 32 character database
password covering all four character classes, a 64 hex character JWT
signing secret, and the anon / service_role API tokens derived by
signing a minimal claim set with that secret.
*/
package alloc
