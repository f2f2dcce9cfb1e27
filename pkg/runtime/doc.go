/*
Package runtime abstracts the container runtime behind the narrow
Driver interface: whole-stack up/down/start/stop, per-container
restart/stop/start, list, logs, inspect and a bounded wait-for-healthy
poll.

DockerDriver is the production implementation: per-container operations
use the Docker engine API over the socket, stack-level operations shell
out to the compose CLI. FakeDriver is a deterministic in-memory
substitute for tests.
*/
package runtime
