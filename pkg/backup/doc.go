/*
Package backup snapshots and restores instances.

A snapshot is a directory under the backup root named
{instance_id}_{reason}_{timestamp} holding the instance config record,
the rendered env file, a verbatim copy of the volumes tree, the
inspected container states and a backup-manifest.json describing what
was captured. Components are captured best-effort; a snapshot is valid
when at least the config and environment components succeeded.

Restore verifies the snapshot first, stops the stack, puts the captured
config, env and volumes back, restarts the stack and runs cheap
liveness checks before declaring success.
*/
package backup
