/*
Package lifecycle owns instance creation, start/stop, deletion and the
orphan scan.

Creation is globally serialized: one create at a time, and a busy lock
fails fast instead of queueing. All other mutations take a per-instance
lock shared with the repair and config-edit engines. A create that
fails at any point tears down everything it allocated and leaves no
registry entry.
*/
package lifecycle
