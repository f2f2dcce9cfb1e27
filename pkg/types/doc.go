/*
Package types defines the core data structures used throughout herd.

This package contains the domain model of the orchestrator: instances
and their allocated ports, credentials and rendered artifacts,
diagnostics produced by the health prober, repair plans and outcomes,
and on-disk backups.

All types are JSON-serializable. The Instance record is the persisted
entity; diagnostics and repair plans are ephemeral. Container names are
never stored: they are derived from the instance id by naming
convention (ContainerName, ExpectedContainers) and the runtime driver
is the sole source of truth for their live state.

Enumerations use typed string constants:

	type InstanceStatus string
	const (
	    InstanceStatusCreating InstanceStatus = "creating"
	    InstanceStatusRunning  InstanceStatus = "running"
	)

Instance status follows a state machine:

	creating → running            (create succeeded)
	creating → error              (create failed, stack torn down)
	running ↔ stopped             (operator stop/start)
	running → repairing → running (auto-repair succeeded)
	running → repairing → error   (auto-repair failed)
*/
package types
