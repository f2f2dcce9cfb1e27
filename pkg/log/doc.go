/*
Package log provides structured logging for herd built on zerolog.

A single global logger is initialized once at process startup via Init,
then components derive child loggers with WithComponent and attach
per-instance fields at the log site.

Usage:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	logger := log.WithComponent("lifecycle")
	logger.Info().Str("instance_id", id).Msg("instance created")
*/
package log
