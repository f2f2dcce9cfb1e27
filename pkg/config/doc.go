// Package config reads the orchestrator configuration from the
// environment. EXTERNAL_HOST is the only required input; everything
// else has a sensible default.
package config
