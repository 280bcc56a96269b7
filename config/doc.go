// Package config handles loading and parsing of configuration from YAML files
// and environment variables. It defines the watchdog server settings, the
// health-tracking thresholds, probe backoff bounds, request timeouts,
// connection throttle, the destination list and logging settings.
package config
