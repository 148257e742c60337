// Package config loads, normalizes, and validates mediaflow configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks for secrets
// such as the API token and object store credentials. The Config type
// centralizes every knob the daemon, the stage executor, and the CLI need,
// including the process-wide parameter defaults consulted last by the
// parameter resolver.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
