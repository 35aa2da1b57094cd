// Package config loads, normalizes, and validates cratemind configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), and reads TOML files. The Config type centralizes every tunable
// the classification engine exposes: dispute margin, decay constants, penalty
// thresholds and reputation dimensionality are all configuration rather than
// constants so they can be tuned without code changes.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical enum values, and clear validation errors.
package config
