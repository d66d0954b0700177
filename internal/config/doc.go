// Package config loads runtime configuration from a base settings file, an
// optional environment overlay, environment variables, and CLI flags with
// precedence: CLI flags > overlay settings > base settings > Environment
// variables > Defaults. It exposes strongly typed settings to the rest of the
// application alongside the flattened key/value view they were read from.
package config
