// Package config handles configuration loading for deadrop.
//
// Configuration is loaded from a YAML file with environment variable
// expansion and sensible defaults; a missing file is not an error at
// the call sites, which fall back to Default().
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from the --config flag
//  2. Path from the DEADROP_CONFIG environment variable
//  3. ~/.config/deadrop/config.yaml
//
// # Sections
//
//	database:
//	  path: "~/.deadrop/deadrop.db"   # single-file message store
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	schedule:
//	  interval: "5m"  # default period for generated drain schedules
//
// # Environment Variable Expansion
//
// Values can reference environment variables with ${VAR_NAME} syntax:
//
//	database:
//	  path: "${DEADROP_DB}"
//
// The database path itself also honors the DEADROP_DB environment
// variable and the --db flag directly, which take precedence over the
// config file.
package config
