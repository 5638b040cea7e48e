// Package config handles configuration loading for relay-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable
// expansion. The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from RELAY_CONFIG environment variable
//  2. ./config.yaml (current directory)
//  3. ~/.config/relay/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	platform:
//	  bot_token: ${PLATFORM_BOT_TOKEN}
//
// Unset variables expand to the empty string.
//
// # Durations
//
// Interval and timeout fields take Go duration strings ("30s", "5m").
package config
