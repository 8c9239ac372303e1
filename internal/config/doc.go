// Package config provides configuration for the flowstate runner.
//
// Settings are resolved in three layers, later layers overriding earlier:
//
//  1. Built-in defaults (Default)
//  2. A TOML or YAML file, chosen by extension
//  3. FLOWSTATE_* environment variables
//
// Example file:
//
//	[logging]
//	level = "debug"
//	format = "console"
//
//	[scripts]
//	dir = "./modules"
//	watch = true
//	debounce = "150ms"
//
//	[metrics]
//	enabled = true
//	addr = ":9090"
package config
