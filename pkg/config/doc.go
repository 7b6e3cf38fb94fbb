// Package config loads the broker configuration from YAML.
//
// Load starts from Default and overlays the keys present in the file, so a
// configuration file only needs the settings it changes. Durations use Go
// syntax ("90s", "5m"). Command line flags are applied on top by cmd/comet.
package config
