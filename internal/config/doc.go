// Package config loads dose store configuration files.
//
// Files are YAML (.yaml, .yml) or CUE (.cue). Both are checked against the
// embedded #Config schema before use, so a loaded File is always
// structurally valid; File.Options still parses durations and schedules
// into their runtime forms.
//
// The DOSESTORE_DB environment variable overrides the database path.
package config
