// Package configs provides the embedded configuration template for vecsync.
//
// The template is written by 'vecsync config init' to
// ~/.config/vecsync/config.yaml ($XDG_CONFIG_HOME honored). Every value
// in it matches the defaults of internal/config NewConfig, so an untouched
// template changes nothing.
package configs

import _ "embed"

// ConfigTemplate is the commented user configuration template.
//
//go:embed vecsync.example.yaml
var ConfigTemplate string
