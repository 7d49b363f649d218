// Package configs embeds the configuration template written by
// `kbsearch config init`.
package configs

import _ "embed"

// ConfigTemplate documents every configuration key with its default value.
//
//go:embed config.example.yaml
var ConfigTemplate string
