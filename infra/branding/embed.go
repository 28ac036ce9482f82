// Package branding ships the sample branding file with the binary.
package branding

import _ "embed"

// Example is a complete branding file with every supported key.
//
//go:embed branding.example.toml
var Example []byte
