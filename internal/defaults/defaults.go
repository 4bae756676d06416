// Package defaults provides embedded copies of the starter files
// written by the sage init subcommand.
package defaults

import _ "embed"

//go:embed config.example.yaml
var ConfigYAML []byte

//go:embed api_docs.example.txt
var APIDocs []byte
