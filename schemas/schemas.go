// Package schemas embeds the JSON Schema documents used to validate
// checkdeck configuration files.
package schemas

import _ "embed"

// SpecSchemaJSON is the JSON Schema for checkdeck.yaml pipeline specs.
//
//go:embed checkdeck.schema.json
var SpecSchemaJSON string
