// Package cue provides the embedded CUE schemas for neuron configuration
// files and package manifests.
package cue

import "embed"

// SchemaFS contains the embedded schema files.
//
//go:embed schema/*.cue
var SchemaFS embed.FS

// SchemaDir is the root directory within the embedded filesystem.
const SchemaDir = "schema"

const (
	// ConfigSchema is the file declaring #Config
	ConfigSchema = SchemaDir + "/config.cue"

	// PackageSchema is the file declaring #Package
	PackageSchema = SchemaDir + "/package.cue"
)
