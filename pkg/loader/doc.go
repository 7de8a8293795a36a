// Package loader fetches package manifests from configured sources, compiles
// them against the embedded #Package schema and defines their modules in a
// module manager.
package loader
