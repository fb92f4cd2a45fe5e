// Package formatting renders CLI output as rounded go-pretty tables, JSON or
// YAML.
package formatting
