package formatting

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"

	"testbed/internal/api"
	"testbed/internal/registry"
)

// OutputFormat represents the desired output format
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// ParseFormat validates a --output flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (table, json, yaml)", s)
	}
}

// ProviderRow is one registered provider.
type ProviderRow struct {
	Contract string `json:"contract" yaml:"contract"`
	Name     string `json:"name" yaml:"name"`
	Kind     string `json:"kind,omitempty" yaml:"kind,omitempty"`
	Rank     int    `json:"rank" yaml:"rank"`
	Order    int    `json:"order" yaml:"order"`
}

// ProviderRows converts registry entries, keeping their order.
func ProviderRows(entries []registry.Entry) []ProviderRow {
	rows := make([]ProviderRow, 0, len(entries))
	for _, e := range entries {
		row := ProviderRow{Contract: contractName(e.Contract), Name: e.Name, Rank: e.Rank, Order: e.Order}
		if rp, ok := e.Provider.(api.ResourceProvider); ok {
			row.Kind = string(rp.Kind())
		}
		rows = append(rows, row)
	}
	return rows
}

func contractName(t reflect.Type) string {
	if t == nil {
		return ""
	}
	return t.Name()
}

// Providers writes rows in format.
func Providers(w io.Writer, format OutputFormat, rows []ProviderRow) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, rows)
	case FormatYAML:
		return yaml.NewEncoder(w).Encode(rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(w, emptyMessage("No providers registered"))
		return nil
	}
	t := newTable(w)
	t.AppendHeader(header("CONTRACT", "NAME", "KIND", "RANK", "ORDER"))
	for _, r := range rows {
		t.AppendRow([]interface{}{r.Contract, r.Name, r.Kind, r.Rank, r.Order})
	}
	t.Render()
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
