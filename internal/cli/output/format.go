// Package output renders CLI results as a table, JSON or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format selects how results are written.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat accepts table (the default), json, yaml or yml.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "table":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("invalid output format %q (valid: table, json, yaml)", s)
}

func (f Format) String() string { return string(f) }

// Tabular is implemented by results that have a table form.
type Tabular interface {
	Headers() []string
	Rows() [][]string
}

// Write renders data in format f. In table format data must implement
// Tabular; anything else falls back to JSON.
func Write(w io.Writer, f Format, data any) error {
	switch f {
	case FormatTable:
		if t, ok := data.(Tabular); ok {
			return WriteTable(w, t)
		}
		return WriteJSON(w, data)
	case FormatJSON:
		return WriteJSON(w, data)
	case FormatYAML:
		return WriteYAML(w, data)
	}
	return fmt.Errorf("unknown output format %q", f)
}

// WriteJSON writes indented JSON.
func WriteJSON(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// WriteYAML writes YAML with two-space indentation.
func WriteYAML(w io.Writer, data any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(data); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}
