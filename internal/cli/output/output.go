// Package output renders command results as aligned tables for people or as
// JSON and YAML for scripts.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format selects how results are rendered.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat accepts table, json, yaml or yml. Empty means table.
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

// Printer writes results in one format.
type Printer struct {
	w      io.Writer
	format Format
}

// NewPrinter returns a Printer writing to w.
func NewPrinter(w io.Writer, format Format) *Printer {
	return &Printer{w: w, format: format}
}

// Format returns the configured format.
func (p *Printer) Format() Format { return p.format }

// Print renders v. In table format v must implement Tabular; anything else
// is printed as JSON.
func (p *Printer) Print(v any) error {
	switch p.format {
	case FormatJSON:
		return writeJSON(p.w, v)
	case FormatYAML:
		return writeYAML(p.w, v)
	case FormatTable, "":
		if t, ok := v.(Tabular); ok {
			renderTable(p.w, t)
			return nil
		}
		return writeJSON(p.w, v)
	}
	return fmt.Errorf("unknown output format %q", p.format)
}

// Printf writes a plain line regardless of format.
func (p *Printer) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.w, format, args...)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
