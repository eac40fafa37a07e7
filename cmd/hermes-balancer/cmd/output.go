package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// OutputFormat selects how command results are printed.
type OutputFormat string

const (
	OutputTable OutputFormat = "table"
	OutputJSON  OutputFormat = "json"
	OutputYAML  OutputFormat = "yaml"
)

// ParseOutputFormat parses the --output flag.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(s) {
	case "table", "":
		return OutputTable, nil
	case "json":
		return OutputJSON, nil
	case "yaml", "yml":
		return OutputYAML, nil
	default:
		return "", fmt.Errorf("unknown output format: %s (supported: table, json, yaml)", s)
	}
}

// Formatter prints results in the selected format.
type Formatter struct {
	format OutputFormat
	writer io.Writer
}

func NewFormatter(format OutputFormat, w io.Writer) *Formatter {
	return &Formatter{format: format, writer: w}
}

// Print writes data as JSON or YAML. For the table format it prints headers
// and lets rows emit one line per call.
func (f *Formatter) Print(data any, headers []string, rows func(row func(values ...any))) error {
	switch f.format {
	case OutputJSON:
		enc := json.NewEncoder(f.writer)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case OutputYAML:
		enc := yaml.NewEncoder(f.writer)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	}

	tw := tabwriter.NewWriter(f.writer, 0, 0, 2, ' ', 0)
	upper := make([]string, len(headers))
	for i, h := range headers {
		upper[i] = strings.ToUpper(h)
	}
	fmt.Fprintln(tw, strings.Join(upper, "\t"))
	rows(func(values ...any) {
		strs := make([]string, len(values))
		for i, v := range values {
			strs[i] = fmt.Sprint(v)
		}
		fmt.Fprintln(tw, strings.Join(strs, "\t"))
	})

	return tw.Flush()
}
