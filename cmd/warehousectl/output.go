package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"ecompulse.app/internal/warehouse"
)

func getOutputFormat(cmd *cobra.Command) string {
	v, _ := cmd.Root().PersistentFlags().GetString("output")
	return v
}

func validateOutputFormat(output string) error {
	switch output {
	case "", "table", "json", "yaml":
		return nil
	}
	return fmt.Errorf("unsupported output format %q: use 'table', 'json' or 'yaml'", output)
}

func printValue(cmd *cobra.Command, v any) error {
	return writeValue(cmd.OutOrStdout(), getOutputFormat(cmd), v)
}

func writeValue(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	}
	// Plain maps print as key/value lines; anything else falls back to JSON.
	switch m := v.(type) {
	case map[string]string:
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, k := range sortedKeys(m) {
			_, _ = fmt.Fprintf(tw, "%s\t%s\n", k, m[k])
		}
		return tw.Flush()
	case map[string]any:
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, k := range sortedKeys(m) {
			_, _ = fmt.Fprintf(tw, "%s\t%v\n", k, m[k])
		}
		return tw.Flush()
	}
	return writeValue(w, "json", v)
}

func printRows(cmd *cobra.Command, columns []string, rows []warehouse.Row) error {
	return writeRows(cmd.OutOrStdout(), getOutputFormat(cmd), columns, rows)
}

func writeRows(w io.Writer, format string, columns []string, rows []warehouse.Row) error {
	if format == "json" || format == "yaml" {
		return writeValue(w, format, rows)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for i, c := range columns {
		if i > 0 {
			_, _ = fmt.Fprint(tw, "\t")
		}
		_, _ = fmt.Fprint(tw, c)
	}
	_, _ = fmt.Fprintln(tw)
	for _, r := range rows {
		for i, c := range columns {
			if i > 0 {
				_, _ = fmt.Fprint(tw, "\t")
			}
			if r[c] == nil {
				_, _ = fmt.Fprint(tw, "NULL")
				continue
			}
			_, _ = fmt.Fprint(tw, r.String(c))
		}
		_, _ = fmt.Fprintln(tw)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "(%d rows)\n", len(rows))
	return err
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
