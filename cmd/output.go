package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"sigs.k8s.io/yaml"
)

// Output formats accepted by -o.
const (
	OutputFormatTable = "table"
	OutputFormatJSON  = "json"
	OutputFormatYAML  = "yaml"
)

// render writes v in the requested format. Table output is delegated to
// renderTable so each command controls its columns.
func render(w io.Writer, format string, v any, renderTable func(table.Writer)) error {
	switch format {
	case OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case OutputFormatYAML:
		out, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to render yaml: %w", err)
		}
		_, err = w.Write(out)
		return err
	case OutputFormatTable, "":
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.SetStyle(table.StyleRounded)
		renderTable(t)
		t.Render()
		return nil
	default:
		return fmt.Errorf("unsupported output format %q (use table, json or yaml)", format)
	}
}

func header(cols ...string) table.Row {
	row := make(table.Row, len(cols))
	for i, c := range cols {
		row[i] = text.FgHiCyan.Sprint(c)
	}
	return row
}
