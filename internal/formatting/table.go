package formatting

import (
	"errors"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"testbed/internal/config"
)

// newTable creates a new table with standard styling
func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	return t
}

func header(names ...string) table.Row {
	row := make(table.Row, len(names))
	for i, n := range names {
		row[i] = text.FgHiCyan.Sprint(n)
	}
	return row
}

func emptyMessage(msg string) string {
	return text.FgYellow.Sprint(msg)
}

// ConfigErrors renders configuration errors, one row per problem. Other
// errors are printed as they are.
func ConfigErrors(w io.Writer, err error) {
	var coll config.ConfigurationErrorCollection
	var single config.ConfigurationError
	var errs []config.ConfigurationError
	switch {
	case errors.As(err, &coll):
		errs = coll.Errors
	case errors.As(err, &single):
		errs = []config.ConfigurationError{single}
	default:
		fmt.Fprintln(w, text.FgRed.Sprint(err.Error()))
		return
	}

	t := newTable(w)
	t.AppendHeader(header("FILE", "TYPE", "FIELD", "MESSAGE", "SUGGESTION"))
	for _, e := range errs {
		suggestion := ""
		if len(e.Suggestions) > 0 {
			suggestion = e.Suggestions[0]
		}
		t.AppendRow(table.Row{e.FileName, e.ErrorType, e.Field, e.Message, suggestion})
	}
	t.Render()
	fmt.Fprintf(w, "%s %d problem(s)\n", text.FgRed.Sprint("Invalid configuration:"), len(errs))
}
