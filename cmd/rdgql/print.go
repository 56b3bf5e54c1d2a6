package main

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/fnuworsu/rdgql/pkg/exec"
	"github.com/fnuworsu/rdgql/pkg/query"
)

// printResult renders rows as an aligned table followed by a summary line
func printResult(w io.Writer, res *query.Result) {
	columns := res.Columns
	if len(columns) == 0 {
		columns = (&exec.ResultSet{Rows: res.Rows}).Columns()
	}
	if len(res.Rows) == 0 || len(columns) == 0 {
		fmt.Fprintln(w, "(no rows)")
		printSummary(w, res)
		return
	}

	cells := make([][]string, len(res.Rows))
	widths := make([]int, len(columns))
	for i, col := range columns {
		widths[i] = utf8.RuneCountInString(col)
	}
	for r, row := range res.Rows {
		cells[r] = make([]string, len(columns))
		for i, col := range columns {
			val := exec.FormatValue(row.Property(col))
			cells[r][i] = val
			if n := utf8.RuneCountInString(val); n > widths[i] {
				widths[i] = n
			}
		}
	}

	for i, col := range columns {
		fmt.Fprint(w, pad(col, widths[i]))
	}
	fmt.Fprintln(w)
	for i := range columns {
		fmt.Fprint(w, strings.Repeat("-", widths[i])+"  ")
	}
	fmt.Fprintln(w)
	for _, row := range cells {
		for i, val := range row {
			fmt.Fprint(w, pad(val, widths[i]))
		}
		fmt.Fprintln(w)
	}
	printSummary(w, res)
}

func printSummary(w io.Writer, res *query.Result) {
	rows := "rows"
	if len(res.Rows) == 1 {
		rows = "row"
	}
	cached := ""
	if res.Cached {
		cached = ", cached plan"
	}
	fmt.Fprintf(w, "\n(%s %s, %s%s)\n", humanize.Comma(int64(len(res.Rows))), rows, res.Elapsed, cached)
}

func pad(s string, width int) string {
	return s + strings.Repeat(" ", width-utf8.RuneCountInString(s)+2)
}

// parseParam reads a command-line parameter as a YAML scalar so numbers and
// booleans keep their type
func parseParam(raw string) any {
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	switch v.(type) {
	case map[string]any, []any, nil:
		return raw
	}
	return v
}
