package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
)

// printer writes either JSON or a text rendering of the same value.
type printer struct {
	format string
	w      io.Writer
}

func newPrinter(opts *RootOptions, w io.Writer) printer { return printer{format: opts.Format, w: w} }

// print writes v as indented JSON in json mode and calls text otherwise.
func (p printer) print(v any, text func(w io.Writer)) error {
	if p.format == "json" {
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	text(tw)
	return tw.Flush()
}

func (p printer) line(format string, args ...any) {
	if p.format == "json" {
		return
	}
	fmt.Fprintf(p.w, format+"\n", args...)
}
