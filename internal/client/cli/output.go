package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"
)

// print writes v as indented JSON in JSON mode and as a table otherwise.
func (a *App) print(v any, table func(w *tabwriter.Writer)) error {
	if a.asJSON {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	table(w)
	return w.Flush()
}

func row(w *tabwriter.Writer, cols ...any) {
	for i, c := range cols {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		if t, ok := c.(time.Time); ok {
			c = t.Local().Format(time.DateTime)
		}
		fmt.Fprint(w, c)
	}
	fmt.Fprintln(w)
}

func humanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
