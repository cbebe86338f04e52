package export

import (
	"encoding/csv"
	"fmt"
	"io"
)

// WriteCSV writes the table with RFC 4180 quoting: fields containing a
// quote, comma or line break are quoted and inner quotes doubled.
func WriteCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("write csv rows: %w", err)
	}
	return nil
}
