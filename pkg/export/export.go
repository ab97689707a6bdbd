// Package export writes flattened studies as CSV and raw studies as JSON.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/Sternrassler/clinical-trials-client/pkg/client"
	"github.com/Sternrassler/clinical-trials-client/pkg/flatten"
	"github.com/Sternrassler/clinical-trials-client/pkg/schema"
)

// WriteCSV writes a header row of columns followed by one row per record.
// Keys missing from a record produce empty cells. Nothing is written when
// columns is empty.
func WriteCSV(w io.Writer, columns []string, records []flatten.Record) error {
	if len(columns) == 0 {
		return nil
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	row := make([]string, len(columns))
	for i, rec := range records {
		for j, v := range schema.Row(columns, rec) {
			row[j] = FormatValue(v)
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// FormatValue renders a scalar leaf for a CSV cell. Numbers decoded as
// json.Number keep their original text; floats use the shortest exact form.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// WriteJSON writes studies as an indented JSON array.
func WriteJSON(w io.Writer, studies []client.Study) error {
	if studies == nil {
		studies = []client.Study{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(studies); err != nil {
		return fmt.Errorf("encode studies: %w", err)
	}
	return nil
}
