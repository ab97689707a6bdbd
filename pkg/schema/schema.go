// Package schema derives a stable column set from flattened records.
package schema

import (
	"sort"

	"github.com/Sternrassler/clinical-trials-client/pkg/flatten"
)

// Collect returns the sorted, deduplicated union of all record keys.
// Keys are compared byte-wise so column order is identical across runs and locales.
func Collect(records []flatten.Record) []string {
	seen := make(map[string]struct{})
	for _, rec := range records {
		for key := range rec {
			seen[key] = struct{}{}
		}
	}

	columns := make([]string, 0, len(seen))
	for key := range seen {
		columns = append(columns, key)
	}
	sort.Strings(columns)

	return columns
}

// Row projects rec onto columns. Missing keys yield nil.
func Row(columns []string, rec flatten.Record) []any {
	row := make([]any, len(columns))
	for i, col := range columns {
		row[i] = rec[col]
	}
	return row
}
