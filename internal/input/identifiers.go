// Package input reads the identifier list that drives an export run.
package input

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Sternrassler/clinical-trials-client/pkg/fetch"
)

// ErrMissingColumn is returned when the header lacks the identifier column.
var ErrMissingColumn = errors.New("missing identifier column")

// Columns names the header columns to read. ApplicationID and Project are
// optional in the file; absent columns leave the fields empty.
type Columns struct {
	Identifier    string
	ApplicationID string
	Project       string
}

// DefaultColumns returns the standard column names.
func DefaultColumns() Columns {
	return Columns{
		Identifier:    "identifier",
		ApplicationID: "application_id",
		Project:       "project",
	}
}

// aliases are accepted when the configured name is not in the header.
var aliases = map[string][]string{
	"identifier":     {"nctid", "nct_id"},
	"application_id": {"appl_id"},
}

// ReadIdentifiers parses a CSV with a header row into identifier records.
// Rows with a blank identifier are skipped; cells are trimmed.
func ReadIdentifiers(r io.Reader, cols Columns) ([]fetch.IdentifierRecord, error) {
	if cols.Identifier == "" {
		cols = DefaultColumns()
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w %q: input is empty", ErrMissingColumn, cols.Identifier)
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	idIdx := columnIndex(header, cols.Identifier)
	if idIdx < 0 {
		return nil, fmt.Errorf("%w %q in header %v", ErrMissingColumn, cols.Identifier, header)
	}
	appIdx := columnIndex(header, cols.ApplicationID)
	projIdx := columnIndex(header, cols.Project)

	var records []fetch.IdentifierRecord
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}

		id := cell(row, idIdx)
		if id == "" {
			continue
		}
		records = append(records, fetch.IdentifierRecord{
			Identifier:    id,
			ApplicationID: cell(row, appIdx),
			Project:       cell(row, projIdx),
		})
	}

	return records, nil
}

// ReadIdentifiersFile reads identifier records from the CSV file at path.
func ReadIdentifiersFile(path string, cols Columns) ([]fetch.IdentifierRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	records, err := ReadIdentifiers(f, cols)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

// columnIndex finds name in header, case-insensitively, falling back to its
// aliases. It returns -1 when neither is present or name is empty.
func columnIndex(header []string, name string) int {
	if name == "" {
		return -1
	}
	candidates := append([]string{name}, aliases[strings.ToLower(name)]...)
	for _, c := range candidates {
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")), c) {
				return i
			}
		}
	}
	return -1
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
