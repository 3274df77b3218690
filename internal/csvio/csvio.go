// Package csvio decodes the RFC4180 CSV files ingest_raw accepts for both
// sources (§4.11, §6's CSV contract). Invalid UTF-8 bytes are replaced with
// U+FFFD rather than rejected, matching the corpus's general practice of
// accepting imperfect real-world input over mailing-list exports.
package csvio

import (
	"encoding/csv"
	"fmt"
	"io"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Decode reads an RFC4180 CSV stream and returns its header row plus one
// map[header]value per subsequent row, in file order. A row with fewer
// fields than the header is padded with empty strings; a row with more is
// truncated to the header's width. The encoding/csv field-count guard is
// disabled (FieldsPerRecord = -1), so ragged rows are accepted and shaped here.
func Decode(r io.Reader) (headers []string, rows []map[string]string, err error) {
	sanitized := transform.NewReader(r, unicode.UTF8.NewDecoder())

	cr := csv.NewReader(sanitized)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	headers, err = cr.Read()
	if err == io.EOF {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read header row: %w", err)
	}

	for {
		record, readErr := cr.Read()
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, nil, fmt.Errorf("read row %d: %w", len(rows)+2, readErr)
		}

		row := make(map[string]string, len(headers))
		for i, h := range headers {
			if i < len(record) {
				row[h] = record[i]
			} else {
				row[h] = ""
			}
		}
		rows = append(rows, row)
	}

	return headers, rows, nil
}
