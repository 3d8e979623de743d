package pipeline

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/treatment-outcome-server/internal/domain"
)

// numericColumns are the CSV columns parsed as numbers. Unparsable cells
// keep their raw string form so the validator, not the reader, reports the
// type violation.
var numericColumns = map[string]bool{
	domain.FieldAge:      true,
	domain.FieldDosage:   true,
	domain.FieldDuration: true,
	domain.FieldScore:    true,
}

// ReadCSV ingests raw rows from a CSV file into canonical records. The
// header row defines column order; records are field-name keyed, so column
// order in the file does not matter. Only structural problems (missing
// file, ragged rows, empty file) fail here; value-level checks belong to
// the validation stage.
func ReadCSV(path string) ([]domain.RawRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open raw data: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("raw data file is empty: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	var records []domain.RawRecord
	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row %d: %w", line, err)
		}

		rec := make(domain.RawRecord, len(header))
		for i, col := range header {
			cell := row[i]
			if numericColumns[col] {
				if n, err := strconv.ParseFloat(cell, 64); err == nil {
					rec[col] = n
					continue
				}
			}
			rec[col] = cell
		}
		records = append(records, rec)
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("raw data file has no data rows: %s", path)
	}
	return records, nil
}
