package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// YearColumn is the header of the reference dataset column holding the record year.
const YearColumn = "Year"

// ErrNoYearColumn is returned when the reference dataset lacks a Year column.
var ErrNoYearColumn = errors.New("reference data has no Year column")

// LoadYearCatalog reads the historical record set at path and returns the
// closed range between its smallest and largest Year values.
func LoadYearCatalog(path string) (YearCatalog, error) {
	slog.Debug("catalog.LoadYearCatalog: reading reference data", "path", path)
	f, err := os.Open(path)
	if err != nil {
		slog.Error("catalog.LoadYearCatalog: failed to open reference data", "path", path, "error", err)
		return YearCatalog{}, fmt.Errorf("failed to open reference data: %w", err)
	}
	defer f.Close()

	yc, err := ReadYearCatalog(f)
	if err != nil {
		slog.Error("catalog.LoadYearCatalog: failed to parse reference data", "path", path, "error", err)
		return YearCatalog{}, err
	}
	slog.Info("catalog.LoadYearCatalog: year range loaded", "path", path, "min", yc.Min(), "max", yc.Max())
	return yc, nil
}

// ReadYearCatalog parses CSV data with a header row and derives the year range.
func ReadYearCatalog(r io.Reader) (YearCatalog, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return YearCatalog{}, ErrNoYearColumn
	}
	if err != nil {
		return YearCatalog{}, fmt.Errorf("failed to read header: %w", err)
	}
	col := -1
	for i, h := range header {
		if strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")) == YearColumn {
			col = i
			break
		}
	}
	if col < 0 {
		return YearCatalog{}, ErrNoYearColumn
	}

	min, max, rows := 0, 0, 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return YearCatalog{}, fmt.Errorf("failed to read row %d: %w", rows+2, err)
		}
		if col >= len(record) {
			continue
		}
		year, err := strconv.Atoi(strings.TrimSpace(record[col]))
		if err != nil {
			return YearCatalog{}, fmt.Errorf("row %d: invalid year %q: %w", rows+2, record[col], err)
		}
		if rows == 0 || year < min {
			min = year
		}
		if rows == 0 || year > max {
			max = year
		}
		rows++
	}
	if rows == 0 {
		return YearCatalog{}, ErrEmptyYearRange
	}
	return NewYearCatalog(min, max)
}
