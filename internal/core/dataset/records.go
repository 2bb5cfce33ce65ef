package dataset

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gocarina/gocsv"
)

const (
	LabelColumn = "index"
	TextColumn  = "question"
)

// Record is one row of the input table. Labels are kept as opaque strings.
type Record struct {
	Label    string `csv:"index"`
	Question string `csv:"question"`
}

// Example is a record whose label has been mapped through a LabelIndex.
type Example struct {
	Label int
	Text  string
}

func newCSVReader(r io.Reader, comma rune) *csv.Reader {
	reader := csv.NewReader(r)
	reader.Comma = comma
	reader.LazyQuotes = true
	return reader
}

// ReadRecords parses a delimited table with a header row. labeled reports
// whether the header carries the label column.
func ReadRecords(r io.Reader, comma rune) (records []Record, labeled bool, err error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, false, fmt.Errorf("error reading records: %w", err)
	}

	header, err := newCSVReader(bytes.NewReader(data), comma).Read()
	if err != nil {
		return nil, false, fmt.Errorf("error reading header: %w", err)
	}

	hasText := false
	for i, col := range header {
		if i == 0 {
			col = strings.TrimPrefix(col, "\ufeff")
		}
		switch strings.TrimSpace(col) {
		case LabelColumn:
			labeled = true
		case TextColumn:
			hasText = true
		}
	}
	if !hasText {
		return nil, false, fmt.Errorf("input is missing the '%s' column (header: %v)", TextColumn, header)
	}

	if err := gocsv.UnmarshalCSV(newCSVReader(bytes.NewReader(data), comma), &records); err != nil {
		return nil, false, fmt.Errorf("error decoding records: %w", err)
	}

	return records, labeled, nil
}

// DelimiterFor returns the field separator implied by the file extension.
func DelimiterFor(path string) rune {
	if strings.EqualFold(filepath.Ext(path), ".tsv") {
		return '\t'
	}
	return ','
}

func ReadRecordsFile(path string) ([]Record, bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, false, fmt.Errorf("error opening data file: %w", err)
	}
	defer file.Close()

	records, labeled, err := ReadRecords(file, DelimiterFor(path))
	if err != nil {
		return nil, false, fmt.Errorf("error reading %s: %w", path, err)
	}
	return records, labeled, nil
}
