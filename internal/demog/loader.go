// Package demog loads demographic panel records from CSV and XLSX files.
//
// Both formats expect a header row naming the columns age, income, region
// (or state), and weight, in any order. A header missing any of the four
// fails the load.
package demog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/hive-sim/internal/model"
)

// LoadError reports a malformed cell with its position in the source file.
type LoadError struct {
	Row    int // 1-based, counting the header
	Column string
	Value  string
	Reason string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("demog: row %d column %q: %s (got %q)", e.Row, e.Column, e.Reason, e.Value)
}

// columnIndexes maps the well-known column names to their positions in
// the header row. Region also accepts "state".
type columnIndexes struct {
	age    int
	income int
	region int
	weight int
}

func parseHeader(header []string) (columnIndexes, error) {
	idx := columnIndexes{age: -1, income: -1, region: -1, weight: -1}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "age":
			idx.age = i
		case "income":
			idx.income = i
		case "region", "state":
			idx.region = i
		case "weight":
			idx.weight = i
		}
	}
	if idx.age < 0 || idx.income < 0 || idx.region < 0 || idx.weight < 0 {
		return idx, eris.Errorf("demog: header must name age, income, region, and weight columns, got %v", header)
	}
	return idx, nil
}

func parseRecord(cells []string, idx columnIndexes, rowNum int) (model.Persona, error) {
	var p model.Persona

	get := func(i int) string {
		if i < 0 || i >= len(cells) {
			return ""
		}
		return strings.TrimSpace(cells[i])
	}

	age, err := strconv.Atoi(get(idx.age))
	if err != nil || age < 0 {
		return p, &LoadError{Row: rowNum, Column: "age", Value: get(idx.age), Reason: "must be a non-negative integer"}
	}

	incomeStr := strings.NewReplacer("$", "", ",", "").Replace(get(idx.income))
	income, err := strconv.Atoi(incomeStr)
	if err != nil || income < 0 {
		return p, &LoadError{Row: rowNum, Column: "income", Value: get(idx.income), Reason: "must be a non-negative integer"}
	}

	region := get(idx.region)
	if region == "" {
		return p, &LoadError{Row: rowNum, Column: "region", Value: "", Reason: "must not be empty"}
	}

	weight := 1.0
	if get(idx.weight) != "" {
		weight, err = strconv.ParseFloat(get(idx.weight), 64)
		if err != nil || weight < 0 {
			return p, &LoadError{Row: rowNum, Column: "weight", Value: get(idx.weight), Reason: "must be a non-negative number"}
		}
	}

	return model.Persona{Age: age, Income: income, Region: region, Weight: weight}, nil
}

// LoadCSV reads panel records from a CSV stream.
func LoadCSV(r io.Reader) ([]model.Persona, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // allow variable fields

	header, err := reader.Read()
	if err != nil {
		return nil, eris.Wrap(err, "demog: read header")
	}
	idx, err := parseHeader(header)
	if err != nil {
		return nil, err
	}

	var records []model.Persona
	rowNum := 1
	for {
		cells, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "demog: read row %d", rowNum+1)
		}
		rowNum++
		if isBlank(cells) {
			continue
		}
		p, err := parseRecord(cells, idx, rowNum)
		if err != nil {
			return nil, err
		}
		records = append(records, p)
	}
	if len(records) == 0 {
		return nil, eris.New("demog: no records")
	}
	return records, nil
}

// LoadXLSX reads panel records from the first sheet of an XLSX file.
func LoadXLSX(path string) ([]model.Persona, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "demog: open %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("demog: %s has no sheets", path)
	}
	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return nil, eris.Errorf("demog: %s first sheet is empty", path)
	}

	idx, err := parseHeader(rowToStrings(sheet.Rows[0]))
	if err != nil {
		return nil, err
	}

	var records []model.Persona
	for i, row := range sheet.Rows[1:] {
		cells := rowToStrings(row)
		if isBlank(cells) {
			continue
		}
		p, err := parseRecord(cells, idx, i+2)
		if err != nil {
			return nil, err
		}
		records = append(records, p)
	}
	if len(records) == 0 {
		return nil, eris.New("demog: no records")
	}
	return records, nil
}

// LoadFile dispatches on file extension: .xlsx goes through the XLSX
// reader, everything else is treated as CSV.
func LoadFile(path string) ([]model.Persona, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return LoadXLSX(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "demog: open %s", path)
	}
	defer f.Close()
	return LoadCSV(f)
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
