package contact

import (
	"fmt"
	"strings"
)

// Treatment selects the processing applied to an uploaded file
type Treatment string

const (
	TreatmentOpt Treatment = "OPT" // partner opt-in list
	TreatmentGag Treatment = "GAG" // contest winner draw
)

// ParseTreatment accepts the treatment code in any case
func ParseTreatment(s string) (Treatment, error) {
	switch Treatment(strings.ToUpper(strings.TrimSpace(s))) {
	case TreatmentOpt:
		return TreatmentOpt, nil
	case TreatmentGag:
		return TreatmentGag, nil
	}
	return "", fmt.Errorf("unknown treatment %q (expected OPT or GAG)", s)
}

// Code returns the short code used in output file labels
func (t Treatment) Code() string {
	return string(t)
}

// RawRecord maps a source column label to its cell
type RawRecord map[string]Cell

// RawTable is a decoded sheet: labels as found in the header row, rows in file order
type RawTable struct {
	Headers []string
	Rows    []RawRecord
}

// Record is a cleaned row keyed by canonical field
type Record map[Field]Cell

// Text returns the rendered value of a field, or "" when absent
func (r Record) Text(f Field) string {
	return r[f].String()
}

// Clone returns a shallow copy of the record
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Table is a cleaned record sequence with its canonical column order
type Table struct {
	Columns []Field
	Records []Record
}

// Has reports whether the table carries the field
func (t Table) Has(f Field) bool {
	for _, c := range t.Columns {
		if c == f {
			return true
		}
	}
	return false
}

// Len returns the number of records
func (t Table) Len() int {
	return len(t.Records)
}

// Partition is the result of a GAG draw
type Partition struct {
	Winners  Table
	Reserves Table
}

// ColumnWidths maps a 1-based column number to a width in sheet units
type ColumnWidths map[int]float64
