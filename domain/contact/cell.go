package contact

import (
	"math"
	"strconv"
	"strings"
)

// CellKind defines the storage type of a cell value
type CellKind string

const (
	CellEmpty  CellKind = "empty"
	CellText   CellKind = "text"
	CellNumber CellKind = "number"
	CellBool   CellKind = "bool"
)

// Cell holds a single raw or cleaned spreadsheet value
type Cell struct {
	Kind   CellKind `json:"kind"`
	Text   string   `json:"text,omitempty"`
	Number float64  `json:"number,omitempty"`
	Bool   bool     `json:"bool,omitempty"`
}

// TextCell creates a text cell; an empty string yields an empty cell
func TextCell(s string) Cell {
	if s == "" {
		return Cell{Kind: CellEmpty}
	}
	return Cell{Kind: CellText, Text: s}
}

// NumberCell creates a numeric cell
func NumberCell(n float64) Cell {
	return Cell{Kind: CellNumber, Number: n}
}

// IntCell creates a numeric cell holding an integer
func IntCell(n int) Cell {
	return Cell{Kind: CellNumber, Number: float64(n)}
}

// BoolCell creates a boolean cell
func BoolCell(b bool) Cell {
	return Cell{Kind: CellBool, Bool: b}
}

// IsEmpty reports whether the cell carries no value
func (c Cell) IsEmpty() bool {
	return c.Kind == CellEmpty || c.Kind == ""
}

// IsTrue reads the cell as an opt-in flag: boolean true, the number 1, or a
// text spelling accepted by ParseBoolText
func (c Cell) IsTrue() bool {
	switch c.Kind {
	case CellBool:
		return c.Bool
	case CellNumber:
		return c.Number == 1
	case CellText:
		b, ok := ParseBoolText(c.Text)
		return ok && b
	default:
		return false
	}
}

// String renders the cell the way it would be displayed in a sheet.
// Integral numbers render without a decimal part.
func (c Cell) String() string {
	switch c.Kind {
	case CellText:
		return c.Text
	case CellNumber:
		if c.Number == math.Trunc(c.Number) && math.Abs(c.Number) < 1e15 {
			return strconv.FormatInt(int64(c.Number), 10)
		}
		return strconv.FormatFloat(c.Number, 'f', -1, 64)
	case CellBool:
		if c.Bool {
			return "True"
		}
		return "False"
	default:
		return ""
	}
}

// ParseBoolText recognises the boolean spellings found in exported sheets
func ParseBoolText(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "vrai":
		return true, true
	case "false", "faux":
		return false, true
	}
	return false, false
}
