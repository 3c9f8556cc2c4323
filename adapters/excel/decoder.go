package excel

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"

	"github.com/Niakdashit/Tirages-jeux/domain/contact"
	"github.com/Niakdashit/Tirages-jeux/internal/errors"
	"github.com/Niakdashit/Tirages-jeux/internal/logger"
)

// Source formats recognised by the decoder
const (
	FormatXLSX = "xlsx"
	FormatText = "text"
)

var (
	zipMagic = []byte("PK\x03\x04")
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
	utf8BOM  = []byte{0xEF, 0xBB, 0xBF}
)

// Decoder turns uploaded spreadsheet bytes into a RawTable.
// .xlsx files are read with excelize (first sheet); .tsv, .csv and the legacy
// ".xls" exports, which are really tab-separated text, are read as delimited text.
type Decoder struct {
	log *logger.Logger
}

// NewDecoder creates a decoder; a nil logger discards output
func NewDecoder(log *logger.Logger) *Decoder {
	if log == nil {
		log = logger.Nop()
	}
	return &Decoder{log: log}
}

// DetectFormat picks the reader from the content first, then from the extension
func DetectFormat(name string, data []byte) string {
	if bytes.HasPrefix(data, zipMagic) {
		return FormatXLSX
	}
	if strings.EqualFold(filepath.Ext(name), ".xlsx") {
		return FormatXLSX
	}
	return FormatText
}

// Decode reads the first sheet of name
func (d *Decoder) Decode(name string, data []byte) (contact.RawTable, error) {
	start := time.Now()
	if len(data) == 0 {
		return contact.RawTable{}, errors.UnreadableInput(name, fmt.Errorf("file is empty"))
	}
	if bytes.HasPrefix(data, oleMagic) {
		return contact.RawTable{}, errors.UnreadableInput(name, fmt.Errorf("binary Excel 97-2003 workbooks are not supported, save as .xlsx"))
	}

	format := DetectFormat(name, data)
	var (
		table contact.RawTable
		err   error
	)
	switch format {
	case FormatXLSX:
		table, err = d.decodeWorkbook(data)
	default:
		table, err = d.decodeText(data)
	}
	if err != nil {
		return contact.RawTable{}, errors.UnreadableInput(name, err)
	}

	d.log.Debugw("[Decoder] file decoded",
		"file", name,
		"format", format,
		"columns", len(table.Headers),
		"rows", len(table.Rows),
		"elapsed_ms", float64(time.Since(start).Nanoseconds())/1e6,
	)
	return table, nil
}

// decodeWorkbook reads the first sheet, honouring native number and boolean cells
func (d *Decoder) decodeWorkbook(data []byte) (contact.RawTable, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return contact.RawTable{}, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return contact.RawTable{}, fmt.Errorf("workbook has no sheets")
	}
	sheet := sheets[0]

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return contact.RawTable{}, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}

	cellAt := func(row, col int, raw string) contact.Cell {
		axis, err := excelize.CoordinatesToCellName(col+1, row+1)
		if err != nil {
			return textCell(raw)
		}
		kind, err := f.GetCellType(sheet, axis)
		if err != nil {
			return textCell(raw)
		}
		return workbookCell(kind, raw)
	}
	return buildTable(rows, cellAt)
}

func workbookCell(kind excelize.CellType, raw string) contact.Cell {
	value := strings.TrimSpace(raw)
	switch kind {
	case excelize.CellTypeBool:
		return contact.BoolCell(value == "1" || strings.EqualFold(value, "true"))
	case excelize.CellTypeNumber, excelize.CellTypeUnset:
		// cells without an explicit type are numbers in the file format
		if n, err := strconv.ParseFloat(value, 64); err == nil {
			return contact.NumberCell(n)
		}
	}
	return textCell(raw)
}

// decodeText reads tab, semicolon or comma separated text, UTF-8 or ISO-8859-1
func (d *Decoder) decodeText(data []byte) (contact.RawTable, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
		if err != nil {
			return contact.RawTable{}, fmt.Errorf("failed to decode ISO-8859-1 text: %w", err)
		}
		d.log.Debugw("[Decoder] input is not UTF-8, decoded as ISO-8859-1")
		data = decoded
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = sniffDelimiter(data)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return contact.RawTable{}, fmt.Errorf("failed to read delimited text: %w", err)
		}
		rows = append(rows, record)
	}

	return buildTable(rows, func(_, _ int, raw string) contact.Cell {
		return textCell(raw)
	})
}

// sniffDelimiter looks at the header line only
func sniffDelimiter(data []byte) rune {
	header := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		header = data[:i]
	}
	switch {
	case bytes.IndexByte(header, '\t') >= 0:
		return '\t'
	case bytes.IndexByte(header, ';') >= 0:
		return ';'
	default:
		return ','
	}
}

// textCell keeps the value as written, whitespace included. Boolean spellings
// are only read where a flag is expected (contact.Cell.IsTrue).
func textCell(raw string) contact.Cell {
	if strings.TrimSpace(raw) == "" {
		return contact.Cell{Kind: contact.CellEmpty}
	}
	return contact.TextCell(raw)
}

// buildTable converts raw rows into a RawTable; the first row is the header
func buildTable(rows [][]string, cellAt func(row, col int, raw string) contact.Cell) (contact.RawTable, error) {
	if len(rows) == 0 {
		return contact.RawTable{}, fmt.Errorf("no header row found")
	}

	headers := uniqueHeaders(rows[0])
	table := contact.RawTable{Headers: headers}

	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if isBlankRow(row) {
			continue
		}
		rec := make(contact.RawRecord, len(headers))
		for j, header := range headers {
			if j < len(row) {
				rec[header] = cellAt(i, j, row[j])
			} else {
				rec[header] = contact.Cell{}
			}
		}
		table.Rows = append(table.Rows, rec)
	}
	return table, nil
}

// uniqueHeaders trims labels, names blank ones "Unnamed: N" and suffixes repeats with ".1", ".2"...
func uniqueHeaders(row []string) []string {
	headers := make([]string, len(row))
	used := make(map[string]bool, len(row))
	repeats := make(map[string]int)
	for i, h := range row {
		h = strings.TrimSpace(h)
		if h == "" {
			h = fmt.Sprintf("Unnamed: %d", i)
		}
		label := h
		for used[label] {
			repeats[h]++
			label = fmt.Sprintf("%s.%d", h, repeats[h])
		}
		used[label] = true
		headers[i] = label
	}
	return headers
}

func isBlankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
