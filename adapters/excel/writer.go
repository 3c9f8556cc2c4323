package excel

import (
	"fmt"
	"math"

	"github.com/xuri/excelize/v2"

	"github.com/Niakdashit/Tirages-jeux/domain/contact"
	"github.com/Niakdashit/Tirages-jeux/internal/logger"
	"github.com/Niakdashit/Tirages-jeux/internal/output"
)

const defaultSheet = "Sheet1"

// built-in number format ids
var builtinNumFmt = map[string]int{
	"General": 0,
	"0":       1,
	"0.00":    2,
	"@":       49,
}

// Writer renders output tables into an .xlsx workbook, one sheet per table
type Writer struct {
	log *logger.Logger
}

// NewWriter creates a workbook writer; a nil logger discards output
func NewWriter(log *logger.Logger) *Writer {
	if log == nil {
		log = logger.Nop()
	}
	return &Writer{log: log}
}

// Write serializes tables in order and returns the workbook bytes
func (w *Writer) Write(tables []output.OutputTable) ([]byte, error) {
	if len(tables) == 0 {
		return nil, fmt.Errorf("no tables to write")
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	for i, t := range tables {
		if i == 0 {
			if err := f.SetSheetName(defaultSheet, t.Name); err != nil {
				return nil, fmt.Errorf("failed to name sheet %q: %w", t.Name, err)
			}
		} else if _, err := f.NewSheet(t.Name); err != nil {
			return nil, fmt.Errorf("failed to create sheet %q: %w", t.Name, err)
		}
		if err := w.writeSheet(f, t); err != nil {
			return nil, fmt.Errorf("sheet %q: %w", t.Name, err)
		}
	}
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize workbook: %w", err)
	}
	w.log.Debugw("[Writer] workbook written", "sheets", len(tables), "bytes", buf.Len())
	return buf.Bytes(), nil
}

func (w *Writer) writeSheet(f *excelize.File, t output.OutputTable) error {
	header := make([]interface{}, len(t.Headers))
	for i, h := range t.Headers {
		header[i] = h
	}
	if err := f.SetSheetRow(t.Name, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for r, rec := range t.Records {
		row := make([]interface{}, len(t.Columns))
		for c, field := range t.Columns {
			row[c] = cellValue(rec[field])
		}
		axis, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(t.Name, axis, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", r+2, err)
		}
	}

	if len(t.Columns) == 0 {
		return nil
	}
	if err := applyHeaderStyle(f, t); err != nil {
		return err
	}
	if err := applyNumberFormats(f, t); err != nil {
		return err
	}
	return applyWidths(f, t)
}

// cellValue maps a cell to the value excelize stores natively
func cellValue(c contact.Cell) interface{} {
	switch c.Kind {
	case contact.CellNumber:
		if c.Number == math.Trunc(c.Number) && math.Abs(c.Number) < 1e15 {
			return int64(c.Number)
		}
		return c.Number
	case contact.CellBool:
		return c.Bool
	case contact.CellText:
		return c.Text
	default:
		return nil
	}
}

func applyHeaderStyle(f *excelize.File, t output.OutputTable) error {
	s := t.Style
	if s.HeaderFill == "" && !s.HeaderBold && !s.HeaderBorder {
		return nil
	}

	style := &excelize.Style{}
	if s.HeaderFill != "" {
		style.Fill = excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{s.HeaderFill}}
	}
	if s.HeaderBold {
		style.Font = &excelize.Font{Bold: true}
	}
	if s.HeaderBorder {
		style.Border = []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
		}
	}

	id, err := f.NewStyle(style)
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(t.Columns), 1)
	if err != nil {
		return err
	}
	return f.SetCellStyle(t.Name, "A1", last, id)
}

func applyNumberFormats(f *excelize.File, t output.OutputTable) error {
	if len(t.Records) == 0 {
		return nil
	}
	for c, field := range t.Columns {
		format, ok := t.Style.NumberFormats[field]
		if !ok {
			continue
		}
		style := &excelize.Style{}
		if id, builtin := builtinNumFmt[format]; builtin {
			style.NumFmt = id
		} else {
			custom := format
			style.CustomNumFmt = &custom
		}
		id, err := f.NewStyle(style)
		if err != nil {
			return fmt.Errorf("failed to create number format %q: %w", format, err)
		}
		top, _ := excelize.CoordinatesToCellName(c+1, 2)
		bottom, _ := excelize.CoordinatesToCellName(c+1, len(t.Records)+1)
		if err := f.SetCellStyle(t.Name, top, bottom, id); err != nil {
			return err
		}
	}
	return nil
}

func applyWidths(f *excelize.File, t output.OutputTable) error {
	for col, width := range t.Style.ColumnWidths {
		if col < 1 || width <= 0 {
			continue
		}
		if width > excelize.MaxColumnWidth {
			width = excelize.MaxColumnWidth
		}
		name, err := excelize.ColumnNumberToName(col)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(t.Name, name, name, width); err != nil {
			return fmt.Errorf("failed to set width of column %s: %w", name, err)
		}
	}
	return nil
}
