package excel

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/Niakdashit/Tirages-jeux/domain/contact"
)

// minTemplateColumns is how many columns are inspected even when the template header is shorter
const minTemplateColumns = 26

// LoadTemplateWidths returns the explicitly set column widths of the first sheet
// of a reference workbook. Columns left at the sheet default are omitted.
func LoadTemplateWidths(data []byte) (contact.ColumnWidths, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open reference template: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("reference template has no sheets")
	}
	sheet := sheets[0]

	columns := minTemplateColumns
	if rows, err := f.GetRows(sheet); err == nil && len(rows) > 0 && len(rows[0]) > columns {
		columns = len(rows[0])
	}

	// the last column of a sheet is never customised in practice and reports the default
	baseline, err := f.GetColWidth(sheet, "XFD")
	if err != nil {
		return nil, fmt.Errorf("failed to read default column width: %w", err)
	}

	widths := make(contact.ColumnWidths)
	for col := 1; col <= columns; col++ {
		name, err := excelize.ColumnNumberToName(col)
		if err != nil {
			return nil, err
		}
		w, err := f.GetColWidth(sheet, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read width of column %s: %w", name, err)
		}
		if w > 0 && w != baseline {
			widths[col] = w
		}
	}
	return widths, nil
}
