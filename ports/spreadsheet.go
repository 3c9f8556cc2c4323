package ports

import (
	"github.com/Niakdashit/Tirages-jeux/domain/contact"
	"github.com/Niakdashit/Tirages-jeux/internal/output"
)

// TableDecoder reads the first sheet of an uploaded file.
// name is used for format detection and error messages only.
type TableDecoder interface {
	Decode(name string, data []byte) (contact.RawTable, error)
}

// WorkbookWriter serializes assembled sheets into a single workbook, in order
type WorkbookWriter interface {
	Write(tables []output.OutputTable) ([]byte, error)
}
