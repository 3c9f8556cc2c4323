// Package output assembles cleaned tables into ready-to-serialize sheets with style hints.
package output

import (
	"unicode/utf8"

	"github.com/Niakdashit/Tirages-jeux/domain/contact"
)

// Sheet names and header colors per treatment
const (
	SheetOptin    = "Optin"
	SheetWinners  = "Gagnants"
	SheetReserves = "Réservistes"

	OptHeaderFill = "DCE6F1"
	GagHeaderFill = "E3F2FD"

	// PostalCodeFormat displays postal codes as bare integers
	PostalCodeFormat = "0"

	autoWidthPadding = 2
)

// Style carries the rendering hints of a sheet
type Style struct {
	HeaderFill    string
	HeaderBold    bool
	HeaderBorder  bool
	ColumnWidths  contact.ColumnWidths
	NumberFormats map[contact.Field]string
}

// OutputTable is a terminal, ready-to-serialize sheet
type OutputTable struct {
	Name    string
	Headers []string
	Columns []contact.Field
	Records []contact.Record
	Style   Style
}

// Builder accumulates rows and style directives into an OutputTable
type Builder struct {
	name       string
	aliases    contact.AliasTable
	columns    []contact.Field
	records    []contact.Record
	style      Style
	autoWidths bool
}

// NewBuilder starts a sheet with the given name
func NewBuilder(name string) *Builder {
	return &Builder{
		name:    name,
		aliases: contact.DefaultAliases,
		style:   Style{NumberFormats: make(map[contact.Field]string)},
	}
}

// WithAliases sets the table used to render header display names
func (b *Builder) WithAliases(aliases contact.AliasTable) *Builder {
	b.aliases = aliases
	return b
}

// Table adds the columns and records of a cleaned table
func (b *Builder) Table(t contact.Table) *Builder {
	b.columns = append(b.columns[:0], t.Columns...)
	b.records = append(b.records, t.Records...)
	return b
}

// HeaderFill sets a solid header fill color (RGB hex)
func (b *Builder) HeaderFill(color string) *Builder {
	b.style.HeaderFill = color
	return b
}

// HeaderEmphasis makes the header bold with a thin border
func (b *Builder) HeaderEmphasis() *Builder {
	b.style.HeaderBold = true
	b.style.HeaderBorder = true
	return b
}

// InheritWidths copies non-zero widths from a reference template
func (b *Builder) InheritWidths(widths contact.ColumnWidths) *Builder {
	b.autoWidths = false
	b.style.ColumnWidths = make(contact.ColumnWidths, len(widths))
	for col, w := range widths {
		if w > 0 {
			b.style.ColumnWidths[col] = w
		}
	}
	return b
}

// AutoWidths sizes each column to its longest value plus padding
func (b *Builder) AutoWidths() *Builder {
	b.autoWidths = true
	return b
}

// NumberFormat sets the display format of a column
func (b *Builder) NumberFormat(f contact.Field, format string) *Builder {
	b.style.NumberFormats[f] = format
	return b
}

// Build returns an OutputTable that shares no state with the builder
func (b *Builder) Build() OutputTable {
	out := OutputTable{
		Name:    b.name,
		Headers: make([]string, len(b.columns)),
		Columns: append([]contact.Field(nil), b.columns...),
		Records: make([]contact.Record, len(b.records)),
		Style: Style{
			HeaderFill:    b.style.HeaderFill,
			HeaderBold:    b.style.HeaderBold,
			HeaderBorder:  b.style.HeaderBorder,
			ColumnWidths:  make(contact.ColumnWidths),
			NumberFormats: make(map[contact.Field]string),
		},
	}
	for i, f := range b.columns {
		out.Headers[i] = b.aliases.DisplayName(f)
	}
	for i, rec := range b.records {
		out.Records[i] = rec.Clone()
	}
	for f, format := range b.style.NumberFormats {
		if out.hasColumn(f) {
			out.Style.NumberFormats[f] = format
		}
	}

	if b.autoWidths {
		out.Style.ColumnWidths = computeWidths(out.Headers, out.Columns, out.Records)
	} else {
		for col, w := range b.style.ColumnWidths {
			out.Style.ColumnWidths[col] = w
		}
	}
	return out
}

func (t OutputTable) hasColumn(f contact.Field) bool {
	for _, c := range t.Columns {
		if c == f {
			return true
		}
	}
	return false
}

// computeWidths returns max rendered length (header included) + padding per 1-based column
func computeWidths(headers []string, columns []contact.Field, records []contact.Record) contact.ColumnWidths {
	widths := make(contact.ColumnWidths, len(columns))
	for i, f := range columns {
		longest := utf8.RuneCountInString(headers[i])
		for _, rec := range records {
			if n := utf8.RuneCountInString(rec.Text(f)); n > longest {
				longest = n
			}
		}
		widths[i+1] = float64(longest + autoWidthPadding)
	}
	return widths
}

// AssembleOpt builds the single "Optin" sheet using the reference template widths
func AssembleOpt(t contact.Table, template contact.ColumnWidths) []OutputTable {
	sheet := NewBuilder(SheetOptin).
		Table(t).
		HeaderFill(OptHeaderFill).
		HeaderEmphasis().
		InheritWidths(template).
		NumberFormat(contact.FieldPostalCode, PostalCodeFormat).
		Build()
	return []OutputTable{sheet}
}

// AssembleGag builds the winners and reserves sheets; both share the same columns
func AssembleGag(p contact.Partition) []OutputTable {
	build := func(name string, t contact.Table) OutputTable {
		return NewBuilder(name).
			Table(t).
			HeaderFill(GagHeaderFill).
			AutoWidths().
			NumberFormat(contact.FieldPostalCode, PostalCodeFormat).
			Build()
	}
	return []OutputTable{
		build(SheetWinners, p.Winners),
		build(SheetReserves, p.Reserves),
	}
}
