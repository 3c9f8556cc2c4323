// Package schema maps variant source headers onto the canonical contact fields.
//
// Upstream exports disagree on accents, case and punctuation ("Civilité", "CivilitE",
// "Civ", "CP", "Code Postal"...). Labels and aliases are compared after NormalizeLabel,
// exact matches first, then substring matches in either direction.
package schema

import (
	"strings"

	"github.com/Niakdashit/Tirages-jeux/domain/contact"
	apperrors "github.com/Niakdashit/Tirages-jeux/internal/errors"
	"github.com/Niakdashit/Tirages-jeux/internal/textnorm"
)

// PartnerColumnMarker identifies the OPT opt-in gate column
const PartnerColumnMarker = "partenaire -"

var labelNoise = strings.NewReplacer(" ", "", "_", "")

// NormalizeLabel folds a header for comparison: no accents, lower case,
// no spaces or underscores
func NormalizeLabel(label string) string {
	return labelNoise.Replace(strings.ToLower(textnorm.StripAccents(label)))
}

// Binding ties a canonical field to the source label it was resolved from
type Binding struct {
	Field  contact.Field
	Source string
}

// Mapping is the resolved schema of one file, in canonical field order
type Mapping struct {
	Bindings []Binding
}

// Fields returns the resolved fields in canonical order
func (m Mapping) Fields() []contact.Field {
	fields := make([]contact.Field, len(m.Bindings))
	for i, b := range m.Bindings {
		fields[i] = b.Field
	}
	return fields
}

// Source returns the label bound to a field
func (m Mapping) Source(f contact.Field) (string, bool) {
	for _, b := range m.Bindings {
		if b.Field == f {
			return b.Source, true
		}
	}
	return "", false
}

// Has reports whether the field was resolved
func (m Mapping) Has(f contact.Field) bool {
	_, ok := m.Source(f)
	return ok
}

type matchFunc func(label, alias string) bool

func exactMatch(label, alias string) bool {
	return label == alias
}

func tolerantMatch(label, alias string) bool {
	return strings.Contains(label, alias) || strings.Contains(alias, label)
}

// Resolve maps source headers onto the fields of the alias table.
// Fields are visited in table order, aliases in declared order, headers in file order;
// each header is claimed by at most one field. Unmatched headers are dropped.
func Resolve(headers []string, aliases contact.AliasTable) Mapping {
	normalized := make([]string, len(headers))
	for i, h := range headers {
		normalized[i] = NormalizeLabel(h)
	}

	claimed := make([]bool, len(headers))
	bound := make(map[contact.Field]int, len(aliases))

	for _, match := range []matchFunc{exactMatch, tolerantMatch} {
		for _, spec := range aliases {
			if _, ok := bound[spec.Field]; ok {
				continue
			}
			if idx := findHeader(normalized, claimed, spec.Aliases, match); idx >= 0 {
				bound[spec.Field] = idx
				claimed[idx] = true
			}
		}
	}

	var m Mapping
	for _, spec := range aliases {
		if idx, ok := bound[spec.Field]; ok {
			m.Bindings = append(m.Bindings, Binding{Field: spec.Field, Source: headers[idx]})
		}
	}
	return m
}

func findHeader(normalized []string, claimed []bool, aliases []string, match matchFunc) int {
	for _, alias := range aliases {
		a := NormalizeLabel(alias)
		if a == "" {
			continue
		}
		for i, label := range normalized {
			if claimed[i] || label == "" {
				continue
			}
			if match(label, a) {
				return i
			}
		}
	}
	return -1
}

// Project rewrites raw rows onto the resolved fields. Fields absent from the
// mapping are omitted, never synthesized.
func Project(raw contact.RawTable, m Mapping) contact.Table {
	table := contact.Table{
		Columns: m.Fields(),
		Records: make([]contact.Record, 0, len(raw.Rows)),
	}
	for _, row := range raw.Rows {
		rec := make(contact.Record, len(m.Bindings))
		for _, b := range m.Bindings {
			rec[b.Field] = row[b.Source]
		}
		table.Records = append(table.Records, rec)
	}
	return table
}

// FindPartnerColumn locates the OPT opt-in gate column
func FindPartnerColumn(headers []string) (string, error) {
	for _, h := range headers {
		if strings.Contains(strings.ToLower(h), PartnerColumnMarker) {
			return h, nil
		}
	}
	return "", apperrors.MissingColumn(
		[]string{"Partenaire -"},
		[]string{"Partenaire - <nom du partenaire>"},
		headers,
	)
}

// Require checks that every field is resolved, reporting the missing ones
// with the headers actually found
func Require(m Mapping, headers []string, aliases contact.AliasTable, fields ...contact.Field) error {
	var missing []string
	for _, f := range fields {
		if !m.Has(f) {
			missing = append(missing, aliases.DisplayName(f))
		}
	}
	if len(missing) == 0 {
		return nil
	}

	expected := make([]string, len(fields))
	for i, f := range fields {
		expected[i] = aliases.DisplayName(f)
	}
	return apperrors.MissingColumn(missing, expected, headers)
}
