package cleaner

import (
	"strconv"
	"strings"

	"github.com/Niakdashit/Tirages-jeux/domain/contact"
	"github.com/Niakdashit/Tirages-jeux/internal/schema"
	"github.com/Niakdashit/Tirages-jeux/internal/textnorm"
)

// Rules bundles the static configuration of a cleaning run
type Rules struct {
	Aliases contact.AliasTable
	OptCity contact.OptCityRules
}

// DefaultRules returns the canonical alias table and exclusion rules
func DefaultRules() Rules {
	return Rules{
		Aliases: contact.DefaultAliases,
		OptCity: contact.DefaultOptCityRules,
	}
}

// Report counts what each cleaning step removed
type Report struct {
	InputRows         int            `json:"input_rows"`
	OptInRows         int            `json:"opt_in_rows"`
	DuplicatesRemoved int            `json:"duplicates_removed"`
	ExcludedRows      int            `json:"excluded_rows"`
	OutputRows        int            `json:"output_rows"`
	PartnerColumn     string         `json:"partner_column,omitempty"`
	Mapping           schema.Mapping `json:"-"`
}

// Clean turns a decoded sheet into canonical records. The steps run in a fixed
// order; later steps rely on the normalization done by earlier ones.
func Clean(raw contact.RawTable, treatment contact.Treatment, rules Rules) (contact.Table, Report, error) {
	report := Report{InputRows: len(raw.Rows)}

	if treatment == contact.TreatmentOpt {
		filtered, partner, err := keepOptedIn(raw)
		if err != nil {
			return contact.Table{}, report, err
		}
		raw = filtered
		report.PartnerColumn = partner
	}
	report.OptInRows = len(raw.Rows)

	mapping := schema.Resolve(raw.Headers, rules.Aliases)
	report.Mapping = mapping

	required := []contact.Field{contact.FieldEmail}
	if treatment == contact.TreatmentOpt {
		required = append(required, contact.FieldCity)
	}
	if err := schema.Require(mapping, raw.Headers, rules.Aliases, required...); err != nil {
		return contact.Table{}, report, err
	}

	table := schema.Project(raw, mapping)
	normalize(&table, rules.Aliases)

	before := table.Len()
	table.Records = Deduplicate(table.Records)
	report.DuplicatesRemoved = before - table.Len()

	if treatment == contact.TreatmentOpt {
		before = table.Len()
		table.Records = ExcludeCities(table.Records, rules.OptCity)
		report.ExcludedRows = before - table.Len()
	}

	if table.Has(contact.FieldPostalCode) {
		for _, rec := range table.Records {
			rec[contact.FieldPostalCode] = contact.IntCell(ParsePostalCode(rec.Text(contact.FieldPostalCode)))
		}
	}
	if table.Has(contact.FieldPhone) {
		for _, rec := range table.Records {
			rec[contact.FieldPhone] = contact.TextCell(textnorm.FormatPhone(rec.Text(contact.FieldPhone)))
		}
	}

	report.OutputRows = table.Len()
	return table, report, nil
}

// keepOptedIn keeps rows whose partner column is boolean true and drops the column
func keepOptedIn(raw contact.RawTable) (contact.RawTable, string, error) {
	partner, err := schema.FindPartnerColumn(raw.Headers)
	if err != nil {
		return contact.RawTable{}, "", err
	}

	out := contact.RawTable{Headers: make([]string, 0, len(raw.Headers))}
	for _, h := range raw.Headers {
		if h != partner {
			out.Headers = append(out.Headers, h)
		}
	}
	for _, row := range raw.Rows {
		if !row[partner].IsTrue() {
			continue
		}
		kept := make(contact.RawRecord, len(row))
		for k, v := range row {
			if k != partner {
				kept[k] = v
			}
		}
		out.Rows = append(out.Rows, kept)
	}
	return out, partner, nil
}

func normalize(table *contact.Table, aliases contact.AliasTable) {
	for _, f := range table.Columns {
		spec, _ := aliases.Spec(f)
		for _, rec := range table.Records {
			if spec.SkipNormalization {
				rec[f] = contact.TextCell(rec[f].String())
				continue
			}
			rec[f] = textnorm.NormalizeCell(rec[f])
		}
	}
}

// Deduplicate keeps the first record of each exact e-mail value
func Deduplicate(records []contact.Record) []contact.Record {
	seen := make(map[string]struct{}, len(records))
	out := make([]contact.Record, 0, len(records))
	for _, rec := range records {
		email := rec.Text(contact.FieldEmail)
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}
		out = append(out, rec)
	}
	return out
}

// ExcludeCities drops records whose city contains one of the rule substrings, case-insensitively
func ExcludeCities(records []contact.Record, rules contact.OptCityRules) []contact.Record {
	out := make([]contact.Record, 0, len(records))
	for _, rec := range records {
		if !IsExcludedCity(rec.Text(contact.FieldCity), rules) {
			out = append(out, rec)
		}
	}
	return out
}

// IsExcludedCity reports whether a city matches the OPT exclusion list
func IsExcludedCity(city string, rules contact.OptCityRules) bool {
	city = strings.ToLower(city)
	for _, sub := range rules.CitySubstrings {
		if strings.Contains(city, sub) {
			return true
		}
	}
	return false
}

// ParsePostalCode keeps the first five characters once spaces are removed.
// Unparseable values become 0; mailing tools expect a bare number.
func ParsePostalCode(s string) int {
	compact := []rune(strings.Join(strings.Fields(s), ""))
	if len(compact) > 5 {
		compact = compact[:5]
	}
	for _, r := range compact {
		if r < '0' || r > '9' {
			return 0
		}
	}
	n, err := strconv.Atoi(string(compact))
	if err != nil {
		return 0
	}
	return n
}
