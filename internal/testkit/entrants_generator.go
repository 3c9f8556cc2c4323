// Package testkit generates synthetic partner exports with a known ground truth,
// for tests that need volume or header variety beyond hand-written fixtures.
package testkit

import (
	"bytes"
	"fmt"
	"math/rand"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/Niakdashit/Tirages-jeux/domain/contact"
)

// PartnerColumn is the opt-in column written by the generator
const PartnerColumn = "Partenaire - Homair"

// EntrantGeneratorConfig configures the export generator
type EntrantGeneratorConfig struct {
	EntrantCount      int     `json:"entrant_count"`
	DuplicateRate     float64 `json:"duplicate_rate"`
	OptInRate         float64 `json:"opt_in_rate"`
	FemaleRate        float64 `json:"female_rate"`
	ExcludedEmailRate float64 `json:"excluded_email_rate"`
	ExcludedCityRate  float64 `json:"excluded_city_rate"`
	// HeaderVariant picks one spelling per column from the known upstream aliases
	HeaderVariant int   `json:"header_variant"`
	Seed          int64 `json:"seed"`
}

// DefaultEntrantConfig returns a mid-sized export with every kind of noise
func DefaultEntrantConfig() EntrantGeneratorConfig {
	return EntrantGeneratorConfig{
		EntrantCount:      500,
		DuplicateRate:     0.1,
		OptInRate:         0.6,
		FemaleRate:        0.55,
		ExcludedEmailRate: 0.15,
		ExcludedCityRate:  0.05,
		Seed:              42,
	}
}

// Manifest is the ground truth of a generated export. Counts cover unique
// entrants only, duplicates are counted separately.
type Manifest struct {
	Rows              int
	Unique            int
	Duplicates        int
	OptedInUnique     int
	OptedInDuplicates int
	ExcludedCities    int // among opted-in unique entrants
	ExcludedEmails    int
	EligibleFemale    int
	EligibleMale      int
}

// Eligible is the number of unique entrants a draw can pick from
func (m Manifest) Eligible() int {
	return m.EligibleFemale + m.EligibleMale
}

// EntrantGenerator builds reproducible exports from a seed
type EntrantGenerator struct {
	config EntrantGeneratorConfig
	rng    *rand.Rand
}

// NewEntrantGenerator creates a generator; the same config always yields the same export
func NewEntrantGenerator(config EntrantGeneratorConfig) *EntrantGenerator {
	return &EntrantGenerator{
		config: config,
		rng:    rand.New(rand.NewSource(config.Seed)),
	}
}

var headerVariants = [][]string{
	{"Civilité", "Nom", "Prénom", "Adresse", "Code Postal", "Ville", "Tel", "Email"},
	{"Civ", "Nom de famille", "Prenom", "Adresse postale", "CP", "Commune", "Portable", "E-mail"},
	{"CIVILITE", "NOM", "PRENOM", "ADRESSE", "code_postal", "VILLE", "Téléphone", "Courriel"},
}

var (
	femaleFirstNames = []string{"marie", "JEANNE", "Élodie", "camille", "Hélène", "louise", "Inès"}
	maleFirstNames   = []string{"louis", "PIERRE", "Jérôme", "antoine", "François", "hugo", "Noël"}
	lastNames        = []string{"curie", "PASTEUR", "de la fontaine", "Lefèvre", "martin", "Béranger", "dupont"}
	streets          = []string{"rue de la paix", "AVENUE FOCH", "chemin des écoliers", "boulevard Haussmann"}
	cities           = []struct {
		name string
		code int
	}{
		{"Paris", 75012}, {"lyon", 69003}, {"Nohant-Vic", 36400}, {"DOLE", 39100}, {"Nice", 6000},
	}
	excludedCities = []string{"Emerainville", "OZOIR LA FERRIERE"}
	openDomains    = []string{"gmail.com", "yahoo.fr", "hotmail.com", "outlook.fr", "icloud.com"}
	blockedEmails  = []func(local string) string{
		func(local string) string { return local + "@orange.fr" },
		func(local string) string { return local + ".concours@gmail.com" },
		func(local string) string { return local + "777@yahoo.fr" },
		func(local string) string { return local + "@une-adresse-bien-trop-longue.fr" },
	}
)

// Generate returns the export and its ground truth
func (g *EntrantGenerator) Generate() (contact.RawTable, Manifest) {
	headers := append([]string(nil), headerVariants[g.config.HeaderVariant%len(headerVariants)]...)
	headers = append(headers, PartnerColumn)

	table := contact.RawTable{Headers: headers}
	var manifest Manifest

	for i := 0; i < g.config.EntrantCount; i++ {
		if len(table.Rows) > 0 && g.rng.Float64() < g.config.DuplicateRate {
			original := table.Rows[g.rng.Intn(len(table.Rows))]
			table.Rows = append(table.Rows, g.duplicateOf(original, headers))
			manifest.Duplicates++
			if original[PartnerColumn].IsTrue() {
				manifest.OptedInDuplicates++
			}
			continue
		}

		row, entrant := g.entrant(manifest.Unique, headers)
		table.Rows = append(table.Rows, row)
		manifest.Unique++

		if entrant.optIn {
			manifest.OptedInUnique++
			if entrant.excludedCity {
				manifest.ExcludedCities++
			}
		}
		switch {
		case entrant.excludedEmail:
			manifest.ExcludedEmails++
		case entrant.female:
			manifest.EligibleFemale++
		default:
			manifest.EligibleMale++
		}
	}

	manifest.Rows = len(table.Rows)
	return table, manifest
}

type entrantTruth struct {
	female        bool
	optIn         bool
	excludedEmail bool
	excludedCity  bool
}

// entrant builds one unique row. The e-mail local part encodes the index in
// letters so unique entrants never collide and never trip the digit-run rule.
func (g *EntrantGenerator) entrant(index int, headers []string) (contact.RawRecord, entrantTruth) {
	truth := entrantTruth{
		female: g.rng.Float64() < g.config.FemaleRate,
		optIn:  g.rng.Float64() < g.config.OptInRate,
	}

	civility, first := "Homme", pick(g.rng, maleFirstNames)
	if truth.female {
		civility, first = "Femme", pick(g.rng, femaleFirstNames)
	}
	last := pick(g.rng, lastNames)
	local := asciiLocal(first) + "." + letterIndex(index)

	email := local + "@" + pick(g.rng, openDomains)
	if g.rng.Float64() < g.config.ExcludedEmailRate {
		truth.excludedEmail = true
		email = pick(g.rng, blockedEmails)(local)
	}

	city := cities[g.rng.Intn(len(cities))]
	cityName := city.name
	if g.rng.Float64() < g.config.ExcludedCityRate {
		truth.excludedCity = true
		cityName = pick(g.rng, excludedCities)
	}
	postal := contact.IntCell(city.code)
	if g.rng.Intn(4) == 0 {
		code := fmt.Sprintf("%05d", city.code)
		postal = contact.TextCell(code[:2] + " " + code[2:])
	}

	values := []contact.Cell{
		contact.TextCell(civility),
		contact.TextCell(last),
		contact.TextCell(first),
		contact.TextCell(fmt.Sprintf("%d %s", 1+g.rng.Intn(120), pick(g.rng, streets))),
		postal,
		contact.TextCell(cityName),
		contact.TextCell(fmt.Sprintf("6%08d", g.rng.Intn(100000000))),
		contact.TextCell(email),
	}
	row := make(contact.RawRecord, len(headers))
	for i, v := range values {
		row[headers[i]] = v
	}
	row[PartnerColumn] = contact.BoolCell(truth.optIn)
	return row, truth
}

// duplicateOf re-submits an entrant with the same e-mail and a different
// spelling of the name
func (g *EntrantGenerator) duplicateOf(original contact.RawRecord, headers []string) contact.RawRecord {
	dup := make(contact.RawRecord, len(original))
	for k, v := range original {
		dup[k] = v
	}
	last := headers[1]
	dup[last] = contact.TextCell(strings.ToUpper(original[last].String()))
	return dup
}

func pick[T any](rng *rand.Rand, items []T) T {
	return items[rng.Intn(len(items))]
}

var asciiFold = strings.NewReplacer("é", "e", "É", "e", "è", "e", "ê", "e", "ô", "o", "ç", "c", "ë", "e", "ï", "i")

func asciiLocal(name string) string {
	return strings.ToLower(asciiFold.Replace(name))
}

func letterIndex(n int) string {
	s := ""
	for {
		s = string(rune('a'+n%26)) + s
		n = n/26 - 1
		if n < 0 {
			return s
		}
	}
}

// TSV renders the export as a tab-separated file
func TSV(table contact.RawTable) []byte {
	var buf bytes.Buffer
	buf.WriteString(strings.Join(table.Headers, "\t"))
	buf.WriteByte('\n')
	for _, row := range table.Rows {
		for i, h := range table.Headers {
			if i > 0 {
				buf.WriteByte('\t')
			}
			buf.WriteString(row[h].String())
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Workbook renders the export as an xlsx workbook with typed cells
func Workbook(table contact.RawTable) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Sheet1"
	header := make([]interface{}, len(table.Headers))
	for i, h := range table.Headers {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, err
	}

	for r, row := range table.Rows {
		values := make([]interface{}, len(table.Headers))
		for i, h := range table.Headers {
			c := row[h]
			switch c.Kind {
			case contact.CellNumber:
				values[i] = c.Number
			case contact.CellBool:
				values[i] = c.Bool
			case contact.CellText:
				values[i] = c.Text
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
