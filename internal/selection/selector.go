// Package selection draws GAG winners from a cleaned entrant table.
//
// Eligible entrants are ordered female first, then male, each group keeping file
// order; the first quota entries win. Everyone else, ineligible entrants included,
// is kept as a reserve in file order.
package selection

import (
	"fmt"
	"strings"

	"github.com/Niakdashit/Tirages-jeux/domain/contact"
	apperrors "github.com/Niakdashit/Tirages-jeux/internal/errors"
)

const (
	femalePrefix = "femme"
	malePrefix   = "homme"
)

// Stats describes how a draw was made
type Stats struct {
	Eligible   int                     `json:"eligible"`
	Female     int                     `json:"female"`
	Male       int                     `json:"male"`
	Unassigned int                     `json:"unassigned"`
	Excluded   map[ExclusionReason]int `json:"excluded"`
}

// Select partitions a cleaned table into winners and reserves
func Select(t contact.Table, quota int, rules contact.GagEmailRules) (contact.Partition, Stats, error) {
	stats := Stats{Excluded: make(map[ExclusionReason]int)}

	if quota < 1 {
		return contact.Partition{}, stats, apperrors.InvalidInput(fmt.Sprintf("quota must be a positive integer, got %d", quota))
	}
	if !t.Has(contact.FieldCivility) {
		found := make([]string, len(t.Columns))
		expected := make([]string, len(t.Columns)+1)
		for i, c := range t.Columns {
			found[i] = contact.DefaultAliases.DisplayName(c)
			expected[i] = found[i]
		}
		expected[len(t.Columns)] = contact.DefaultAliases.DisplayName(contact.FieldCivility)
		return contact.Partition{}, stats, apperrors.MissingColumn(
			[]string{contact.DefaultAliases.DisplayName(contact.FieldCivility)}, expected, found)
	}

	var female, male []int
	for i, rec := range t.Records {
		if reason := ExclusionFor(rec.Text(contact.FieldEmail), rules); reason != ReasonNone {
			stats.Excluded[reason]++
			continue
		}
		stats.Eligible++

		civility := strings.ToLower(strings.TrimSpace(rec.Text(contact.FieldCivility)))
		switch {
		case strings.HasPrefix(civility, femalePrefix):
			female = append(female, i)
		case strings.HasPrefix(civility, malePrefix):
			male = append(male, i)
		default:
			stats.Unassigned++
		}
	}
	stats.Female, stats.Male = len(female), len(male)

	candidates := append(female, male...)
	if len(candidates) > quota {
		candidates = candidates[:quota]
	}

	won := make(map[int]bool, len(candidates))
	winners := make([]contact.Record, 0, len(candidates))
	for _, idx := range candidates {
		won[idx] = true
		winners = append(winners, t.Records[idx])
	}

	reserves := make([]contact.Record, 0, len(t.Records)-len(winners))
	for i, rec := range t.Records {
		if !won[i] {
			reserves = append(reserves, rec)
		}
	}

	columns := append([]contact.Field(nil), t.Columns...)
	return contact.Partition{
		Winners:  contact.Table{Columns: columns, Records: winners},
		Reserves: contact.Table{Columns: columns, Records: reserves},
	}, stats, nil
}
