package contact

// OptCityRules drops OPT rows whose city contains one of the substrings.
// These are internal and test addresses, not real participants.
type OptCityRules struct {
	CitySubstrings []string
}

// GagEmailRules decides which GAG entrants can never be drawn
type GagEmailRules struct {
	DisallowedDomains []string
	Keywords          []string
	// MinDigitRun is the length of a run of consecutive digits that excludes an address
	MinDigitRun int
	// MaxDomainLength excludes domains strictly longer than this many characters
	MaxDomainLength int
}

// DefaultOptCityRules is the canonical OPT exclusion set
var DefaultOptCityRules = OptCityRules{
	CitySubstrings: []string{"emerainville", "ozoir la ferriere"},
}

// DefaultGagEmailRules is the canonical GAG exclusion set
var DefaultGagEmailRules = GagEmailRules{
	DisallowedDomains: []string{
		"free.fr",
		"sfr.fr",
		"bouygtel.fr",
		"orange.fr",
		"bbox.fr",
		"laposte.net",
		"numericable.fr",
		"neuf.fr",
	},
	Keywords:        []string{"concours", "jeu", "jeux"},
	MinDigitRun:     3,
	MaxDomainLength: 20,
}
