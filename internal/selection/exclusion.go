package selection

import (
	"strings"
	"unicode/utf8"

	"github.com/Niakdashit/Tirages-jeux/domain/contact"
)

// ExclusionReason names the rule that made an entrant ineligible
type ExclusionReason string

const (
	ReasonNone          ExclusionReason = ""
	ReasonDomain        ExclusionReason = "disallowed_domain"
	ReasonKeyword       ExclusionReason = "contest_keyword"
	ReasonDigitRun      ExclusionReason = "digit_run"
	ReasonDomainTooLong ExclusionReason = "domain_too_long"
	ReasonMissingEmail  ExclusionReason = "missing_email"
)

// EmailDomain returns the part after the last "@", or "" when there is none
func EmailDomain(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return ""
	}
	return email[at+1:]
}

// IsExcluded reports whether an entrant can never be drawn
func IsExcluded(email string, rules contact.GagEmailRules) bool {
	return ExclusionFor(email, rules) != ReasonNone
}

// ExclusionFor returns the first rule that excludes the e-mail. A blank address is
// never eligible. Matching is case-insensitive.
func ExclusionFor(email string, rules contact.GagEmailRules) ExclusionReason {
	lower := strings.ToLower(strings.TrimSpace(email))
	if lower == "" {
		// a winner has to be reachable
		return ReasonMissingEmail
	}
	domain := EmailDomain(lower)

	for _, d := range rules.DisallowedDomains {
		if domain == d {
			return ReasonDomain
		}
	}
	for _, kw := range rules.Keywords {
		if strings.Contains(lower, kw) {
			return ReasonKeyword
		}
	}
	if rules.MinDigitRun > 0 && longestDigitRun(lower) >= rules.MinDigitRun {
		return ReasonDigitRun
	}
	if rules.MaxDomainLength > 0 && utf8.RuneCountInString(domain) > rules.MaxDomainLength {
		return ReasonDomainTooLong
	}
	return ReasonNone
}

func longestDigitRun(s string) int {
	longest, run := 0, 0
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			run++
			if run > longest {
				longest = run
			}
			continue
		}
		run = 0
	}
	return longest
}
