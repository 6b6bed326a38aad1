package matcher

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// corporateSuffixes are trailing tokens dropped from a normalized name.
// Stripping repeats, so "acme holdings co ltd" loses both "co" and "ltd".
var corporateSuffixes = map[string]bool{
	"inc": true, "incorporated": true,
	"corp": true, "corporation": true,
	"llc": true, "llp": true, "lp": true,
	"ltd": true, "limited": true,
	"co": true, "company": true,
	"plc": true,
	"gmbh": true, "ag": true, "kg": true,
	"sa": true, "sas": true, "srl": true, "spa": true,
	"nv": true, "bv": true, "ab": true, "as": true, "oy": true,
	"kk": true, "pty": true,
}

// abbrevReplacer drops dots and apostrophes so "S.A." and "L.L.C." collapse
// into suffix tokens before the remaining punctuation becomes whitespace.
var abbrevReplacer = strings.NewReplacer(
	".", "",
	"'", "",
	"’", "",
	"&", " and ",
)

// foldDiacritics decomposes compatibility forms and drops combining marks,
// turning "Société Générale" into "Societe Generale".
func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Normalize reduces an ownership string to the form used for matching:
// folded to ASCII where possible, lowercased, "&" spelled "and", punctuation
// replaced by spaces, trailing corporate suffixes removed and whitespace
// collapsed. Normalize("Acme Widgets, Inc.") == "acme widgets".
func Normalize(s string) string {
	s = foldDiacritics(s)
	s = strings.ToLower(s)
	s = abbrevReplacer.Replace(s)

	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, s)

	fields := strings.Fields(s)
	for len(fields) > 1 && corporateSuffixes[fields[len(fields)-1]] {
		fields = fields[:len(fields)-1]
	}
	return strings.Join(fields, " ")
}
