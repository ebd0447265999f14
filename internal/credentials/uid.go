// Package credentials turns pasted card identifiers into canonical UIDs.
package credentials

import (
	"regexp"
	"strings"
)

var (
	groupedUID = regexp.MustCompile(`^[0-9A-F]{2}[:-][0-9A-F]{2}[:-][0-9A-F]{2}[:-][0-9A-F]{2}$`)
	shortUID   = regexp.MustCompile(`^[0-9A-F]{8}$`)
	longUID    = regexp.MustCompile(`^[0-9A-F]{12,16}$`)
)

// Key returns the comparison key of a UID: hex digits only, upper-cased.
// Two UIDs denote the same credential iff their keys are equal.
func Key(uid string) string {
	var b strings.Builder
	b.Grow(len(uid))
	for _, r := range strings.ToUpper(strings.TrimSpace(uid)) {
		switch r {
		case ':', '-', ' ':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Equal reports whether a and b are the same credential
func Equal(a, b string) bool {
	ka := Key(a)
	return ka != "" && ka == Key(b)
}

// Valid reports whether token is an accepted UID spelling
func Valid(token string) bool {
	upper := strings.ToUpper(strings.TrimSpace(token))
	return groupedUID.MatchString(upper) || shortUID.MatchString(upper) || longUID.MatchString(upper)
}

// Normalize returns the stored form of a valid UID. Bare 8-digit UIDs are
// grouped with colons; every other accepted form is upper-cased as given.
func Normalize(token string) string {
	upper := strings.ToUpper(strings.TrimSpace(token))
	if shortUID.MatchString(upper) {
		return upper[0:2] + ":" + upper[2:4] + ":" + upper[4:6] + ":" + upper[6:8]
	}
	return upper
}
