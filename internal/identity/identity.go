// Package identity models the claimed display name of a participant and
// its normalized "skeleton" form, used by the room roster as a uniqueness
// key so visually confusable names collide.
package identity

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// MaxDisplayNameBytes bounds a display name's UTF-8 encoded length.
const MaxDisplayNameBytes = 256

// User is the immutable identity of a registered participant.
type User struct {
	DisplayName    string
	NormalizedName string
}

// confusables folds a small, bounded set of Latin/Cyrillic/Greek lookalike
// characters onto a canonical Latin letter. This is intentionally not a
// whole-script confusable table: the spec accepts "homoglyph-safe but not
// whole-script-safe" and this covers the characters that show up in
// practice rather than the full Unicode confusables annex.
var confusables = map[rune]rune{
	'а': 'a', // Cyrillic a
	'е': 'e', // Cyrillic ie
	'о': 'o', // Cyrillic o
	'р': 'p', // Cyrillic er
	'с': 'c', // Cyrillic es
	'у': 'y', // Cyrillic u
	'х': 'x', // Cyrillic ha
	'і': 'i', // Cyrillic/Ukrainian byelorussian-ukrainian i
	'ѕ': 's', // Cyrillic dze
	'ј': 'j', // Cyrillic je
	'ᴀ': 'a',
	'ɑ': 'a',
	'Α': 'A', // Greek Alpha
	'Β': 'B', // Greek Beta
	'Ε': 'E', // Greek Epsilon
	'Ζ': 'Z', // Greek Zeta
	'Η': 'H', // Greek Eta
	'Ι': 'I', // Greek Iota
	'Κ': 'K', // Greek Kappa
	'Μ': 'M', // Greek Mu
	'Ν': 'N', // Greek Nu
	'Ο': 'O', // Greek Omicron
	'Ρ': 'P', // Greek Rho
	'Τ': 'T', // Greek Tau
	'Υ': 'Y', // Greek Upsilon
	'Χ': 'X', // Greek Chi
	'ο': 'o', // Greek omicron
	'ν': 'v', // Greek nu
}

// New validates a raw display name and computes its skeleton. It returns
// (User{}, false) when the trimmed name is empty or the raw name exceeds
// MaxDisplayNameBytes; the caller maps that to the wire's
// EmptyName/NameTooLong room errors. The display name is stored exactly as
// submitted: only the uniqueness key is normalized.
func New(raw string) (User, bool) {
	if strings.TrimSpace(raw) == "" {
		return User{}, false
	}
	if len(raw) > MaxDisplayNameBytes {
		return User{}, false
	}
	return User{DisplayName: raw, NormalizedName: Skeleton(raw)}, true
}

// collapseWhitespace trims leading/trailing whitespace and collapses any
// interior run of whitespace to a single space.
func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// Skeleton computes the normalized uniqueness key for a display name:
// whitespace collapsed, NFKD decomposition, combining marks stripped,
// confusables folded, then lower-cased. Two display names with the same
// skeleton are considered the same identity by the room roster.
func Skeleton(s string) string {
	decomposed := norm.NFKD.String(collapseWhitespace(s))

	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			// Combining mark produced by NFKD decomposition; drop it so
			// "é" and "e" fold to the same skeleton.
			continue
		}
		if folded, ok := confusables[r]; ok {
			r = folded
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
