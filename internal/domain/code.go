package domain

import (
	"math/rand"
	"strings"
	"unicode"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NormalizeAccessCode strips whitespace, dashes and underscores and uppercases
// the rest, so "ab-12 cd" and "AB12CD" resolve identically.
func NormalizeAccessCode(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if unicode.IsSpace(r) || r == '-' || r == '_' {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// GenerateAccessCode returns a random uppercase alphanumeric code between 6
// and 12 characters. Uniqueness is enforced by the caller against the store.
func GenerateAccessCode(rnd *rand.Rand) string {
	length := 6 + rnd.Intn(7)
	b := make([]byte, length)
	for i := range b {
		b[i] = codeAlphabet[rnd.Intn(len(codeAlphabet))]
	}
	return string(b)
}
