// Package keys builds Redis keys and request fingerprints for the run ledger.
package keys

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const maxRunIDLen = 128

var punctSpace = regexp.MustCompile(`\s*([=<>!\.,\(\)])\s*`)

// Run is the ledger key for a run ID.
func Run(runID string) string {
	id := sanitizeForKey(strings.TrimSpace(runID))
	if len(id) > maxRunIDLen {
		id = id[:maxRunIDLen]
	}
	return "run:" + id
}

// Request fingerprints a datacube request. Geometry spacing and indicator case
// do not change the result; indicator order does.
func Request(geometryWKT, start, end string, indicators []string) string {
	inds := make([]string, len(indicators))
	for i, s := range indicators {
		inds[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	text := strings.Join([]string{
		normalizeGeometry(geometryWKT),
		strings.TrimSpace(start),
		strings.TrimSpace(end),
		strings.Join(inds, ","),
	}, "|")
	return fmt.Sprintf("%016x", xxhash.Sum64String(text))
}

func normalizeGeometry(s string) string {
	if s == "" {
		return ""
	}
	s = collapseASCIIWhitespace(strings.TrimSpace(s))
	return strings.ToUpper(punctSpace.ReplaceAllString(s, "$1"))
}

func sanitizeForKey(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case isASCIISpace(r):
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-':
			out = r
		default:
			// Any other rune (including ':' and non-ASCII) becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

// converts any run of ASCII whitespace to a single space.
func collapseASCIIWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	wasWS := false
	for _, r := range s {
		if isASCIISpace(r) {
			if !wasWS {
				b.WriteByte(' ')
				wasWS = true
			}
			continue
		}
		b.WriteRune(r)
		wasWS = false
	}
	return strings.TrimSpace(b.String())
}

func isASCIISpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f'
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r < unicode.MaxASCII && unicode.IsDigit(r))
}
