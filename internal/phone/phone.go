// ABOUTME: Canonicalizes raw chat identities (phone numbers) into E.164 keys
// ABOUTME: Also derives the channel-specific delivery form for Argentine mobiles

package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// Identity is the result of normalizing a raw sender identity.
type Identity struct {
	Canonical string // E.164 when Valid, otherwise the best-effort pass-through
	Raw       string // input as received
	Valid     bool   // false when the number could not be parsed as a valid number
}

// Normalize converts a raw identity into its canonical form. It never fails:
// identities that cannot be parsed are returned with Valid set to false so the
// caller can log them and still use Canonical as a lookup key.
func Normalize(raw string) Identity {
	id := Identity{Raw: raw}

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return id
	}

	candidate := trimmed
	if !strings.HasPrefix(candidate, "+") {
		candidate = "+" + candidate
	}
	id.Canonical = candidate

	num, err := phonenumbers.Parse(candidate, "")
	if err != nil {
		return id
	}
	if !phonenumbers.IsValidNumber(num) {
		return id
	}

	id.Canonical = phonenumbers.Format(num, phonenumbers.E164)
	id.Valid = true
	return id
}

// Canonical is shorthand for Normalize(raw).Canonical.
func Canonical(raw string) string {
	return Normalize(raw).Canonical
}
