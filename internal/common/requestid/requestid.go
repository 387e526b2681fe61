package requestid

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// Header carries the request id in both directions.
const Header = "X-Request-ID"

const (
	// MaxLength matches a UUID string.
	MaxLength = 36
	// PrefixLength is the random prefix put in front of client supplied ids.
	PrefixLength = 5
	// MaxCustomLength is what remains of a client id after "{prefix}-".
	MaxCustomLength = MaxLength - PrefixLength - 1
)

// Generate returns a request id. A client supplied id is reduced to
// [a-zA-Z0-9-], capped, and prefixed with random hex so ids stay unique:
// "3fa9c-order-42". Without a usable client id a UUID is returned.
func Generate(clientID string) string {
	sanitized := sanitize(clientID)
	if sanitized == "" {
		return uuid.New().String()
	}

	if len(sanitized) > MaxCustomLength {
		sanitized = strings.TrimSuffix(sanitized[:MaxCustomLength], "-")
	}
	return randomPrefix() + "-" + sanitized
}

// sanitize keeps letters, digits and single hyphens; spaces become hyphens.
func sanitize(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	lastHyphen := true // drops leading hyphens
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case r == '-' || r == ' ':
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func randomPrefix() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return uuid.New().String()[:PrefixLength]
	}
	return hex.EncodeToString(buf)[:PrefixLength]
}
