package model

import (
	"crypto/sha1" //nolint:gosec // SHA-1 matches the content-addressed log's object ids.
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidIdentifier is returned when a checker UUID string is malformed.
var ErrInvalidIdentifier = errors.New("invalid checker UUID")

// CheckerUUID identifies a checker. It has the form "scheme:id" and is always
// held in normalized form: lower-case scheme, canonical percent escapes.
// The zero value is not a valid UUID.
type CheckerUUID struct {
	scheme string
	id     string
}

// ParseCheckerUUID parses and normalizes s.
func ParseCheckerUUID(s string) (CheckerUUID, error) {
	u, ok := TryParseCheckerUUID(s)
	if !ok {
		return CheckerUUID{}, fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
	}
	return u, nil
}

// MustParseCheckerUUID is like ParseCheckerUUID but panics on invalid input.
// Intended for tests and constants.
func MustParseCheckerUUID(s string) CheckerUUID {
	u, err := ParseCheckerUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// TryParseCheckerUUID is the non-failing counterpart of ParseCheckerUUID.
func TryParseCheckerUUID(s string) (CheckerUUID, bool) {
	colon := strings.IndexByte(s, ':')
	if colon < 0 {
		return CheckerUUID{}, false
	}

	scheme, id := s[:colon], s[colon+1:]
	if !isScheme(scheme) {
		return CheckerUUID{}, false
	}

	normID, ok := normalizeID(id)
	if !ok {
		return CheckerUUID{}, false
	}

	return CheckerUUID{scheme: strings.ToLower(scheme), id: normID}, true
}

// IsCheckerUUID reports whether s is a syntactically valid checker UUID.
func IsCheckerUUID(s string) bool {
	_, ok := TryParseCheckerUUID(s)
	return ok
}

// Scheme returns the lower-case scheme portion.
func (u CheckerUUID) Scheme() string { return u.scheme }

// ID returns the normalized id portion.
func (u CheckerUUID) ID() string { return u.id }

// IsZero reports whether u is the zero value.
func (u CheckerUUID) IsZero() bool { return u.scheme == "" }

// String returns the normalized "scheme:id" form.
func (u CheckerUUID) String() string {
	if u.IsZero() {
		return ""
	}
	return u.scheme + ":" + u.id
}

// Compare orders UUIDs by their normalized string form.
func (u CheckerUUID) Compare(o CheckerUUID) int {
	return strings.Compare(u.String(), o.String())
}

// Digest returns the hex SHA-1 of the normalized string. It is used where
// fixed-length storage keys are required.
func (u CheckerUUID) Digest() string {
	sum := sha1.Sum([]byte(u.String())) //nolint:gosec // see import.
	return hex.EncodeToString(sum[:])
}

// RefName returns the name of the log ref holding this checker's config.
func (u CheckerUUID) RefName() string {
	d := u.Digest()
	return "refs/checkers/" + u.scheme + "/" + d[:2] + "/" + d
}

// MarshalText implements encoding.TextMarshaler.
func (u CheckerUUID) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *CheckerUUID) UnmarshalText(b []byte) error {
	parsed, err := ParseCheckerUUID(string(b))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// isScheme accepts a URI scheme, ALPHA *( ALPHA / DIGIT / "+" / "-" / "." ),
// that is also a single ref path component: no "..", no ".lock" suffix.
func isScheme(s string) bool {
	if s == "" || !isAlpha(s[0]) || strings.Contains(s, "..") || strings.HasSuffix(strings.ToLower(s), ".lock") {
		return false
	}
	for i := 1; i < len(s); i++ {
		c := s[i]
		if !isAlnum(c) && c != '+' && c != '.' && c != '-' {
			return false
		}
	}
	return true
}

// normalizeID validates an opaque id and rewrites its percent escapes into
// canonical form: escapes of unreserved bytes are decoded, the rest are
// upper-cased.
func normalizeID(id string) (string, bool) {
	if id == "" || id[0] == '/' {
		return "", false
	}

	var b strings.Builder
	b.Grow(len(id))

	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c == '%':
			if i+2 >= len(id) || !isHex(id[i+1]) || !isHex(id[i+2]) {
				return "", false
			}
			v := unhex(id[i+1])<<4 | unhex(id[i+2])
			if v < 0x20 || v == 0x7f {
				return "", false
			}
			if isUnreserved(v) {
				b.WriteByte(v)
			} else {
				b.WriteByte('%')
				b.WriteString(strings.ToUpper(id[i+1 : i+3]))
			}
			i += 2
		case isUnreserved(c) || c == ':' || c == '@' || c == '/':
			b.WriteByte(c)
		default:
			return "", false
		}
	}

	return b.String(), true
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isAlnum(c byte) bool {
	return isAlpha(c) || (c >= '0' && c <= '9')
}

func isUnreserved(c byte) bool {
	return isAlnum(c) || c == '-' || c == '.' || c == '_' || c == '~'
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
