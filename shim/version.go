package shim

import "strings"

// Version is a semantic shim version used for pin matching.
type Version struct {
	Major uint32
	Minor uint32
	Patch uint32
}

// ParseVersion parses a version string like "1.21.0" or "1.21".
// A leading "v" is accepted.
func ParseVersion(s string) (Version, bool) {
	s = strings.TrimPrefix(s, "v")
	if s == "" {
		return Version{}, false
	}

	var v Version
	parts := strings.Split(s, ".")
	if len(parts) < 1 || len(parts) > 3 {
		return Version{}, false
	}

	for i, p := range parts {
		if p == "" {
			return Version{}, false
		}
		var n uint32
		for _, c := range p {
			if c < '0' || c > '9' {
				return Version{}, false
			}
			// Check for overflow before multiplication
			if n > 429496729 || (n == 429496729 && c > '5') {
				return Version{}, false
			}
			n = n*10 + uint32(c-'0')
		}
		switch i {
		case 0:
			v.Major = n
		case 1:
			v.Minor = n
		case 2:
			v.Patch = n
		}
	}
	return v, true
}

// Compatible returns true if v can serve a module requiring want:
// same major, and v at least as new as want.
func (v Version) Compatible(want Version) bool {
	if v.Major != want.Major {
		return false
	}
	if v.Minor < want.Minor {
		return false
	}
	if v.Minor == want.Minor && v.Patch < want.Patch {
		return false
	}
	return true
}

// String returns the version as "major.minor.patch"
func (v Version) String() string {
	return strings.Join([]string{
		uintToStr(v.Major),
		uintToStr(v.Minor),
		uintToStr(v.Patch),
	}, ".")
}

func uintToStr(n uint32) string {
	if n == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
