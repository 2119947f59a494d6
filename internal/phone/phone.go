// Package phone validates local mobile numbers and converts them to the
// international form expected by the identity provider.
package phone

import (
	"regexp"
	"strings"
)

// DefaultCountryCode is prepended by Format when no other code is configured.
const DefaultCountryCode = "+64"

// local mobile numbers: "0", "2", one digit, then 7 or 8 digits.
var localPattern = regexp.MustCompile(`^0[2][0-9]\d{7,8}$`)

// IsValid reports whether s is a local mobile number.
func IsValid(s string) bool {
	return localPattern.MatchString(s)
}

// Format strips the leading zeros of s and prepends countryCode.
func Format(s, countryCode string) string {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	return countryCode + strings.TrimLeft(s, "0")
}
