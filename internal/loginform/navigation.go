package loginform

import "strings"

// DefaultFormURL is the survey the verified user is sent to.
const DefaultFormURL = "https://lemont.typeform.com/to/n0tcww"

// FormURL appends mobile and code to base. The values are passed through
// as typed, without query escaping.
func FormURL(base, mobile, code string) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "mobile=" + mobile + "&code=" + code
}
