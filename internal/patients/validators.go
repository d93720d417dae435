package patients

import (
	"strings"
	"unicode"
)

// ValidNationalID checks a 10-digit national id against its mod-11 check digit.
func ValidNationalID(id string) bool {
	if len(id) != 10 || !allDigits(id) {
		return false
	}
	if strings.Count(id, id[:1]) == len(id) {
		return false
	}
	sum := 0
	for i := 0; i < 9; i++ {
		sum += int(id[i]-'0') * (10 - i)
	}
	check := int(id[9] - '0')
	rem := sum % 11
	if rem < 2 {
		return check == rem
	}
	return check == 11-rem
}

// ValidPhone accepts 11-digit mobile numbers starting with 09.
func ValidPhone(phone string) bool {
	return len(phone) == 11 && allDigits(phone) && strings.HasPrefix(phone, "09")
}

// NormalizeDigits maps Persian and Arabic-Indic digits to ASCII and drops spaces and dashes.
func NormalizeDigits(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= '۰' && r <= '۹':
			b.WriteRune('0' + (r - '۰'))
		case r >= '٠' && r <= '٩':
			b.WriteRune('0' + (r - '٠'))
		case r == '-' || unicode.IsSpace(r):
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
