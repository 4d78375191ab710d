package booking

import (
	"strings"
	"time"
)

const isoDate = "2006-01-02"

// Date layouts patient forms have arrived in.
var birthDateLayouts = []string{
	isoDate,
	"02.01.2006",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// NormalizePhone strips a phone down to digits. Empty input becomes the
// filler: 1C rejects records without a phone outright.
func NormalizePhone(phone, filler string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return filler
	}
	return b.String()
}

// NormalizeBirthDate renders a birth date as ISO, falling back to the
// first ten characters of whatever came in.
func NormalizeBirthDate(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	for _, layout := range birthDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format(isoDate)
		}
	}
	if len(value) > 10 {
		return value[:10]
	}
	return value
}

// SplitPatientName splits a full name into surname/given/patronymic.
// Extra tokens fold into the patronymic.
func SplitPatientName(fullName string) (surname, given, patronymic string) {
	parts := strings.Fields(strings.TrimSpace(fullName))
	switch len(parts) {
	case 0:
		return "", "", ""
	case 1:
		return parts[0], "", ""
	case 2:
		return parts[0], parts[1], ""
	default:
		return parts[0], parts[1], strings.Join(parts[2:], " ")
	}
}
