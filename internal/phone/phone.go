// Package phone normalizes recipient numbers into the digits-only
// international form WhatsApp addresses use.
package phone

import "strings"

// Policy turns a user-entered phone number into a WhatsApp user id. An empty
// result means the input holds no usable digits.
type Policy interface {
	Normalize(raw string) string
}

// CountryCode normalizes national numbers for a single country: a leading
// trunk 0 is replaced with Code and numbers without Code get it prefixed.
// A leading 00 is the international access prefix and is dropped.
type CountryCode struct {
	Code string
}

// Indonesia is the default policy for registrations entered as 08xx.
var Indonesia = CountryCode{Code: "62"}

// Normalize implements Policy.
func (c CountryCode) Normalize(raw string) string {
	d := Digits(raw)
	if d == "" {
		return ""
	}
	switch {
	case strings.HasPrefix(d, "00"):
		d = d[2:]
		if strings.Trim(d, "0") == "" {
			return ""
		}
		return d
	case strings.HasPrefix(d, "0"):
		d = d[1:]
		if d == "" {
			return ""
		}
		return c.Code + d
	case strings.HasPrefix(d, c.Code):
		return d
	default:
		return c.Code + d
	}
}

// Passthrough keeps only the digits, for numbers already entered in
// international form.
type Passthrough struct{}

// Normalize implements Policy.
func (Passthrough) Normalize(raw string) string {
	return Digits(raw)
}

// Digits strips every non-digit character.
func Digits(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ForCountry returns the policy for a configured country code. An empty code
// selects Passthrough.
func ForCountry(code string) Policy {
	if code == "" {
		return Passthrough{}
	}
	return CountryCode{Code: code}
}
