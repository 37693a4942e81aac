package models

import "strings"

// Principal is an authenticated identity issued by the external auth system.
// It is referenced by id and never stored or mutated here.
type Principal struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// NormalisedEmail returns the lower-cased, trimmed email used for comparisons.
func (p Principal) NormalisedEmail() string {
	return NormaliseEmail(p.Email)
}

// NormaliseEmail lower-cases and trims an email address.
func NormaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
