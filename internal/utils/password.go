package utils

import (
	"regexp"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

var phonePattern = regexp.MustCompile(`^01[0-9]{9}$`)

// HashPassword returns bcrypt hash using the given cost.
func HashPassword(plain string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyPassword safely compares bcrypt hash and plain password.
func VerifyPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// StrongPassword requires at least 6 characters including a letter, a digit
// and a symbol.
func StrongPassword(p string) bool {
	if len(p) < 6 {
		return false
	}
	var letter, digit, special bool
	for _, r := range p {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}
	return letter && digit && special
}

// ValidPhone accepts mobile numbers written as 01 followed by nine digits,
// after separators are removed.
func ValidPhone(p string) bool {
	return phonePattern.MatchString(DigitsOnly(p))
}
