package utils

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
)

// fixedIV keeps encryption deterministic so the ciphertext column can carry
// a unique index and support exact-match lookups.
var fixedIV = []byte("1234567890123456")

var (
	ErrInvalidNationalID = errors.New("national id must be 13 digits")
	ErrDecryptNationalID = errors.New("national id decryption failed")
)

// NationalIDCipher encrypts and decrypts resident registration numbers with
// AES-256-CBC. The same plaintext always yields the same ciphertext.
type NationalIDCipher struct {
	block    cipher.Block
	indexKey []byte
}

// NewNationalIDCipher derives the 32 byte AES key from secret by padding it
// with '0' characters and truncating to 32 bytes. indexSecret keys the HMAC
// blind index; when empty the AES secret is reused.
func NewNationalIDCipher(secret, indexSecret string) (*NationalIDCipher, error) {
	key := secret
	if len(key) < 32 {
		key += strings.Repeat("0", 32-len(key))
	}
	block, err := aes.NewCipher([]byte(key[:32]))
	if err != nil {
		return nil, err
	}
	if indexSecret == "" {
		indexSecret = secret
	}
	return &NationalIDCipher{block: block, indexKey: []byte(indexSecret)}, nil
}

// Encrypt strips separators, checks the 13 digit length and returns the
// base64 ciphertext.
func (c *NationalIDCipher) Encrypt(id string) (string, error) {
	clean := DigitsOnly(id)
	if len(clean) != 13 {
		return "", ErrInvalidNationalID
	}
	plain := pkcs7Pad([]byte(clean), aes.BlockSize)
	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(c.block, fixedIV).CryptBlocks(out, plain)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt.
func (c *NationalIDCipher) Decrypt(enc string) (string, error) {
	if enc == "" {
		return "", ErrDecryptNationalID
	}
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil || len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return "", ErrDecryptNationalID
	}
	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(c.block, fixedIV).CryptBlocks(out, raw)
	plain, err := pkcs7Unpad(out, aes.BlockSize)
	if err != nil || len(plain) != 13 {
		return "", ErrDecryptNationalID
	}
	return string(plain), nil
}

// Index returns the hex HMAC-SHA256 of the normalized id. It backs the unique
// lookup column so that the stored ciphertext is never compared directly.
func (c *NationalIDCipher) Index(id string) string {
	m := hmac.New(sha256.New, c.indexKey)
	m.Write([]byte(DigitsOnly(id)))
	return hex.EncodeToString(m.Sum(nil))
}

// DigitsOnly drops every non-digit rune.
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidateNationalID checks the structural format only: 13 digits, a
// plausible month and day in the birth-date prefix, and a gender digit in
// 1..4.
func ValidateNationalID(id string) bool {
	clean := DigitsOnly(id)
	if len(clean) != 13 {
		return false
	}
	month, _ := strconv.Atoi(clean[2:4])
	day, _ := strconv.Atoi(clean[4:6])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return false
	}
	switch clean[6] {
	case '1', '2', '3', '4':
		return true
	}
	return false
}

// GenderFromNationalID returns "M" for gender digits 1 and 3, "F" for 2 and
// 4, and "" otherwise.
func GenderFromNationalID(id string) string {
	clean := DigitsOnly(id)
	if len(clean) != 13 {
		return ""
	}
	switch clean[6] {
	case '1', '3':
		return "M"
	case '2', '4':
		return "F"
	}
	return ""
}

// MatchesGender reports whether the gender digit of id agrees with gender.
func MatchesGender(id, gender string) bool {
	g := GenderFromNationalID(id)
	return g != "" && g == gender
}

// MaskNationalID keeps the birth date and gender digit: 010203-3******.
func MaskNationalID(id string) string {
	clean := DigitsOnly(id)
	if len(clean) != 13 {
		return "******-*******"
	}
	return clean[:6] + "-" + clean[6:7] + "******"
}

// BirthDatePrefix returns the YYMMDD part of the id.
func BirthDatePrefix(id string) string {
	clean := DigitsOnly(id)
	if len(clean) < 6 {
		return ""
	}
	return clean[:6]
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, ErrDecryptNationalID
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, ErrDecryptNationalID
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, ErrDecryptNationalID
		}
	}
	return b[:len(b)-n], nil
}
