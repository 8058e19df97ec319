package cardgen

import (
	"crypto/rand"
	"fmt"
	"strings"
)

const (
	panLen = 16
	binLen = 6
)

// Generate returns a 16-digit PAN: the 6-digit BIN, 9 uniformly random digits
// and a Luhn check digit.
func Generate(bin string) (string, error) {
	if err := ValidateBIN(bin); err != nil {
		return "", err
	}

	digits, err := randomDigits(panLen - 1 - len(bin))
	if err != nil {
		return "", fmt.Errorf("rand: %w", err)
	}

	body := bin + digits
	return body + string('0'+byte(LuhnCheckDigit(body))), nil
}

// randomDigits draws count decimal digits from crypto/rand. Bytes >= 250 are
// rejected so that byte%10 stays uniform over 0-9.
func randomDigits(count int) (string, error) {
	if count <= 0 {
		return "", nil
	}
	const threshold = 250
	var sb strings.Builder
	sb.Grow(count)
	buf := make([]byte, 32)
	for sb.Len() < count {
		n, err := rand.Read(buf)
		if err != nil {
			return "", err
		}
		for i := 0; i < n && sb.Len() < count; i++ {
			if buf[i] < threshold {
				sb.WriteByte('0' + buf[i]%10)
			}
		}
	}
	return sb.String(), nil
}

// LuhnCheckDigit computes the digit that makes body+digit pass the Luhn check.
// Scanning right to left, the 1st, 3rd, ... digits are doubled.
func LuhnCheckDigit(body string) int {
	sum, dbl := 0, true
	for i := len(body) - 1; i >= 0; i-- {
		d := int(body[i] - '0')
		if dbl {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		dbl = !dbl
	}
	return (10 - sum%10) % 10
}

// ValidatePAN checks that pan is 16 digits with a valid Luhn check digit.
func ValidatePAN(pan string) error {
	if len(pan) != panLen {
		return fmt.Errorf("pan must be %d digits (got %d)", panLen, len(pan))
	}
	if !IsDigits(pan) {
		return fmt.Errorf("pan must contain digits only")
	}
	body := pan[:panLen-1]
	if int(pan[panLen-1]-'0') != LuhnCheckDigit(body) {
		return fmt.Errorf("invalid luhn check digit")
	}
	return nil
}

func ValidateBIN(bin string) error {
	if bin == "" {
		return fmt.Errorf("bin is required")
	}
	if !IsDigits(bin) {
		return fmt.Errorf("bin must contain digits only")
	}
	if len(bin) != binLen {
		return fmt.Errorf("bin must be %d digits", binLen)
	}
	return nil
}

func IsDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// NormalizePAN strips spaces, tabs and dashes.
func NormalizePAN(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '-':
			return -1
		default:
			return r
		}
	}, s)
}

// GenerateUnique keeps generating until exists reports the PAN as unused.
func GenerateUnique(bin string, maxRetries int, exists func(string) (bool, error)) (string, error) {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	for i := 0; i <= maxRetries; i++ {
		pan, err := Generate(bin)
		if err != nil {
			return "", err
		}
		if exists == nil {
			return pan, nil
		}
		used, err := exists(pan)
		if err != nil {
			return "", fmt.Errorf("exists callback: %w", err)
		}
		if !used {
			return pan, nil
		}
	}
	return "", fmt.Errorf("failed to generate unique PAN after %d retries", maxRetries)
}
