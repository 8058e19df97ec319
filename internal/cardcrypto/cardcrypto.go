// Package cardcrypto encrypts card numbers at rest and derives their masked
// display form. Nothing here keeps state between calls.
package cardcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrCrypto is returned for a missing or malformed key and for ciphertext that
// cannot be decrypted.
var ErrCrypto = errors.New("card crypto failure")

const (
	AlgorithmAESGCM            = "aes-gcm"
	AlgorithmXChaCha20Poly1305 = "xchacha20-poly1305"
)

const (
	// MinMaskLength is the shortest input that gets its last 4 digits shown.
	MinMaskLength = 16
	// FullyMasked is returned for inputs too short to be a PAN.
	FullyMasked = "**** **** **** ****"
	maskPrefix  = "**** **** **** "
)

// Cipher seals and opens card numbers. Implementations may be software AEADs
// or an HSM session.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Service is the card number crypto facade used by the card registry.
type Service struct {
	cipher Cipher
}

// New builds a Service with a software AEAD selected by algorithm. An empty
// algorithm defaults to AES-GCM.
func New(algorithm string, key []byte) (*Service, error) {
	c, err := NewAEAD(algorithm, key)
	if err != nil {
		return nil, err
	}
	return &Service{cipher: c}, nil
}

// NewWithCipher wraps an already configured Cipher, e.g. the PKCS#11 one.
func NewWithCipher(c Cipher) *Service {
	return &Service{cipher: c}
}

// Mask renders "**** **** **** 1234". It never exposes more than the last 4
// characters and is not reversible.
func Mask(pan string) string {
	if len(pan) < MinMaskLength {
		return FullyMasked
	}
	return maskPrefix + pan[len(pan)-4:]
}

// Mask is a convenience so the registry can depend on the service alone.
func (s *Service) Mask(pan string) string {
	return Mask(pan)
}

// Encrypt returns base64(nonce || sealed pan).
func (s *Service) Encrypt(pan string) (string, error) {
	if s == nil || s.cipher == nil {
		return "", fmt.Errorf("encrypt: no key configured: %w", ErrCrypto)
	}
	out, err := s.cipher.Encrypt([]byte(pan))
	if err != nil {
		return "", fmt.Errorf("encrypt: %w: %w", ErrCrypto, err)
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

func (s *Service) Decrypt(ciphertext string) (string, error) {
	if s == nil || s.cipher == nil {
		return "", fmt.Errorf("decrypt: no key configured: %w", ErrCrypto)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ciphertext))
	if err != nil {
		return "", fmt.Errorf("decrypt: decode: %w: %w", ErrCrypto, err)
	}
	out, err := s.cipher.Decrypt(raw)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w: %w", ErrCrypto, err)
	}
	return string(out), nil
}

// NewAEAD validates the key for the algorithm and returns a nonce-prefixing
// Cipher around it.
func NewAEAD(algorithm string, key []byte) (Cipher, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("encryption key is required: %w", ErrCrypto)
	}

	var (
		aead cipher.AEAD
		err  error
	)
	switch strings.ToLower(algorithm) {
	case "", AlgorithmAESGCM:
		switch len(key) {
		case 16, 24, 32:
		default:
			return nil, fmt.Errorf("aes key must be 16, 24 or 32 bytes (got %d): %w", len(key), ErrCrypto)
		}
		block, berr := aes.NewCipher(key)
		if berr != nil {
			return nil, fmt.Errorf("aes: %w: %w", ErrCrypto, berr)
		}
		aead, err = cipher.NewGCM(block)
	case AlgorithmXChaCha20Poly1305:
		if len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("xchacha20 key must be %d bytes (got %d): %w", chacha20poly1305.KeySize, len(key), ErrCrypto)
		}
		aead, err = chacha20poly1305.NewX(key)
	default:
		return nil, fmt.Errorf("unsupported algorithm %q: %w", algorithm, ErrCrypto)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", algorithm, ErrCrypto, err)
	}
	return &aeadCipher{aead: aead}, nil
}

type aeadCipher struct {
	aead cipher.AEAD
}

func (c *aeadCipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (c *aeadCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(ciphertext) < ns+c.aead.Overhead() {
		return nil, errors.New("ciphertext too short")
	}
	return c.aead.Open(nil, ciphertext[:ns], ciphertext[ns:], nil)
}

// Wipe zeroes a key buffer. Go gives no guarantee the bytes are not copied
// elsewhere.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
