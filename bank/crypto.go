package bank

import (
	"fmt"
	"strings"

	"github.com/alovak/bankcards/internal/cardcrypto"
)

// AlgorithmPKCS11 selects the HSM cipher; it needs a softhsm build.
const AlgorithmPKCS11 = "pkcs11"

// NewCardCrypto builds the card number crypto service from cfg. The returned
// close func releases an HSM session and is never nil.
func NewCardCrypto(cfg *Config) (*cardcrypto.Service, func(), error) {
	if strings.EqualFold(cfg.CryptoAlgorithm, AlgorithmPKCS11) {
		c, closeFn, err := newHSMCipher(cfg)
		if err != nil {
			return nil, func() {}, fmt.Errorf("hsm cipher: %w", err)
		}
		return cardcrypto.NewWithCipher(c), closeFn, nil
	}

	key, err := cfg.CryptoKeyBytes()
	if err != nil {
		return nil, func() {}, err
	}
	defer cardcrypto.Wipe(key)

	svc, err := cardcrypto.New(cfg.CryptoAlgorithm, key)
	if err != nil {
		return nil, func() {}, err
	}
	return svc, func() {}, nil
}
