//go:build !softhsm

package bank

import (
	"errors"

	"github.com/alovak/bankcards/internal/cardcrypto"
)

func newHSMCipher(*Config) (cardcrypto.Cipher, func(), error) {
	return nil, nil, errors.New("binary built without the softhsm tag")
}
