//go:build softhsm

package bank

import (
	"github.com/alovak/bankcards/internal/cardcrypto"
	"github.com/alovak/bankcards/internal/cardcrypto/hsm"
)

func newHSMCipher(cfg *Config) (cardcrypto.Cipher, func(), error) {
	p := hsm.NewSoftHSMProvider(cfg.HSMLibPath, cfg.HSMSlot, cfg.HSMPin, cfg.HSMKeyLabel)
	if err := p.Open(); err != nil {
		return nil, nil, err
	}
	return p, p.Close, nil
}
