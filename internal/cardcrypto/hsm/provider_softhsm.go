//go:build softhsm

package hsm

import (
	"errors"
	"fmt"
	"sync"

	"github.com/miekg/pkcs11"

	"github.com/alovak/bankcards/internal/cardcrypto"
)

const ivSize = 16

// SoftHSMProvider seals card numbers with an AES key held in a PKCS#11 token
// (AES-CBC-PAD, random IV prefixed to the ciphertext). Enabled with the
// softhsm build tag so default builds do not need the pkcs11 library.
type SoftHSMProvider struct {
	libPath  string
	slotID   uint
	pin      string
	keyLabel string

	mu   sync.Mutex
	p11  *pkcs11.Ctx
	sess pkcs11.SessionHandle
	key  pkcs11.ObjectHandle
}

func NewSoftHSMProvider(libPath string, slotID uint, pin, keyLabel string) *SoftHSMProvider {
	return &SoftHSMProvider{libPath: libPath, slotID: slotID, pin: pin, keyLabel: keyLabel}
}

func (p *SoftHSMProvider) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.p11 = pkcs11.New(p.libPath)
	if p.p11 == nil {
		return fmt.Errorf("load pkcs11 lib %s: %w", p.libPath, cardcrypto.ErrCrypto)
	}
	if err := p.p11.Initialize(); err != nil {
		return err
	}
	sess, err := p.p11.OpenSession(p.slotID, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
	if err != nil {
		_ = p.p11.Finalize()
		return err
	}
	p.sess = sess
	if err := p.p11.Login(p.sess, pkcs11.CKU_USER, p.pin); err != nil {
		_ = p.p11.CloseSession(p.sess)
		_ = p.p11.Finalize()
		return err
	}

	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, p.keyLabel),
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_SECRET_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_AES),
	}
	if err := p.p11.FindObjectsInit(p.sess, template); err != nil {
		return err
	}
	objs, _, err := p.p11.FindObjects(p.sess, 1)
	_ = p.p11.FindObjectsFinal(p.sess)
	if err != nil {
		return err
	}
	if len(objs) == 0 {
		return fmt.Errorf("aes key not found by label=%s: %w", p.keyLabel, cardcrypto.ErrCrypto)
	}
	p.key = objs[0]
	return nil
}

func (p *SoftHSMProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.p11 != nil {
		if p.sess != 0 {
			_ = p.p11.Logout(p.sess)
			_ = p.p11.CloseSession(p.sess)
		}
		_ = p.p11.Finalize()
		p.p11.Destroy()
		p.p11 = nil
	}
}

func (p *SoftHSMProvider) Encrypt(plaintext []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.p11 == nil {
		return nil, errors.New("hsm session not open")
	}
	iv, err := p.p11.GenerateRandom(p.sess, ivSize)
	if err != nil {
		return nil, err
	}
	mech := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_AES_CBC_PAD, iv)}
	if err := p.p11.EncryptInit(p.sess, mech, p.key); err != nil {
		return nil, err
	}
	sealed, err := p.p11.Encrypt(p.sess, plaintext)
	if err != nil {
		return nil, err
	}
	return append(iv, sealed...), nil
}

func (p *SoftHSMProvider) Decrypt(ciphertext []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.p11 == nil {
		return nil, errors.New("hsm session not open")
	}
	if len(ciphertext) <= ivSize {
		return nil, errors.New("ciphertext too short")
	}
	mech := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_AES_CBC_PAD, ciphertext[:ivSize])}
	if err := p.p11.DecryptInit(p.sess, mech, p.key); err != nil {
		return nil, err
	}
	return p.p11.Decrypt(p.sess, ciphertext[ivSize:])
}

var _ cardcrypto.Cipher = (*SoftHSMProvider)(nil)
