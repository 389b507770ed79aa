// Package crypto implements the whole-file envelope encryption of spec
// §4.2: AES-256-GCM over the complete plaintext table image, keyed by a
// password via scrypt, with a fixed on-disk layout.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"

	"github.com/mikrodb/mikrodb/internal/merrors"
)

const (
	envelopeVersion = 1
	keySize         = 32 // AES-256
	ivSize          = 12 // 96-bit GCM nonce
	tagSize         = 16

	// scryptSalt is fixed per spec §9 open question 1: keys are
	// deterministic from the password alone. The on-disk format assumes
	// this, so it cannot change without breaking existing files.
	scryptSalt = "salt"
)

// Envelope wraps and unwraps whole table-file images with a password
// derived AES-256-GCM key.
type Envelope struct {
	aead cipher.AEAD
}

// New derives a key from password via scrypt and builds the AEAD. An
// empty password means encryption is disabled; callers should check
// for that before constructing an Envelope.
func New(password string) (*Envelope, error) {
	key, err := deriveKey(password)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}
	return &Envelope{aead: aead}, nil
}

func deriveKey(password string) ([]byte, error) {
	input := []byte(scryptSalt + "#" + password)
	key, err := scrypt.Key(input, []byte(scryptSalt), 1<<15, 8, 1, keySize)
	if err != nil {
		return nil, fmt.Errorf("crypto: scrypt: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext (a complete MDB table image) into the layout
// [version][iv_len][iv][tag_len][tag][ciphertext].
func (e *Envelope) Seal(plaintext []byte) ([]byte, error) {
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("crypto: generate iv: %w", err)
	}

	sealed := e.aead.Seal(nil, iv, plaintext, nil)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	out := make([]byte, 0, 4+ivSize+tagSize+len(ciphertext))
	out = append(out, envelopeVersion, byte(ivSize))
	out = append(out, iv...)
	out = append(out, byte(tagSize))
	out = append(out, tag...)
	out = append(out, ciphertext...)
	return out, nil
}

// IsEncrypted reports whether data looks like a sealed envelope, per
// the detection rule of spec §4.2: first byte == 0x01.
func IsEncrypted(data []byte) bool {
	return len(data) > 0 && data[0] == envelopeVersion
}

// Open reverses Seal. A tampered ciphertext or wrong key surfaces as
// merrors.ErrCrypto; callers should treat this as "fall back to
// plaintext handling" per spec §4.2.
func (e *Envelope) Open(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != envelopeVersion {
		return nil, merrors.ErrCrypto
	}
	offset := 1

	ivLen := int(data[offset])
	offset++
	if offset+ivLen > len(data) {
		return nil, merrors.ErrCrypto
	}
	iv := data[offset : offset+ivLen]
	offset += ivLen

	if offset >= len(data) {
		return nil, merrors.ErrCrypto
	}
	tagLen := int(data[offset])
	offset++
	if offset+tagLen > len(data) {
		return nil, merrors.ErrCrypto
	}
	tag := data[offset : offset+tagLen]
	offset += tagLen

	ciphertext := data[offset:]
	sealed := append(append([]byte{}, ciphertext...), tag...)

	plaintext, err := e.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, merrors.ErrCrypto
	}
	return plaintext, nil
}
