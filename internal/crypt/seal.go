package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/meigma/crate/internal/cratetype"
)

// Argon2id parameters for header keys.
const (
	sealTime    = 2
	sealMemory  = 19 * 1024
	sealThreads = 1
	nonceSize   = 12
)

// SealOverhead is the number of bytes Seal adds to its input.
const SealOverhead = SaltSize + nonceSize + 16

// Seal encrypts and authenticates plaintext with a key derived from
// password. The result is salt | nonce | ciphertext.
func Seal(plaintext []byte, password string) ([]byte, error) {
	if password == "" {
		return nil, cratetype.ErrMissingPassword
	}
	out := make([]byte, SaltSize+nonceSize, SaltSize+nonceSize+len(plaintext)+16)
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	aead, err := sealer(password, out[:SaltSize])
	if err != nil {
		return nil, err
	}
	return aead.Seal(out, out[SaltSize:], plaintext, nil), nil
}

// Open reverses Seal. Any failure to authenticate, including a wrong
// password, returns ErrWrongPassword.
func Open(sealed []byte, password string) ([]byte, error) {
	if password == "" {
		return nil, cratetype.ErrMissingPassword
	}
	if len(sealed) < SealOverhead {
		return nil, cratetype.ErrWrongPassword
	}
	aead, err := sealer(password, sealed[:SaltSize])
	if err != nil {
		return nil, err
	}
	nonce := sealed[SaltSize : SaltSize+nonceSize]
	plain, err := aead.Open(nil, nonce, sealed[SaltSize+nonceSize:], nil)
	if err != nil {
		return nil, cratetype.ErrWrongPassword
	}
	return plain, nil
}

func sealer(password string, salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(password), salt, sealTime, sealMemory, sealThreads, KeySize)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
