package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"github.com/vortexdata/vortex/pkg/errors"
)

const (
	keyLength   = 32 // AES-256
	keyDeriveIt = 600_000
)

// Encryptor seals and opens secret values with AES-256-GCM. The data key
// is derived from the configured master key with PBKDF2-SHA256, so the
// master key itself is never used as cipher key material.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor derives the data key and builds the AEAD. The salt is
// deployment-scoped; changing it invalidates every stored ciphertext.
func NewEncryptor(masterKey string, salt []byte) (*Encryptor, error) {
	if masterKey == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "master key is required")
	}
	if len(salt) == 0 {
		salt = []byte("vortex.credentials.v1")
	}

	key := pbkdf2.Key([]byte(masterKey), salt, keyDeriveIt, keyLength, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCredential, "cannot build cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCredential, "cannot build AEAD")
	}
	return &Encryptor{aead: aead}, nil
}

// Encrypt seals a plaintext under a freshly generated IV. The IV is
// returned separately for persistence alongside the ciphertext.
func (e *Encryptor) Encrypt(plaintext string) (ciphertext, iv []byte, err error) {
	iv = make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeCredential, "cannot generate IV")
	}
	return e.aead.Seal(nil, iv, []byte(plaintext), nil), iv, nil
}

// Decrypt opens a ciphertext with its stored IV. Failures are surfaced
// as a decryption error, distinct from "not found", so callers can tell
// tampering or key rotation apart from absence.
func (e *Encryptor) Decrypt(ciphertext, iv []byte) (string, error) {
	if len(iv) != e.aead.NonceSize() {
		return "", errors.New(errors.ErrorTypeDecryption, "stored IV has the wrong length")
	}
	plaintext, err := e.aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeDecryption, "ciphertext cannot be decrypted")
	}
	return string(plaintext), nil
}
