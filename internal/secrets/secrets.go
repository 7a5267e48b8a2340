// Package secrets encrypts and decrypts tenant credential blobs.
//
// Ciphertexts carry the "enc:v1:" marker so that Decrypt can tell encrypted
// values apart from legacy plaintext credentials still present in older
// registry rows.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	marker     = "enc:v1:"
	saltSize   = 16
	keySize    = 32
	iterations = 100_000
)

// ErrMasterKeyRequired is returned when the box was built without a master key.
var ErrMasterKeyRequired = errors.New("secrets: master key is required")

// Box encrypts and decrypts credential blobs with a key derived from the
// configured master key.
type Box struct {
	masterKey []byte
}

// NewBox creates a Box from the master key. An empty key yields a Box whose
// Encrypt fails but whose Decrypt still passes plaintext through.
func NewBox(masterKey string) *Box {
	return &Box{masterKey: []byte(masterKey)}
}

// IsEncrypted reports whether the blob carries the encryption marker.
func IsEncrypted(blob string) bool {
	return strings.HasPrefix(blob, marker)
}

// Encrypt seals the blob with AES-256-GCM under a fresh salt and prefixes the
// marker. Layout after the marker: base64(salt || nonce || ciphertext).
func (b *Box) Encrypt(blob string) (string, error) {
	if len(b.masterKey) == 0 {
		return "", ErrMasterKeyRequired
	}
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("secrets: salt: %w", err)
	}
	gcm, err := b.aead(salt)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("secrets: nonce: %w", err)
	}
	sealed := gcm.Seal(nil, nonce, []byte(blob), nil)
	packed := append(append(salt, nonce...), sealed...)
	return marker + base64.StdEncoding.EncodeToString(packed), nil
}

// Decrypt opens an encrypted blob. Input without the marker is treated as
// already-plaintext and returned unchanged, which allows gradual migration of
// stored credentials.
func (b *Box) Decrypt(blob string) (string, error) {
	if !IsEncrypted(blob) {
		return blob, nil
	}
	if len(b.masterKey) == 0 {
		return "", ErrMasterKeyRequired
	}
	packed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(blob, marker))
	if err != nil {
		return "", fmt.Errorf("secrets: decode: %w", err)
	}
	if len(packed) < saltSize {
		return "", errors.New("secrets: blob too short")
	}
	salt, rest := packed[:saltSize], packed[saltSize:]
	gcm, err := b.aead(salt)
	if err != nil {
		return "", err
	}
	if len(rest) < gcm.NonceSize() {
		return "", errors.New("secrets: blob too short")
	}
	nonce, sealed := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("secrets: open: %w", err)
	}
	return string(plain), nil
}

func (b *Box) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(b.masterKey, salt, iterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secrets: cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
