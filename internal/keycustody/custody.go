// Package keycustody protects delegated session-key material at rest.
//
// Ciphertexts are authenticated (AES-256-GCM) and versioned so the payload
// format can evolve without re-encrypting every stored key. A fresh nonce is
// drawn per call: encrypting the same plaintext twice never yields the same
// ciphertext.
package keycustody

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	engerr "github.com/0xtide/delegated-trading-engine/internal/errors"
)

const (
	// FormatVersion is the version prefix written on new ciphertexts.
	FormatVersion = "v2"

	nonceSize = 12
	tagSize   = 16
	keySize   = 32

	component = "keycustody"
)

// Custody encrypts and decrypts session-key material with a process-wide
// master key. It is stateless and safe for concurrent use.
type Custody struct {
	aead cipher.AEAD
}

// New builds a Custody from a 32-byte master key.
func New(masterKey []byte) (*Custody, error) {
	if len(masterKey) != keySize {
		return nil, engerr.NewConfiguration(component, "new",
			fmt.Sprintf("master key must be %d bytes, got %d", keySize, len(masterKey)))
	}
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, engerr.Wrap(err, engerr.ErrorCategoryConfiguration, component, "new")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, engerr.Wrap(err, engerr.ErrorCategoryConfiguration, component, "new")
	}
	return &Custody{aead: aead}, nil
}

// NewFromHex builds a Custody from a hex-encoded 32-byte master key.
func NewFromHex(masterKeyHex string) (*Custody, error) {
	key, err := hex.DecodeString(strings.TrimPrefix(masterKeyHex, "0x"))
	if err != nil {
		return nil, engerr.NewConfiguration(component, "new", "master key is not valid hex")
	}
	return New(key)
}

// Encrypt seals plaintext key material into the delimited v2 format:
//
//	v2:<hex nonce>:<hex auth tag>:<hex ciphertext>
func (c *Custody) Encrypt(plaintextKey string) (string, error) {
	if plaintextKey == "" {
		return "", engerr.NewValidation(component, "encrypt", "empty key material")
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", engerr.Wrap(err, engerr.ErrorCategoryFatal, component, "encrypt")
	}

	sealed := c.aead.Seal(nil, nonce, []byte(plaintextKey), nil)
	// GCM appends the tag to the ciphertext; split so the wire format keeps
	// the tag as its own field.
	ct := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return strings.Join([]string{
		FormatVersion,
		hex.EncodeToString(nonce),
		hex.EncodeToString(tag),
		hex.EncodeToString(ct),
	}, ":"), nil
}

// Decrypt opens a sealed payload, accepting the current 4-field v2 format
// and the legacy 3-field format (nonce:tag:ciphertext, no version prefix).
// The version is inferred from the field count. A tampered payload or tag
// mismatch yields an INTEGRITY error; the key must be treated as
// unrecoverable.
func (c *Custody) Decrypt(ciphertext string) (string, error) {
	parts := strings.Split(ciphertext, ":")

	var nonceHex, tagHex, ctHex string
	switch len(parts) {
	case 4:
		if parts[0] != FormatVersion {
			return "", engerr.NewIntegrity(component, "decrypt",
				fmt.Sprintf("unsupported format version %q", parts[0]))
		}
		nonceHex, tagHex, ctHex = parts[1], parts[2], parts[3]
	case 3:
		// Legacy format, pre-versioning.
		nonceHex, tagHex, ctHex = parts[0], parts[1], parts[2]
	default:
		return "", engerr.NewIntegrity(component, "decrypt", "malformed ciphertext")
	}

	nonce, err := hex.DecodeString(nonceHex)
	if err != nil || len(nonce) != nonceSize {
		return "", engerr.NewIntegrity(component, "decrypt", "malformed nonce")
	}
	tag, err := hex.DecodeString(tagHex)
	if err != nil || len(tag) != tagSize {
		return "", engerr.NewIntegrity(component, "decrypt", "malformed auth tag")
	}
	ct, err := hex.DecodeString(ctHex)
	if err != nil {
		return "", engerr.NewIntegrity(component, "decrypt", "malformed ciphertext body")
	}

	plain, err := c.aead.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return "", engerr.NewIntegrity(component, "decrypt", "authentication failed")
	}
	return string(plain), nil
}

// SecureCompare compares two equal-length strings in constant time. A length
// mismatch returns false immediately; length is not secret here, only
// content is.
func SecureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// GenerateNonce returns a fresh cryptographically-random token, hex-encoded.
func GenerateNonce() (string, error) {
	buf := make([]byte, nonceSize)
	if _, err := rand.Read(buf); err != nil {
		return "", engerr.Wrap(err, engerr.ErrorCategoryFatal, component, "generate-nonce")
	}
	return hex.EncodeToString(buf), nil
}
