// Package secrets seals small credential values (remote app secrets) with an
// age X25519 identity so they never reach the store in plaintext.
//
// Sealed values are text: the "age:" prefix followed by the standard base64
// encoding of the age ciphertext. Values without the prefix are treated as
// legacy plaintext on Open.
package secrets

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
)

const sealedPrefix = "age:"

var ErrNoKey = errors.New("secrets: no key configured")

// Box seals to and opens with a single identity.
type Box struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

// GenerateKey returns a fresh identity in AGE-SECRET-KEY-1... form and its
// public recipient string.
func GenerateKey() (secretKey, publicKey string, err error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return "", "", fmt.Errorf("generating age identity: %w", err)
	}
	return id.String(), id.Recipient().String(), nil
}

// NewBox parses an identity string.
func NewBox(secretKey string) (*Box, error) {
	id, err := age.ParseX25519Identity(strings.TrimSpace(secretKey))
	if err != nil {
		return nil, fmt.Errorf("parsing age identity: %w", err)
	}
	return &Box{identity: id, recipient: id.Recipient()}, nil
}

// LoadBox resolves the identity from an inline key or a key file.
// Both empty returns ErrNoKey.
func LoadBox(inline, path string) (*Box, error) {
	key := strings.TrimSpace(inline)
	if key == "" && strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading age key file: %w", err)
		}
		key = firstIdentityLine(string(b))
	}
	if key == "" {
		return nil, ErrNoKey
	}
	return NewBox(key)
}

// firstIdentityLine skips the comment lines age-keygen writes.
func firstIdentityLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			return line
		}
	}
	return ""
}

func (b *Box) Recipient() string { return b.recipient.String() }

func IsSealed(v string) bool { return strings.HasPrefix(v, sealedPrefix) }

func (b *Box) Seal(plaintext string) (string, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, b.recipient)
	if err != nil {
		return "", fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("writing plaintext: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalizing age encryption: %w", err)
	}
	return sealedPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func (b *Box) Open(v string) (string, error) {
	if !IsSealed(v) {
		return v, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(v, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("decoding sealed value: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(raw), b.identity)
	if err != nil {
		return "", fmt.Errorf("decrypting: %w", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading plaintext: %w", err)
	}
	return string(out), nil
}
