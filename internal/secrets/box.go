// Package secrets шифрует учетные данные брокерских счетов перед записью в БД.
package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

var ErrDecrypt = errors.New("failed to decrypt credentials")

// Box шифрует данные ключом, выведенным из парольной фразы
type Box struct {
	key [32]byte
}

func NewBox(passphrase string) (*Box, error) {
	if passphrase == "" {
		return nil, errors.New("credentials key is empty")
	}

	return &Box{key: sha256.Sum256([]byte(passphrase))}, nil
}

// Seal шифрует plaintext; результат = nonce || ciphertext
func (b *Box) Seal(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return secretbox.Seal(nonce[:], plaintext, &nonce, &b.key), nil
}

// Open расшифровывает результат Seal
func (b *Box) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, ErrDecrypt
	}

	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])

	out, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &b.key)
	if !ok {
		return nil, ErrDecrypt
	}

	return out, nil
}

// SealCredentials шифрует набор учетных данных счёта
func (b *Box) SealCredentials(creds map[string]string) ([]byte, error) {
	if len(creds) == 0 {
		return nil, nil
	}

	data, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("failed to encode credentials: %w", err)
	}

	return b.Seal(data)
}

// OpenCredentials расшифровывает результат SealCredentials
func (b *Box) OpenCredentials(sealed []byte) (map[string]string, error) {
	if len(sealed) == 0 {
		return map[string]string{}, nil
	}

	data, err := b.Open(sealed)
	if err != nil {
		return nil, err
	}

	creds := map[string]string{}
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to decode credentials: %w", err)
	}

	return creds, nil
}
