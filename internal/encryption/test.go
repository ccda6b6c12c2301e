package encryption

import (
	"bytes"
	"fmt"

	"fieldsync/internal/fieldsync"
)

// testHeader is prepended by TestCipher so sealed values differ from
// plaintext while staying deterministic and reversible.
var testHeader = []byte("FSENC\x00\x00\x00")

// TestKeyring is a keyring for tests that needs no key material.
type TestKeyring struct {
	setupCalled bool
}

var _ fieldsync.Keyring = (*TestKeyring)(nil)

func NewTestKeyring() *TestKeyring {
	return &TestKeyring{}
}

func (k *TestKeyring) Setup(passphrase string) error {
	k.setupCalled = true
	return nil
}

func (k *TestKeyring) Unlock(passphrase string) (fieldsync.Cipher, error) {
	return NewTestCipher(), nil
}

func (k *TestKeyring) IsConfigured() bool {
	return true
}

// TestCipher prepends a fixed 8-byte header on Seal and strips it on Open.
type TestCipher struct{}

var _ fieldsync.Cipher = (*TestCipher)(nil)

func NewTestCipher() *TestCipher {
	return &TestCipher{}
}

func (c *TestCipher) Seal(plaintext []byte) ([]byte, error) {
	out := make([]byte, 0, len(testHeader)+len(plaintext))
	out = append(out, testHeader...)
	return append(out, plaintext...), nil
}

func (c *TestCipher) Open(ciphertext []byte) ([]byte, error) {
	if !bytes.HasPrefix(ciphertext, testHeader) {
		return nil, fmt.Errorf("invalid test encryption header")
	}
	return append([]byte(nil), ciphertext[len(testHeader):]...), nil
}
