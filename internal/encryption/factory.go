package encryption

import (
	"fmt"

	"fieldsync/internal/config"
	"fieldsync/internal/fieldsync"
)

// NewKeyringFromConfig creates a Keyring based on the configuration type.
// Type "none" returns a nil keyring: the local cache is stored in plaintext.
func NewKeyringFromConfig(cfg config.EncryptionConfig) (fieldsync.Keyring, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "age":
		return NewAgeKeyring(cfg), nil
	case "test":
		return NewTestKeyring(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}

// NewCipherFromConfig unlocks the configured keyring. passphrase is only
// called when the keyring needs one. A nil cipher means no encryption.
func NewCipherFromConfig(cfg config.EncryptionConfig, passphrase func() (string, error)) (fieldsync.Cipher, error) {
	keyring, err := NewKeyringFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	if keyring == nil {
		return nil, nil
	}
	if !keyring.IsConfigured() {
		return nil, fmt.Errorf("encryption keys not found: run `fieldsync keys init`")
	}

	var pass string
	if cfg.Type == "age" {
		if pass, err = passphrase(); err != nil {
			return nil, fmt.Errorf("reading passphrase: %w", err)
		}
	}
	cipher, err := keyring.Unlock(pass)
	if err != nil {
		return nil, fmt.Errorf("unlocking keys: %w", err)
	}
	return cipher, nil
}
