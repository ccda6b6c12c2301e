package fieldsync

// Cipher seals sensitive columns of the local cache at rest.
type Cipher interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

// Keyring manages the key material behind a Cipher.
// Sealing and opening both need the unlocked key, so a session must Unlock
// before touching an encrypted cache.
type Keyring interface {
	// Setup performs one-time key generation protected by passphrase.
	Setup(passphrase string) error

	// Unlock decrypts the private key and returns a Cipher for the session.
	Unlock(passphrase string) (Cipher, error)

	// IsConfigured reports whether key material exists.
	IsConfigured() bool
}
