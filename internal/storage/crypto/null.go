package crypto

// NullModule is the default, no-encryption cipher module. Its header is
// empty and Seal/Open are identity functions.
type NullModule struct{}

// Name implements Module.
func (NullModule) Name() string { return "null" }

// NewHeader implements Module. The null module writes no header bytes.
func (NullModule) NewHeader() ([]byte, Cipher, error) {
	return nil, nullCipher{}, nil
}

// OpenHeader implements Module.
func (NullModule) OpenHeader(headerBytes []byte) (Cipher, error) {
	return nullCipher{}, nil
}

type nullCipher struct{}

func (nullCipher) Seal(sequence int64, plaintext []byte) ([]byte, error) {
	return plaintext, nil
}

func (nullCipher) Open(sequence int64, ciphertext []byte) ([]byte, error) {
	return ciphertext, nil
}
