// ============================================================================
// WAL Crypto Modules
// ============================================================================
//
// Package: internal/storage/crypto
// Purpose: Pluggable at-rest encryption for WAL segment files.
//
// Every WAL file's v3 header embeds the fully-qualified name of the cipher
// module that wrote it, plus that module's own header bytes (nonce salt,
// KDF parameters, whatever the module needs to reconstruct its cipher
// state). Opening a file for read or append resolves the module by name
// from a Registry and hands the module its own header bytes back - the
// WAL itself never branches on cipher kind.
//
// Two modules ship here:
//   NullModule              - passthrough, no encryption. Named "null".
//   ChaCha20Poly1305Module  - AEAD via golang.org/x/crypto/chacha20poly1305.
//                             Named "chacha20poly1305".
//
// ============================================================================

package crypto

import (
	"fmt"
	"sync"
)

// Module is a cipher module resolvable by name from the WAL header.
type Module interface {
	// Name returns the fully-qualified module name written into new
	// headers, e.g. "chacha20poly1305".
	Name() string

	// NewHeader produces the module-specific header bytes for a brand new
	// WAL file (e.g. a random salt), along with a Cipher ready to seal
	// records written to that file.
	NewHeader() (headerBytes []byte, cipher Cipher, err error)

	// OpenHeader parses previously written header bytes (as produced by
	// NewHeader) and returns a Cipher configured to open records from that
	// file.
	OpenHeader(headerBytes []byte) (Cipher, error)
}

// Cipher seals/opens individual WAL record payloads. Sequence is mixed into
// the nonce so that records with distinct sequences in the same session
// never reuse one.
type Cipher interface {
	Seal(sequence int64, plaintext []byte) ([]byte, error)
	Open(sequence int64, ciphertext []byte) ([]byte, error)
}

// Registry resolves cipher modules by name. A single process-wide registry
// is built at startup with Default() and shared by every WAL writer/reader.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]Module)}
}

// Register adds m to the registry, keyed by m.Name(). Re-registering a name
// replaces the previous module.
func (r *Registry) Register(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[m.Name()] = m
}

// ErrUnknownModule is returned when a WAL header names a cipher module the
// registry has no entry for.
var ErrUnknownModule = fmt.Errorf("crypto: unknown module")

// Resolve looks up a module by name.
func (r *Registry) Resolve(name string) (Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModule, name)
	}
	return m, nil
}

// Default returns a Registry pre-populated with NullModule and
// ChaCha20Poly1305Module, the two built-in cipher modules.
func Default() *Registry {
	r := NewRegistry()
	r.Register(NullModule{})
	r.Register(NewChaCha20Poly1305Module())
	return r
}
