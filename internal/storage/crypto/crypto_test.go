package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNullModuleRoundTrip(t *testing.T) {
	m := NullModule{}
	header, cipher, err := m.NewHeader()
	require.NoError(t, err)
	assert.Nil(t, header)

	ct, err := cipher.Seal(1, []byte("plaintext"))
	require.NoError(t, err)
	assert.Equal(t, []byte("plaintext"), ct)

	pt, err := cipher.Open(1, ct)
	require.NoError(t, err)
	assert.Equal(t, []byte("plaintext"), pt)
}

func TestChaCha20Poly1305RoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	m := NewChaCha20Poly1305Module().WithKey(key)

	header, cipher, err := m.NewHeader()
	require.NoError(t, err)
	require.Len(t, header, chachaSaltLen)

	ct, err := cipher.Seal(42, []byte("hello wal"))
	require.NoError(t, err)
	assert.NotEqual(t, []byte("hello wal"), ct)

	reopened, err := m.OpenHeader(header)
	require.NoError(t, err)

	pt, err := reopened.Open(42, ct)
	require.NoError(t, err)
	assert.Equal(t, "hello wal", string(pt))
}

func TestChaCha20Poly1305RejectsWrongSequence(t *testing.T) {
	key := make([]byte, 32)
	m := NewChaCha20Poly1305Module().WithKey(key)
	_, cipher, err := m.NewHeader()
	require.NoError(t, err)

	ct, err := cipher.Seal(1, []byte("a"))
	require.NoError(t, err)

	_, err = cipher.Open(2, ct)
	assert.Error(t, err)
}

func TestChaCha20Poly1305RequiresKey(t *testing.T) {
	m := NewChaCha20Poly1305Module()
	_, _, err := m.NewHeader()
	assert.Error(t, err)
}

func TestRegistryResolve(t *testing.T) {
	r := Default()

	mod, err := r.Resolve("null")
	require.NoError(t, err)
	assert.Equal(t, "null", mod.Name())

	_, err = r.Resolve("does-not-exist")
	assert.ErrorIs(t, err, ErrUnknownModule)
}
