package blocksink

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFileAppendAndSync(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "segment-0")

	sink, err := OpenLocalFile(path)
	require.NoError(t, err)

	n, err := sink.Append([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	require.NoError(t, sink.FlushToPeers())
	require.NoError(t, sink.SyncToDisk())
	require.NoError(t, sink.Close())

	readable, err := OpenLocalFileForRead(path)
	require.NoError(t, err)
	defer readable.Close()

	buf := make([]byte, 5)
	rn, err := readable.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, rn)
	assert.Equal(t, "hello", string(buf))
}

func TestLocalFileAppendIsCumulative(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "segment-0")

	sink, err := OpenLocalFile(path)
	require.NoError(t, err)

	_, err = sink.Append([]byte("abc"))
	require.NoError(t, err)
	_, err = sink.Append([]byte("def"))
	require.NoError(t, err)
	require.NoError(t, sink.SyncToDisk())
	require.NoError(t, sink.Close())

	readable, err := OpenLocalFileForRead(path)
	require.NoError(t, err)
	defer readable.Close()

	buf := make([]byte, 6)
	_, err = readable.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(buf))
}
