package sftpfs

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"math/rand"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileReadWrite(t *testing.T) {
	cl, _ := startTestClient(t, testServerConfig{})

	f, err := cl.Create("/f.bin")
	require.NoError(t, err)

	n, err := f.Write([]byte("hello, "))
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	n, err = f.Write([]byte("world"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = f.Seek(0, io.SeekStart)
	require.NoError(t, err)

	got := make([]byte, 12)
	_, err = io.ReadFull(f, got)
	require.NoError(t, err)
	assert.Equal(t, "hello, world", string(got))

	// The cursor sits at the end now.
	_, err = f.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, f.Close())
}

func TestFilePipelinedTransfer(t *testing.T) {
	// Tiny buffers force chunking and windowing even for modest payloads.
	cl, _ := startTestClient(t, testServerConfig{},
		WithReadBufferSize(7),
		WithWriteBufferSize(5),
		WithMaxInflight(3),
	)

	payload := make([]byte, 4<<10)
	_, err := rand.New(rand.NewSource(1)).Read(payload)
	require.NoError(t, err)

	f, err := cl.Create("/big.bin")
	require.NoError(t, err)

	n, err := f.WriteAt(payload, 0)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	got := make([]byte, len(payload))
	m, err := f.ReadAt(got, 0)
	require.NoError(t, err)
	assert.Equal(t, len(payload), m)
	assert.True(t, bytes.Equal(payload, got))

	require.NoError(t, f.Close())
}

func TestFileReadAtEOF(t *testing.T) {
	cl, _ := startTestClient(t, testServerConfig{}, WithReadBufferSize(4))

	require.NoError(t, cl.WriteFile("/short.txt", []byte("0123456789"), 0o644))

	f, err := cl.Open("/short.txt")
	require.NoError(t, err)
	defer f.Close()

	// Asking past the end returns everything there was, then EOF.
	buf := make([]byte, 64)
	n, err := f.ReadAt(buf, 0)
	assert.Equal(t, 10, n)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "0123456789", string(buf[:n]))

	n, err = f.ReadAt(buf, 10)
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestFileReadOverlongReply(t *testing.T) {
	// A server that pads every DATA reply past the requested length must not
	// crash the read path or clobber caller memory past the buffer.
	cl, _ := startTestClient(t, testServerConfig{readOverrun: 6}, WithReadBufferSize(4))

	require.NoError(t, cl.WriteFile("/padded.txt", []byte("0123456789"), 0o644))

	f, err := cl.Open("/padded.txt")
	require.NoError(t, err)
	defer f.Close()

	// Single-chunk path. The buffer is a prefix of a larger backing array,
	// so any write past len(b) into cap(b) would show up in the suffix.
	backing := []byte("XXXXXXXXXXXX")
	n, err := f.ReadAt(backing[:4], 0)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "0123", string(backing[:4]))
	assert.Equal(t, "XXXXXXXX", string(backing[4:]))

	// Windowed path: the request spans several chunks, each answered long.
	wide := make([]byte, 12)
	n, err = f.ReadAt(wide, 0)
	assert.Equal(t, 10, n)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "0123456789", string(wide[:n]))
}

func TestFileSeek(t *testing.T) {
	cl, _ := startTestClient(t, testServerConfig{})

	require.NoError(t, cl.WriteFile("/f.txt", []byte("0123456789"), 0o644))

	f, err := cl.Open("/f.txt")
	require.NoError(t, err)
	defer f.Close()

	pos, err := f.Seek(4, io.SeekStart)
	require.NoError(t, err)
	assert.EqualValues(t, 4, pos)

	pos, err = f.Seek(2, io.SeekCurrent)
	require.NoError(t, err)
	assert.EqualValues(t, 6, pos)

	pos, err = f.Seek(-3, io.SeekEnd)
	require.NoError(t, err)
	assert.EqualValues(t, 7, pos)

	b := make([]byte, 3)
	_, err = io.ReadFull(f, b)
	require.NoError(t, err)
	assert.Equal(t, "789", string(b))

	_, err = f.Seek(-1, io.SeekStart)
	assert.Error(t, err)
}

func TestFileAppend(t *testing.T) {
	cl, _ := startTestClient(t, testServerConfig{})

	require.NoError(t, cl.WriteFile("/log.txt", []byte("one\n"), 0o644))

	f, err := cl.OpenFile("/log.txt", os.O_WRONLY|os.O_APPEND, 0)
	require.NoError(t, err)

	_, err = f.Seek(0, io.SeekEnd)
	require.NoError(t, err)

	_, err = f.Write([]byte("two\n"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err := cl.ReadFile("/log.txt")
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(got))
}

func TestFileSync(t *testing.T) {
	t.Run("advertised", func(t *testing.T) {
		cl, _ := startTestClient(t, testServerConfig{exts: allExtensions()})

		f, err := cl.Create("/f.txt")
		require.NoError(t, err)
		defer f.Close()

		_, err = f.Write([]byte("x"))
		require.NoError(t, err)

		assert.NoError(t, f.Sync())
	})

	t.Run("not advertised", func(t *testing.T) {
		cl, _ := startTestClient(t, testServerConfig{})

		f, err := cl.Create("/f.txt")
		require.NoError(t, err)
		defer f.Close()

		assert.ErrorIs(t, f.Sync(), errors.ErrUnsupported)
	})
}

func TestFileStat(t *testing.T) {
	cl, _ := startTestClient(t, testServerConfig{})

	require.NoError(t, cl.WriteFile("/f.txt", []byte("12345"), 0o644))

	f, err := cl.Open("/f.txt")
	require.NoError(t, err)
	defer f.Close()

	fi, err := f.Stat()
	require.NoError(t, err)
	assert.EqualValues(t, 5, fi.Size())
	assert.Equal(t, "f.txt", fi.Name())
}

func TestFileTruncate(t *testing.T) {
	cl, _ := startTestClient(t, testServerConfig{})

	f, err := cl.Create("/f.txt")
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Write([]byte("123456789"))
	require.NoError(t, err)

	require.NoError(t, f.Truncate(3))

	fi, err := f.Stat()
	require.NoError(t, err)
	assert.EqualValues(t, 3, fi.Size())
}

func TestFileCloseIdempotence(t *testing.T) {
	cl, _ := startTestClient(t, testServerConfig{})

	f, err := cl.Create("/f.txt")
	require.NoError(t, err)

	require.NoError(t, f.Close())

	// The second close fails locally, without a round trip.
	assert.ErrorIs(t, f.Close(), fs.ErrClosed)

	_, err = f.Read(make([]byte, 1))
	assert.ErrorIs(t, err, fs.ErrClosed)

	_, err = f.Write([]byte("x"))
	assert.ErrorIs(t, err, fs.ErrClosed)
}

func TestFileWriteToReadFrom(t *testing.T) {
	cl, _ := startTestClient(t, testServerConfig{},
		WithReadBufferSize(16),
		WithWriteBufferSize(16),
	)

	payload := bytes.Repeat([]byte("abcdefg"), 100)

	src, err := cl.Create("/src.bin")
	require.NoError(t, err)

	n, err := src.ReadFrom(bytes.NewReader(payload))
	require.NoError(t, err)
	assert.EqualValues(t, len(payload), n)
	require.NoError(t, src.Close())

	dst, err := cl.Open("/src.bin")
	require.NoError(t, err)

	var sink bytes.Buffer
	m, err := dst.WriteTo(&sink)
	require.NoError(t, err)
	assert.EqualValues(t, len(payload), m)
	assert.Equal(t, payload, sink.Bytes())

	require.NoError(t, dst.Close())
}
