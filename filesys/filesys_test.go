package filesys

import (
	"context"
	"io"
	"testing"

	"github.com/LosCuervosXeneizes/nucleo/internal/idgen"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"
)

func newTestService(t *testing.T) (*Service, afs.Service) {
	t.Helper()
	fs := afs.New()
	svc, err := New(context.Background(), fs, "mem://localhost/"+idgen.New()+"/fs")
	require.NoError(t, err)
	return svc, fs
}

func TestService_CreateOpenReadWrite(t *testing.T) {
	svc, _ := newTestService(t)

	require.NoError(t, svc.Create("notes", 10))
	assert.ErrorIs(t, svc.Create("notes", 10), ErrExists)

	f, err := svc.Open("notes")
	require.NoError(t, err)
	assert.Equal(t, int64(10), f.Length())

	n, err := f.Write([]byte("hello world, this is long"))
	require.NoError(t, err)
	assert.Equal(t, 10, n, "writes never extend a file")
	assert.Equal(t, int64(10), f.Tell())

	f.Seek(0)
	buf := make([]byte, 5)
	n, err = f.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	buf = make([]byte, 20)
	n, err = f.Read(buf)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, " worl", string(buf[:n]))

	n, err = f.Read(buf)
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
	require.NoError(t, f.Close())

	g, err := svc.Open("notes")
	require.NoError(t, err)
	buf = make([]byte, 10)
	_, err = g.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello worl", string(buf), "contents are flushed on last close")
	require.NoError(t, g.Close())
}

func TestService_SharedInodeAndDenyWrite(t *testing.T) {
	svc, _ := newTestService(t)
	require.NoError(t, svc.Install("prog", []byte("executable")))

	exe, err := svc.Open("prog")
	require.NoError(t, err)
	exe.DenyWrite()

	other, err := svc.Open("prog")
	require.NoError(t, err)
	assert.Equal(t, 2, svc.OpenCount("prog"))

	n, err := other.Write([]byte("XX"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, exe.Close())
	n, err = other.Write([]byte("XX"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, svc.OpenCount("prog"))
	require.NoError(t, other.Close())
	assert.NoError(t, other.Close())
	assert.Equal(t, 0, svc.OpenCount("prog"))
}

func TestService_RemoveKeepsOpenHandles(t *testing.T) {
	svc, fs := newTestService(t)
	require.NoError(t, svc.Install("data", []byte("abc")))

	f, err := svc.Open("data")
	require.NoError(t, err)
	require.NoError(t, svc.Remove("data"))
	assert.ErrorIs(t, svc.Remove("data"), ErrNotFound)

	_, err = svc.Open("data")
	assert.ErrorIs(t, err, ErrNotFound)

	buf := make([]byte, 3)
	_, err = f.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(buf))
	_, err = f.Write([]byte("z"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	exists, err := fs.Exists(context.Background(), svc.fileURL("data"))
	require.NoError(t, err)
	assert.False(t, exists, "a removed file is not written back")
}

func TestService_SyncFlushesOpenFiles(t *testing.T) {
	svc, fs := newTestService(t)
	require.NoError(t, svc.Install("log", []byte("....")))
	f, err := svc.Open("log")
	require.NoError(t, err)
	_, err = f.Write([]byte("ok"))
	require.NoError(t, err)

	stored, err := fs.DownloadWithURL(context.Background(), svc.fileURL("log"))
	require.NoError(t, err)
	assert.Equal(t, "....", string(stored))

	require.NoError(t, svc.Sync())
	stored, err = fs.DownloadWithURL(context.Background(), svc.fileURL("log"))
	require.NoError(t, err)
	assert.Equal(t, "ok..", string(stored))
	assert.Equal(t, 1, svc.OpenCount("log"))
	require.NoError(t, f.Close())
}

func TestService_InvalidNames(t *testing.T) {
	svc, _ := newTestService(t)
	for _, name := range []string{"", "a/b", "fifteen-letters"} {
		assert.ErrorIs(t, svc.Create(name, 0), ErrInvalidName, name)
		_, err := svc.Open(name)
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}
	assert.Error(t, svc.Create("neg", -1))
}
