package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesystem_PutGet(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "uploads")
	fs, err := NewFilesystem(root)
	require.NoError(t, err)
	assert.Equal(t, DriverFilesystem, fs.Driver())

	key := "2026/10/15/abc/census.csv"
	require.NoError(t, fs.Put(ctx, key, []byte("Enclosure,Accession\n")))

	got, err := fs.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "Enclosure,Accession\n", string(got))

	_, err = os.Stat(filepath.Join(root, "2026", "10", "15", "abc", "census.csv"))
	assert.NoError(t, err)
}

func TestFilesystem_WriteOnce(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, fs.Put(ctx, "a/b.csv", []byte("one")))
	err = fs.Put(ctx, "a/b.csv", []byte("two"))
	assert.ErrorIs(t, err, ErrExists)

	got, err := fs.Get(ctx, "a/b.csv")
	require.NoError(t, err)
	assert.Equal(t, "one", string(got))
}

func TestCleanKey(t *testing.T) {
	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{key: "a/b.csv", want: "a/b.csv"},
		{key: "/a/b.csv", want: "a/b.csv"},
		{key: "../etc/passwd", wantErr: true},
		{key: "a/../../b", wantErr: true},
		{key: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := cleanKey(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMemory_PutGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	data := []byte("payload")
	require.NoError(t, m.Put(ctx, "k/file.xlsx", data))
	data[0] = 'X'

	got, err := m.Get(ctx, "k/file.xlsx")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
	assert.ErrorIs(t, m.Put(ctx, "k/file.xlsx", nil), ErrExists)

	_, err = m.Get(ctx, "missing")
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, []string{"k/file.xlsx"}, m.Keys())
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Config{Driver: DriverNone})
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = Open(ctx, Config{Driver: DriverMemory})
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, s.Driver())

	s, err = Open(ctx, Config{Driver: DriverFilesystem, FSRoot: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, DriverFilesystem, s.Driver())

	_, err = Open(ctx, Config{Driver: DriverS3})
	assert.Error(t, err)

	_, err = Open(ctx, Config{Driver: "ftp"})
	assert.Error(t, err)
}
