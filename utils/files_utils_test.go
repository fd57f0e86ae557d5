package utils

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsHousekeeping(t *testing.T) {
	for _, name := range []string{".DS_Store", "Thumbs.db", "desktop.ini", "._a.dcm"} {
		assert.True(t, IsHousekeeping(name), name)
	}
	for _, name := range []string{"a.dcm", "DS_Store", "report.xml", ".hidden"} {
		assert.False(t, IsHousekeeping(name), name)
	}
}

func TestReadDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/r/b.txt", nil, 0644))
	require.NoError(t, afero.WriteFile(fs, "/r/a.txt", nil, 0644))
	require.NoError(t, fs.MkdirAll("/r/z", 0755))
	require.NoError(t, fs.MkdirAll("/r/y", 0755))

	dirs, files, err := ReadDir(fs, "/r")
	require.NoError(t, err)
	assert.Equal(t, []string{"y", "z"}, dirs)
	assert.Equal(t, []string{"a.txt", "b.txt"}, files)
	assert.Equal(t, []string{"/r/a.txt", "/r/b.txt"}, JoinAll("/r", files))

	_, _, err = ReadDir(fs, "/missing")
	assert.Error(t, err)
}
