package sfs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tancredelg/simple-file-system/errs"
	"github.com/tancredelg/simple-file-system/internal/sfstest"
	"github.com/tancredelg/simple-file-system/sfs"
)

func TestMksfsFreshCreatesEmptyDirectory(t *testing.T) {
	layout := sfstest.TinyLayout(t)
	fs, _ := sfstest.Fresh(t, layout)

	_, ok := fs.GetNextFileName()
	assert.False(t, ok, "a freshly formatted volume has no files")
}

func TestMksfsRejectsMismatchedGeometry(t *testing.T) {
	layout := sfstest.TinyLayout(t)
	device := sfstest.NewDevice(layout)

	mismatched := layout
	mismatched.TotalBlocks++

	fs := sfs.New(mismatched)
	err := fs.Mount(device, true)
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestPersistenceAcrossRemount(t *testing.T) {
	layout := sfstest.TinyLayout(t)
	fs, device := sfstest.Fresh(t, layout)

	fd, err := fs.Fopen("greeting.txt")
	require.NoError(t, err)
	n, err := fs.Fwrite(fd, []byte("hello, disk"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	require.NoError(t, fs.Fclose(fd))

	reopened := sfstest.Reopen(t, layout, device)

	size, err := reopened.GetFileSize("greeting.txt")
	require.NoError(t, err)
	assert.EqualValues(t, 11, size)

	fd2, err := reopened.Fopen("greeting.txt")
	require.NoError(t, err)
	require.NoError(t, reopened.Fseek(fd2, 0))
	buf := make([]byte, 11)
	n, err = reopened.Fread(fd2, buf)
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, "hello, disk", string(buf))
}
