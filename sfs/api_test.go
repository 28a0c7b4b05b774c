package sfs_test

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tancredelg/simple-file-system/errs"
	"github.com/tancredelg/simple-file-system/internal/sfstest"
)

func TestFopenCreatesThenReopensSameFile(t *testing.T) {
	layout := sfstest.TinyLayout(t)
	fs, _ := sfstest.Fresh(t, layout)

	fd1, err := fs.Fopen("a.txt")
	require.NoError(t, err)
	_, err = fs.Fwrite(fd1, []byte("abc"))
	require.NoError(t, err)
	require.NoError(t, fs.Fclose(fd1))

	fd2, err := fs.Fopen("a.txt")
	require.NoError(t, err)
	size, err := fs.GetFileSize("a.txt")
	require.NoError(t, err)
	assert.EqualValues(t, 3, size)

	// Append-on-open: the read/write head starts at the current end of file.
	n, err := fs.Fwrite(fd2, []byte("def"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, fs.Fseek(fd2, 0))
	buf := make([]byte, 6)
	n, err = fs.Fread(fd2, buf)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "abcdef", string(buf))
}

func TestFopenIsIdempotentWithoutClose(t *testing.T) {
	layout := sfstest.TinyLayout(t)
	fs, _ := sfstest.Fresh(t, layout)

	fd1, err := fs.Fopen("same.txt")
	require.NoError(t, err)
	fd2, err := fs.Fopen("same.txt")
	require.NoError(t, err)
	assert.Equal(t, fd1, fd2, "opening an already-open file must return the same fd")

	// The write head is shared too, since it's the same FDT entry.
	n, err := fs.Fwrite(fd1, []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, fs.Fseek(fd2, 0))
	buf := make([]byte, 3)
	n, err = fs.Fread(fd2, buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "abc", string(buf))
}

func TestFopenRejectsNameTooLong(t *testing.T) {
	layout := sfstest.TinyLayout(t)
	fs, _ := sfstest.Fresh(t, layout)

	longName := strings.Repeat("x", int(layout.MaxFilename)+1)
	_, err := fs.Fopen(longName)
	require.ErrorIs(t, err, errs.ErrNameTooLong)
}

func TestFopenFailsWhenDirectoryFull(t *testing.T) {
	layout := sfstest.TinyLayout(t)
	fs, _ := sfstest.Fresh(t, layout)

	for i := uint(0); i < layout.DirSize; i++ {
		fd, err := fs.Fopen(fmt.Sprintf("f%d", i))
		require.NoError(t, err)
		require.NoError(t, fs.Fclose(fd))
	}
	_, err := fs.Fopen("one-too-many")
	require.ErrorIs(t, err, errs.ErrDirectoryFull)
}

func TestFopenFailsWhenFDTFull(t *testing.T) {
	layout := sfstest.TinyLayout(t)
	fs, _ := sfstest.Fresh(t, layout)

	for i := uint(0); i < layout.FDTSize; i++ {
		name := "file" + string(rune('a'+i))
		_, err := fs.Fopen(name)
		require.NoError(t, err)
	}
	_, err := fs.Fopen("overflow")
	require.ErrorIs(t, err, errs.ErrFDTFull)
}

func TestFreadStopsAtEndOfFile(t *testing.T) {
	layout := sfstest.TinyLayout(t)
	fs, _ := sfstest.Fresh(t, layout)

	fd, err := fs.Fopen("short.txt")
	require.NoError(t, err)
	_, err = fs.Fwrite(fd, []byte("hi"))
	require.NoError(t, err)
	require.NoError(t, fs.Fseek(fd, 0))

	buf := make([]byte, 100)
	n, err := fs.Fread(fd, buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "hi", string(buf[:n]))

	n, err = fs.Fread(fd, buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "reading past end of file returns zero, not an error")
}

func TestFwriteSpansIndirectBlock(t *testing.T) {
	layout := sfstest.TinyLayout(t)
	fs, _ := sfstest.Fresh(t, layout)

	// 13 blocks worth of data forces the allocator past the twelve direct
	// pointers and into the single-indirect block.
	payload := bytes.Repeat([]byte{0xAB}, int(layout.BlockSize)*13)

	fd, err := fs.Fopen("big.bin")
	require.NoError(t, err)
	n, err := fs.Fwrite(fd, payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	require.NoError(t, fs.Fseek(fd, 0))
	readBack := make([]byte, len(payload))
	n, err = fs.Fread(fd, readBack)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.True(t, bytes.Equal(payload, readBack))
}

func TestFwriteRejectsFileLargerThanMax(t *testing.T) {
	layout := sfstest.TinyLayout(t)
	fs, _ := sfstest.Fresh(t, layout)

	fd, err := fs.Fopen("huge.bin")
	require.NoError(t, err)

	tooBig := make([]byte, layout.MaxFileSize()+1)
	_, err = fs.Fwrite(fd, tooBig)
	require.ErrorIs(t, err, errs.ErrFileTooLarge)
}

func TestFwriteRunsOutOfSpaceAndRollsBack(t *testing.T) {
	layout := sfstest.TinyLayout(t)
	fs, _ := sfstest.Fresh(t, layout)

	fd, err := fs.Fopen("filler.bin")
	require.NoError(t, err)

	// Ask for more data blocks than the tiny volume has; Allocate fails
	// partway through and every block it grabbed for this call must be
	// returned to the free bitmap.
	tooMuch := make([]byte, layout.BlockSize*(layout.DataBlocks+1))
	_, err = fs.Fwrite(fd, tooMuch)
	require.Error(t, err)

	fd2, err := fs.Fopen("after-failure.bin")
	require.NoError(t, err)
	n, err := fs.Fwrite(fd2, []byte("still room"))
	require.NoError(t, err, "rollback must have freed the blocks the failed write grabbed")
	assert.Equal(t, 10, n)
}

func TestFseekRejectsPastEndOfFile(t *testing.T) {
	layout := sfstest.TinyLayout(t)
	fs, _ := sfstest.Fresh(t, layout)

	fd, err := fs.Fopen("seek.txt")
	require.NoError(t, err)
	_, err = fs.Fwrite(fd, []byte("abcde"))
	require.NoError(t, err)

	require.Error(t, fs.Fseek(fd, 100))
	require.NoError(t, fs.Fseek(fd, 5))
	require.NoError(t, fs.Fseek(fd, 0))
}

func TestOperationsOnInvalidHandle(t *testing.T) {
	layout := sfstest.TinyLayout(t)
	fs, _ := sfstest.Fresh(t, layout)

	_, err := fs.Fwrite(99, []byte("x"))
	require.ErrorIs(t, err, errs.ErrInvalidHandle)

	_, err = fs.Fread(99, make([]byte, 1))
	require.ErrorIs(t, err, errs.ErrInvalidHandle)

	require.ErrorIs(t, fs.Fseek(99, 0), errs.ErrInvalidHandle)
	require.ErrorIs(t, fs.Fclose(99), errs.ErrInvalidHandle)
}

func TestRemoveReleasesSpaceAndClosesDescriptors(t *testing.T) {
	layout := sfstest.TinyLayout(t)
	fs, _ := sfstest.Fresh(t, layout)

	fd, err := fs.Fopen("doomed.bin")
	require.NoError(t, err)
	_, err = fs.Fwrite(fd, bytes.Repeat([]byte{1}, int(layout.BlockSize)*3))
	require.NoError(t, err)

	require.NoError(t, fs.Remove("doomed.bin"))

	_, err = fs.GetFileSize("doomed.bin")
	require.ErrorIs(t, err, errs.ErrNotFound)

	// The descriptor opened before the removal is no longer valid.
	_, err = fs.Fwrite(fd, []byte("x"))
	require.ErrorIs(t, err, errs.ErrInvalidHandle)

	// The freed blocks are available again.
	fd2, err := fs.Fopen("replacement.bin")
	require.NoError(t, err)
	n, err := fs.Fwrite(fd2, bytes.Repeat([]byte{2}, int(layout.BlockSize)*3))
	require.NoError(t, err)
	assert.Equal(t, int(layout.BlockSize)*3, n)
}

func TestRemoveUnknownFileFails(t *testing.T) {
	layout := sfstest.TinyLayout(t)
	fs, _ := sfstest.Fresh(t, layout)

	require.ErrorIs(t, fs.Remove("nope.txt"), errs.ErrNotFound)
}

func TestGetNextFileNameEnumeratesAndWraps(t *testing.T) {
	layout := sfstest.TinyLayout(t)
	fs, _ := sfstest.Fresh(t, layout)

	names := []string{"one.txt", "two.txt", "three.txt"}
	for _, name := range names {
		_, err := fs.Fopen(name)
		require.NoError(t, err)
	}

	seen := map[string]int{}
	for i := 0; i < len(names)*2; i++ {
		name, ok := fs.GetNextFileName()
		require.True(t, ok)
		seen[name]++
	}
	for _, name := range names {
		assert.Equal(t, 2, seen[name], "each file should appear once per full wrap")
	}
}
