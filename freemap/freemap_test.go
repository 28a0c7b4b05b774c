package freemap_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tancredelg/simple-file-system/errs"
	"github.com/tancredelg/simple-file-system/freemap"
)

func TestBitmapSetClearTest(t *testing.T) {
	bm := freemap.New(16)
	assert.False(t, bm.Test(3))
	bm.Set(3)
	assert.True(t, bm.Test(3))
	bm.Clear(3)
	assert.False(t, bm.Test(3))
}

func TestAllocatorAddressTranslation(t *testing.T) {
	alloc := freemap.NewAllocator(8, 112)

	addr, err := alloc.Allocate()
	require.NoError(t, err)
	assert.EqualValues(t, 113, addr, "first data block must follow superblock + inode table")
	assert.EqualValues(t, 7, alloc.CountFree())

	require.NoError(t, alloc.Free(addr))
	assert.EqualValues(t, 8, alloc.CountFree())
}

func TestAllocatorExhaustion(t *testing.T) {
	alloc := freemap.NewAllocator(2, 0)

	_, err := alloc.Allocate()
	require.NoError(t, err)
	_, err = alloc.Allocate()
	require.NoError(t, err)

	_, err = alloc.Allocate()
	require.ErrorIs(t, err, errs.ErrNoSpace)
}

func TestAllocatorFreeOutOfRange(t *testing.T) {
	alloc := freemap.NewAllocator(4, 10)
	err := alloc.Free(999)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}
