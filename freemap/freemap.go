// Package freemap provides bit-level free/used tracking for data blocks and
// the allocator built on top of it. It centralizes the only place where
// bitmap-local indices and absolute disk block addresses meet, in
// Allocator.
package freemap

import (
	"github.com/boljen/go-bitmap"

	"github.com/tancredelg/simple-file-system/errs"
)

// Bitmap is one bit per data block; a set bit means the block is allocated.
// Indices are bitmap-local (0-based over the data-block region), never
// absolute disk addresses.
type Bitmap struct {
	bits bitmap.Bitmap
	n    uint
}

// New creates a bitmap for n data blocks, all initially free.
func New(n uint) Bitmap {
	return Bitmap{bits: bitmap.New(int(n)), n: n}
}

// FromBytes reconstructs a bitmap of n bits from its persisted byte form.
func FromBytes(data []byte, n uint) Bitmap {
	return Bitmap{bits: bitmap.Bitmap(data), n: n}
}

// Bytes returns the raw bitmap buffer, ready to be written to disk as-is.
func (b Bitmap) Bytes() []byte {
	return b.bits.Data(false)
}

func (b Bitmap) Set(n uint)   { b.bits.Set(int(n), true) }
func (b Bitmap) Clear(n uint) { b.bits.Set(int(n), false) }
func (b Bitmap) Test(n uint) bool {
	return b.bits.Get(int(n))
}

// CountFree returns the number of zero bits in [0, N).
func (b Bitmap) CountFree() uint {
	free := uint(0)
	for i := uint(0); i < b.n; i++ {
		if !b.Test(i) {
			free++
		}
	}
	return free
}

// Allocator scans a Bitmap for free data blocks and translates between
// bitmap-local indices and absolute disk block addresses. InodeTableBlocks
// is the number of blocks occupied by the inode table, which together with
// the fixed one-block superblock gives the offset of data block 0.
type Allocator struct {
	Bitmap           Bitmap
	InodeTableBlocks uint
}

// NewAllocator creates an allocator over n data blocks.
func NewAllocator(n, inodeTableBlocks uint) Allocator {
	return Allocator{Bitmap: New(n), InodeTableBlocks: inodeTableBlocks}
}

// NewAllocatorFromBitmap wraps an already-populated Bitmap (typically read
// back from disk) in an Allocator.
func NewAllocatorFromBitmap(bm Bitmap, inodeTableBlocks uint) Allocator {
	return Allocator{Bitmap: bm, InodeTableBlocks: inodeTableBlocks}
}

// Bytes returns the allocator's underlying bitmap buffer, ready to be
// written to disk as-is.
func (a Allocator) Bytes() []byte {
	return a.Bitmap.Bytes()
}

func (a Allocator) localToAbsolute(local uint) int {
	return int(local) + 1 + int(a.InodeTableBlocks)
}

func (a Allocator) absoluteToLocal(absolute int) (uint, error) {
	local := absolute - 1 - int(a.InodeTableBlocks)
	if local < 0 || uint(local) >= a.Bitmap.n {
		return 0, errs.ErrInvalidArgument.WithMessage("block address outside data region")
	}
	return uint(local), nil
}

// CountFree returns the number of unallocated data blocks.
func (a Allocator) CountFree() uint {
	return a.Bitmap.CountFree()
}

// Allocate finds the first free data block, marks it used, and returns its
// absolute disk block address. Returns errs.ErrNoSpace if none are free.
func (a Allocator) Allocate() (int, error) {
	for i := uint(0); i < a.Bitmap.n; i++ {
		if !a.Bitmap.Test(i) {
			a.Bitmap.Set(i)
			return a.localToAbsolute(i), nil
		}
	}
	return -1, errs.ErrNoSpace
}

// Free releases the data block at the given absolute disk block address.
func (a Allocator) Free(absoluteBlock int) error {
	local, err := a.absoluteToLocal(absoluteBlock)
	if err != nil {
		return err
	}
	a.Bitmap.Clear(local)
	return nil
}
