// Package sfs implements the Simple File System: a flat-namespace file
// system layered over a block-addressable device, laid out the way
// file_systems/unixv1 layers an inode-based driver over drivers/common's
// block device abstractions.
package sfs

import (
	"github.com/noxer/bytewriter"

	"github.com/tancredelg/simple-file-system/blockdev"
	"github.com/tancredelg/simple-file-system/errs"
	"github.com/tancredelg/simple-file-system/freemap"
	"github.com/tancredelg/simple-file-system/geometry"
)

// openFile is a live entry in the file descriptor table: the inode it
// refers to, and the read/write head position established by Fopen's
// append-on-open rule.
type openFile struct {
	inodeNum int
	rwHead   int64
}

// FileSystem is a mounted SFS volume: the decoded superblock, inode table,
// and root directory held in memory, backed by a blockdev.Device for every
// region write-through to disk, mirroring unixv1.Driver's in-memory
// superblock/inode-table cache over a BlockCache.
type FileSystem struct {
	layout geometry.Layout
	device *blockdev.Device

	rootInode rawInode
	inodes    []rawInode
	entries   []directoryEntry
	alloc     freemap.Allocator

	fdt []*openFile

	// nextNameCursor is the directory iteration cursor GetNextFileName
	// advances on each call.
	nextNameCursor int
}

// New prepares an unmounted FileSystem for the given geometry. Call Mksfs
// to attach it to a disk image.
func New(layout geometry.Layout) *FileSystem {
	return &FileSystem{layout: layout}
}

func (fs *FileSystem) dirDataBlockCount() uint {
	return ceilDiv(fs.layout.DirSize*fs.layout.DirEntrySize(), fs.layout.BlockSize)
}

func (fs *FileSystem) dirUsesIndirect() bool {
	return fs.dirDataBlockCount() > 12
}

// Mksfs mounts the named disk image, formatting it fresh if fresh is true
// and otherwise reading and validating the existing volume, mirroring the
// original sfs_api mksfs(fresh) entry point.
func (fs *FileSystem) Mksfs(diskName string, fresh bool) error {
	var device *blockdev.Device
	var err error
	if fresh {
		device, err = blockdev.InitFreshDisk(diskName, fs.layout.BlockSize, fs.layout.TotalBlocks)
	} else {
		device, err = blockdev.InitDisk(diskName, fs.layout.BlockSize, fs.layout.TotalBlocks)
	}
	if err != nil {
		return err
	}
	return fs.Mount(device, fresh)
}

// Mount attaches fs to an already-open block device, formatting it fresh if
// fresh is true and otherwise reading and validating the existing volume.
// Tests use this directly with an in-memory device from blockdev.WrapStream,
// bypassing Mksfs's host-file handling.
func (fs *FileSystem) Mount(device *blockdev.Device, fresh bool) error {
	if err := fs.layout.Validate(); err != nil {
		return errs.ErrInvalidArgument.Wrap(err)
	}
	if device.BlockSize != fs.layout.BlockSize || device.TotalBlocks != fs.layout.TotalBlocks {
		return errs.ErrInvalidArgument.WithMessage("device geometry does not match the requested layout")
	}
	fs.device = device

	fs.fdt = make([]*openFile, fs.layout.FDTSize)
	fs.nextNameCursor = 0

	if fresh {
		return fs.format()
	}
	return fs.load()
}

// format builds the fresh superblock, inode table, and root directory image
// directly on the just-initialized disk, assembling the root directory and
// its indirect block with bytewriter.Writer the way unixv1/format.go
// assembles a fresh image.
func (fs *FileSystem) format() error {
	fs.inodes = make([]rawInode, fs.layout.DirSize)
	for i := range fs.inodes {
		fs.inodes[i] = freeRawInode()
	}
	fs.entries = make([]directoryEntry, fs.layout.DirSize)
	for i := range fs.entries {
		fs.entries[i] = directoryEntry{inodeNum: int16(i)}
	}
	fs.alloc = freemap.NewAllocator(fs.layout.DataBlocks, fs.layout.InodeTableBlocks)

	dataBlockCount := fs.dirDataBlockCount()
	usesIndirect := fs.dirUsesIndirect()
	toAllocate := dataBlockCount
	if usesIndirect {
		toAllocate++
	}
	if toAllocate > fs.layout.DataBlocks {
		return errs.ErrNoSpace.WithMessage("root directory does not fit in the data region")
	}

	addrs := make([]int, 0, toAllocate)
	for i := uint(0); i < toAllocate; i++ {
		addr, err := fs.alloc.Allocate()
		if err != nil {
			return err
		}
		addrs = append(addrs, addr)
	}

	fs.rootInode = rawInode{Size: int32(fs.layout.DirSize * fs.layout.DirEntrySize())}
	direct := dataBlockCount
	if direct > 12 {
		direct = 12
	}
	for i := uint(0); i < direct; i++ {
		fs.rootInode.Direct[i] = int32(addrs[i])
	}
	if usesIndirect {
		indirectAddr := addrs[len(addrs)-1]
		fs.rootInode.Indirect = int32(indirectAddr)
		pointers := make([]int32, dataBlockCount-12)
		for i := range pointers {
			pointers[i] = int32(addrs[12+uint(i)])
		}
		if err := fs.writeIndirectBlock(uint(indirectAddr), pointers); err != nil {
			return err
		}
	}

	dataAddrs := make([]uint, dataBlockCount)
	for i, a := range addrs[:dataBlockCount] {
		dataAddrs[i] = uint(a)
	}
	if err := fs.writeDirectoryBlocks(dataAddrs); err != nil {
		return err
	}
	if err := fs.writeInodeTable(); err != nil {
		return err
	}
	if err := fs.writeBitmap(); err != nil {
		return err
	}
	return fs.writeSuperblock()
}

// load reads and decodes the superblock, inode table, and free bitmap of an
// existing volume, checking the magic number and stored geometry before
// trusting the image.
func (fs *FileSystem) load() error {
	sbBuf := make([]byte, fs.layout.BlockSize)
	if err := fs.device.ReadBlocks(0, 1, sbBuf); err != nil {
		return err
	}
	sb, err := decodeSuperblock(sbBuf)
	if err != nil {
		return err
	}
	if sb.Magic != magicNumber {
		return errs.ErrCorrupted.WithMessage("bad magic number")
	}
	if uint(sb.BlockSize) != fs.layout.BlockSize || uint(sb.TotalBlocks) != fs.layout.TotalBlocks {
		return errs.ErrCorrupted.WithMessage("on-disk geometry does not match the requested layout")
	}
	fs.rootInode = sb.RootInode

	tableBuf := make([]byte, fs.layout.InodeTableBlocks*fs.layout.BlockSize)
	if err := fs.device.ReadBlocks(fs.layout.InodeTableBlockOffset(), fs.layout.InodeTableBlocks, tableBuf); err != nil {
		return err
	}
	fs.inodes, err = decodeInodeTable(tableBuf, fs.layout)
	if err != nil {
		return err
	}

	bitmapBuf := make([]byte, fs.layout.BitmapBlocks*fs.layout.BlockSize)
	if err := fs.device.ReadBlocks(fs.layout.BitmapBlockOffset(), fs.layout.BitmapBlocks, bitmapBuf); err != nil {
		return err
	}
	bitmap := freemap.FromBytes(bitmapBuf, fs.layout.DataBlocks)
	fs.alloc = freemap.NewAllocatorFromBitmap(bitmap, fs.layout.InodeTableBlocks)

	dataBlockCount := fs.dirDataBlockCount()
	addrs, err := fs.blockPointers(fs.rootInode, dataBlockCount)
	if err != nil {
		return err
	}
	dirBuf := make([]byte, 0, dataBlockCount*fs.layout.BlockSize)
	for _, addr := range addrs {
		block := make([]byte, fs.layout.BlockSize)
		if err := fs.device.ReadBlocks(addr, 1, block); err != nil {
			return err
		}
		dirBuf = append(dirBuf, block...)
	}
	fs.entries = decodeDirectory(dirBuf, fs.layout)

	return nil
}

// blockPointers resolves the first k block addresses of inode, reading the
// single-indirect block from disk only when k exceeds the twelve direct
// pointers, following unixv1.Driver's block-resolution pattern.
func (fs *FileSystem) blockPointers(inode rawInode, k uint) ([]uint, error) {
	maxK := 12 + fs.layout.BlockSize/4
	if k > maxK {
		return nil, errs.ErrFileTooLarge.WithMessage("position exceeds the indirect block's addressing range")
	}
	addrs := make([]uint, k)
	direct := k
	if direct > 12 {
		direct = 12
	}
	for i := uint(0); i < direct; i++ {
		addrs[i] = uint(inode.Direct[i])
	}
	if k > 12 {
		pointers, err := fs.readIndirectBlock(uint(inode.Indirect))
		if err != nil {
			return nil, err
		}
		for i := uint(12); i < k; i++ {
			addrs[i] = uint(pointers[i-12])
		}
	}
	return addrs, nil
}

func (fs *FileSystem) readIndirectBlock(addr uint) ([]int32, error) {
	buf := make([]byte, fs.layout.BlockSize)
	if err := fs.device.ReadBlocks(addr, 1, buf); err != nil {
		return nil, err
	}
	count := fs.layout.BlockSize / 4
	pointers := make([]int32, count)
	if err := decodeFixed(buf, pointers); err != nil {
		return nil, err
	}
	return pointers, nil
}

func (fs *FileSystem) writeIndirectBlock(addr uint, pointers []int32) error {
	block := make([]byte, fs.layout.BlockSize)
	w := bytewriter.New(block)
	for _, p := range pointers {
		if _, err := w.Write(encodeFixed(p)); err != nil {
			return errs.ErrIO.Wrap(err)
		}
	}
	return fs.device.WriteBlocks(addr, 1, block)
}

func (fs *FileSystem) writeDirectoryBlocks(addrs []uint) error {
	full := make([]byte, uint(len(addrs))*fs.layout.BlockSize)
	w := bytewriter.New(full)
	if _, err := w.Write(encodeDirectory(fs.entries, fs.layout)); err != nil {
		return errs.ErrIO.Wrap(err)
	}
	for i, addr := range addrs {
		block := full[uint(i)*fs.layout.BlockSize : uint(i+1)*fs.layout.BlockSize]
		if err := fs.device.WriteBlocks(addr, 1, block); err != nil {
			return err
		}
	}
	return nil
}

func (fs *FileSystem) writeInodeTable() error {
	buf := encodeInodeTable(fs.inodes, fs.layout)
	return fs.device.WriteBlocks(fs.layout.InodeTableBlockOffset(), fs.layout.InodeTableBlocks, buf)
}

func (fs *FileSystem) writeBitmap() error {
	buf := fs.alloc.Bytes()
	out := make([]byte, fs.layout.BitmapBlocks*fs.layout.BlockSize)
	copy(out, buf)
	return fs.device.WriteBlocks(fs.layout.BitmapBlockOffset(), fs.layout.BitmapBlocks, out)
}

func (fs *FileSystem) writeSuperblock() error {
	sb := superblockRecord{
		Magic:            magicNumber,
		BlockSize:        int32(fs.layout.BlockSize),
		TotalBlocks:      int32(fs.layout.TotalBlocks),
		InodeTableBlocks: int32(fs.layout.InodeTableBlocks),
		DataBlocks:       int32(fs.layout.DataBlocks),
		BitmapBlocks:     int32(fs.layout.BitmapBlocks),
		RootInode:        fs.rootInode,
	}
	buf := encodeSuperblock(sb, fs.layout)
	return fs.device.WriteBlocks(0, 1, buf)
}

// commitInodeTableAndBitmap persists the inode table and the free bitmap,
// in that order. Data and indirect blocks are already on disk by the time
// this is called, which completes the data -> indirect -> inode table ->
// bitmap write ordering a file write needs for crash consistency.
func (fs *FileSystem) commitInodeTableAndBitmap() error {
	if err := fs.writeInodeTable(); err != nil {
		return err
	}
	return fs.writeBitmap()
}

// commitInodeAndDirectory additionally rewrites the whole root directory
// image, for operations (create, remove) that change which names exist.
func (fs *FileSystem) commitInodeAndDirectory() error {
	if err := fs.commitInodeTableAndBitmap(); err != nil {
		return err
	}
	return fs.writeDirectoryBlocks(fs.mustRootDataBlockAddrs())
}

// mustRootDataBlockAddrs re-resolves the root directory's data block
// addresses from the in-memory root inode; it never touches the indirect
// block unless the directory itself spills past twelve blocks, which is
// fixed for a given geometry and already validated by dirUsesIndirect.
func (fs *FileSystem) mustRootDataBlockAddrs() []uint {
	addrs, err := fs.blockPointers(fs.rootInode, fs.dirDataBlockCount())
	if err != nil {
		// The root directory's own block pointers were resolved successfully
		// at mount time; a failure here would mean in-memory corruption.
		panic(err)
	}
	return addrs
}
