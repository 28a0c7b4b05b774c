package sfs

import (
	"bytes"
	"encoding/binary"

	"github.com/tancredelg/simple-file-system/errs"
	"github.com/tancredelg/simple-file-system/geometry"
)

// magicNumber identifies a block 0 as an SFS superblock.
const magicNumber = int32(0x53465331) // "SFS1"

// freeInodeSize is the sentinel Size value of an unused inode.
const freeInodeSize = int32(-1)

// rawInode is the fixed-size, on-disk inode record: a size in bytes, twelve
// direct data-block pointers, and one single-indirect pointer to a block
// holding further 32-bit pointers.
type rawInode struct {
	Size     int32
	Direct   [12]int32
	Indirect int32
}

func freeRawInode() rawInode {
	return rawInode{Size: freeInodeSize}
}

// directoryEntry is the in-memory form of an on-disk directory entry; unlike
// rawInode its on-disk width depends on the geometry's MaxFilename, so it is
// packed and unpacked by encodeDirEntry/decodeDirEntry rather than by
// encoding/binary directly.
type directoryEntry struct {
	used     byte
	name     string
	inodeNum int16
}

func (e directoryEntry) isUsed() bool { return e.used != 0 }

// superblockRecord is the fixed-size, on-disk block 0.
type superblockRecord struct {
	Magic            int32
	BlockSize        int32
	TotalBlocks      int32
	InodeTableBlocks int32
	DataBlocks       int32
	BitmapBlocks     int32
	RootInode        rawInode
}

func ceilDiv(a, b uint) uint {
	return (a + b - 1) / b
}

// encodeFixed serializes any fixed-layout value (no strings, slices, or
// maps) as packed little-endian bytes, panicking on programmer error since
// every caller in this package passes a value whose layout is known ahead of
// time.
func encodeFixed(v any) []byte {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func decodeFixed(data []byte, v any) error {
	reader := bytes.NewReader(data)
	if err := binary.Read(reader, binary.LittleEndian, v); err != nil {
		return errs.ErrCorrupted.Wrap(err)
	}
	return nil
}

func encodeSuperblock(sb superblockRecord, layout geometry.Layout) []byte {
	out := make([]byte, layout.BlockSize)
	copy(out, encodeFixed(sb))
	return out
}

func decodeSuperblock(buf []byte) (superblockRecord, error) {
	var sb superblockRecord
	size := binary.Size(sb)
	if len(buf) < size {
		return sb, errs.ErrCorrupted.WithMessage("superblock block is smaller than the record")
	}
	err := decodeFixed(buf[:size], &sb)
	return sb, err
}

func encodeInodeTable(inodes []rawInode, layout geometry.Layout) []byte {
	buf := new(bytes.Buffer)
	for _, inode := range inodes {
		binary.Write(buf, binary.LittleEndian, inode) //nolint:errcheck
	}
	out := make([]byte, layout.InodeTableBlocks*layout.BlockSize)
	copy(out, buf.Bytes())
	return out
}

func decodeInodeTable(buf []byte, layout geometry.Layout) ([]rawInode, error) {
	inodes := make([]rawInode, layout.DirSize)
	reader := bytes.NewReader(buf)
	for i := range inodes {
		if err := binary.Read(reader, binary.LittleEndian, &inodes[i]); err != nil {
			return nil, errs.ErrCorrupted.Wrap(err)
		}
	}
	return inodes, nil
}

// encodeDirEntry packs a single directory entry to layout's record width;
// MaxFilename is configurable per geometry, so the width is computed at
// runtime rather than fixed at compile time.
func encodeDirEntry(used byte, name string, inodeNum int16, layout geometry.Layout) []byte {
	out := make([]byte, int(layout.DirEntrySize()))
	out[0] = used
	copy(out[1:1+layout.MaxFilename], name)
	binary.LittleEndian.PutUint16(out[len(out)-2:], uint16(inodeNum))
	return out
}

func decodeDirEntry(buf []byte, layout geometry.Layout) (used byte, name string, inodeNum int16) {
	used = buf[0]
	nameBytes := buf[1 : 1+layout.MaxFilename+1]
	nul := bytes.IndexByte(nameBytes, 0)
	if nul < 0 {
		nul = len(nameBytes)
	}
	name = string(nameBytes[:nul])
	inodeNum = int16(binary.LittleEndian.Uint16(buf[len(buf)-2:]))
	return
}

func encodeDirectory(entries []directoryEntry, layout geometry.Layout) []byte {
	recSize := int(layout.DirEntrySize())
	out := make([]byte, int(layout.DirSize)*recSize)
	for i, e := range entries {
		rec := encodeDirEntry(e.used, e.name, e.inodeNum, layout)
		copy(out[i*recSize:(i+1)*recSize], rec)
	}
	return out
}

func decodeDirectory(buf []byte, layout geometry.Layout) []directoryEntry {
	recSize := int(layout.DirEntrySize())
	entries := make([]directoryEntry, layout.DirSize)
	for i := range entries {
		rec := buf[i*recSize : (i+1)*recSize]
		used, name, inodeNum := decodeDirEntry(rec, layout)
		entries[i] = directoryEntry{used: used, name: name, inodeNum: inodeNum}
	}
	return entries
}
