// Package geometry defines disk layouts for SFS and a registry of named,
// pre-validated presets, modeled on disks.DiskGeometry's CSV-backed registry
// of floppy disk geometries.
package geometry

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/hashicorp/go-multierror"
)

// Layout describes the fixed, on-disk geometry of an SFS volume: the sizes
// of every region laid end to end across the disk.
type Layout struct {
	Slug        string `csv:"slug"`
	Description string `csv:"description"`

	// BlockSize is B, the size of a block in bytes.
	BlockSize uint `csv:"block_size"`
	// TotalBlocks is Q, the total number of blocks on the volume.
	TotalBlocks uint `csv:"total_blocks"`
	// InodeTableBlocks is M, the number of blocks holding the inode table.
	InodeTableBlocks uint `csv:"inode_table_blocks"`
	// DataBlocks is N, the number of data blocks (directory + file data).
	DataBlocks uint `csv:"data_blocks"`
	// BitmapBlocks is L, the number of blocks holding the free bitmap.
	BitmapBlocks uint `csv:"bitmap_blocks"`
	// DirSize is the number of slots in the root directory, and also the
	// number of inodes in the inode table (one inode per possible file).
	DirSize uint `csv:"dir_size"`
	// FDTSize is the number of file descriptor table slots.
	FDTSize uint `csv:"fdt_size"`
	// MaxFilename is the longest filename, in bytes, excluding the NUL
	// terminator.
	MaxFilename uint `csv:"max_filename"`
}

// MaxFileSize gives the largest file size addressable with twelve direct
// pointers plus one single-indirect block of 32-bit pointers.
func (l Layout) MaxFileSize() int64 {
	pointersPerIndirectBlock := int64(l.BlockSize) / 4
	return (12 + pointersPerIndirectBlock) * int64(l.BlockSize)
}

// InodeSize is the number of bytes a single on-disk inode record occupies:
// one 32-bit size field, twelve 32-bit direct pointers, one 32-bit indirect
// pointer.
const InodeSize = 4 * (1 + 12 + 1)

// DirEntrySize is the number of bytes a single on-disk directory entry
// occupies: a used flag, the filename buffer, and a 16-bit inode number.
func (l Layout) DirEntrySize() uint {
	return 1 + (l.MaxFilename + 1) + 2
}

// InodeTableBlockOffset returns the absolute block address of the first
// block of the inode table (always 1, the superblock is always block 0).
func (Layout) InodeTableBlockOffset() uint { return 1 }

// DataBlockOffset returns the absolute block address of the first data
// block.
func (l Layout) DataBlockOffset() uint {
	return l.InodeTableBlockOffset() + l.InodeTableBlocks
}

// BitmapBlockOffset returns the absolute block address of the first block
// of the free bitmap, the second-to-last region on the volume.
func (l Layout) BitmapBlockOffset() uint {
	return l.TotalBlocks - l.BitmapBlocks - 1
}

// Validate checks every geometry invariant this module relies on, collecting
// every violation instead of stopping at the first, so a bad layout reports
// everything wrong with it in one pass.
func (l Layout) Validate() error {
	var result *multierror.Error

	if l.BlockSize == 0 || l.BlockSize%4 != 0 {
		result = multierror.Append(result, fmt.Errorf(
			"block size must be a nonzero multiple of 4, got %d", l.BlockSize))
	}
	if l.DirSize == 0 {
		result = multierror.Append(result, fmt.Errorf("dir_size must be nonzero"))
	}
	if l.FDTSize == 0 {
		result = multierror.Append(result, fmt.Errorf("fdt_size must be nonzero"))
	}
	if l.MaxFilename == 0 {
		result = multierror.Append(result, fmt.Errorf("max_filename must be nonzero"))
	}
	if l.InodeTableBlocks == 0 {
		result = multierror.Append(result, fmt.Errorf("inode_table_blocks must be nonzero"))
	} else if l.BlockSize > 0 {
		capacity := (l.InodeTableBlocks * l.BlockSize) / InodeSize
		if capacity < l.DirSize {
			result = multierror.Append(result, fmt.Errorf(
				"inode table has room for %d inodes, need %d (dir_size)",
				capacity, l.DirSize))
		}
	}

	expectedTotal := l.InodeTableBlockOffset() + l.InodeTableBlocks + l.DataBlocks + l.BitmapBlocks + 1
	if l.TotalBlocks != expectedTotal {
		result = multierror.Append(result, fmt.Errorf(
			"total_blocks (%d) must equal 1 (superblock) + %d (inode table)"+
				" + %d (data) + %d (bitmap) + 1 (reserved) = %d",
			l.TotalBlocks, l.InodeTableBlocks, l.DataBlocks, l.BitmapBlocks,
			expectedTotal))
	}

	if l.BitmapBlocks > 0 && l.BlockSize > 0 {
		bitsAvailable := l.BitmapBlocks * l.BlockSize * 8
		if bitsAvailable < l.DataBlocks {
			result = multierror.Append(result, fmt.Errorf(
				"bitmap has room for %d bits, need %d (data_blocks)",
				bitsAvailable, l.DataBlocks))
		}
	}

	return result.ErrorOrNil()
}

//go:embed geometries.csv
var rawGeometriesCSV string

var registry = map[string]Layout{}

func init() {
	reader := strings.NewReader(rawGeometriesCSV)
	err := gocsv.UnmarshalToCallback(reader, func(l Layout) error {
		if _, exists := registry[l.Slug]; exists {
			return fmt.Errorf("duplicate geometry preset %q", l.Slug)
		}
		if err := l.Validate(); err != nil {
			return fmt.Errorf("preset %q is invalid: %w", l.Slug, err)
		}
		registry[l.Slug] = l
		return nil
	})
	if err != nil {
		panic(err)
	}
}

// Named returns the preset layout registered under slug, e.g. "classic" for
// the recommended layout for a general-purpose volume.
func Named(slug string) (Layout, error) {
	l, ok := registry[slug]
	if !ok {
		return Layout{}, fmt.Errorf("no predefined SFS geometry named %q", slug)
	}
	return l, nil
}
