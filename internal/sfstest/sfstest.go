// Package sfstest provides fixtures for building in-memory SFS volumes in
// tests, modeled on testing.LoadDiskImage's use of bytesextra to present a
// plain []byte buffer as an io.ReadWriteSeeker.
package sfstest

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"

	"github.com/tancredelg/simple-file-system/blockdev"
	"github.com/tancredelg/simple-file-system/geometry"
	"github.com/tancredelg/simple-file-system/sfs"
)

// NewDevice wraps a zero-filled in-memory buffer sized for layout as a
// blockdev.Device, so tests never touch a host file.
func NewDevice(layout geometry.Layout) *blockdev.Device {
	buf := make([]byte, layout.BlockSize*layout.TotalBlocks)
	stream := bytesextra.NewReadWriteSeeker(buf)
	return blockdev.WrapStream(stream, layout.BlockSize, layout.TotalBlocks)
}

// Fresh mounts a brand-new, freshly-formatted FileSystem over an in-memory
// device with the given layout, failing the test on any error.
func Fresh(t *testing.T, layout geometry.Layout) (*sfs.FileSystem, *blockdev.Device) {
	t.Helper()
	device := NewDevice(layout)
	fs := sfs.New(layout)
	require.NoError(t, fs.Mount(device, true))
	return fs, device
}

// Reopen mounts a fresh FileSystem value for the same layout over the
// same device an earlier Fresh call formatted, simulating an unmount
// followed by a remount of the same disk image.
func Reopen(t *testing.T, layout geometry.Layout, device *blockdev.Device) *sfs.FileSystem {
	t.Helper()
	fs := sfs.New(layout)
	require.NoError(t, fs.Mount(device, false))
	return fs
}

// TinyLayout returns the small "tiny" preset geometry the tests run on; its
// 512-byte blocks keep even files that reach the indirect block small.
func TinyLayout(t *testing.T) geometry.Layout {
	t.Helper()
	layout, err := geometry.Named("tiny")
	require.NoError(t, err)
	return layout
}
