// Package blockdev emulates a sector-granular block storage device backed by
// a host file (or, for tests, any io.ReadWriteSeeker). All I/O happens in
// whole-block units, mirroring the read_blocks/write_blocks/init_fresh_disk/
// init_disk interface that the file system core treats as an external
// collaborator.
package blockdev

import (
	"fmt"
	"io"
	"os"

	"github.com/tancredelg/simple-file-system/errs"
)

// Device is a block-addressable store of fixed-size blocks. It does not
// cache: every ReadBlocks/WriteBlocks call touches the backing stream
// directly, since the file system above it always rewrites entire metadata
// regions and gains nothing from a write-back cache.
type Device struct {
	BlockSize   uint
	TotalBlocks uint
	stream      io.ReadWriteSeeker
	closer      io.Closer
}

// InitFreshDisk creates (or truncates) the named host file, sizes it to
// blockSize*totalBlocks, and zero-fills it.
func InitFreshDisk(name string, blockSize, totalBlocks uint) (*Device, error) {
	f, err := os.Create(name)
	if err != nil {
		return nil, errs.ErrIO.Wrap(err)
	}

	size := int64(blockSize) * int64(totalBlocks)
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, errs.ErrIO.Wrap(err)
	}

	return &Device{
		BlockSize:   blockSize,
		TotalBlocks: totalBlocks,
		stream:      f,
		closer:      f,
	}, nil
}

// InitDisk opens an existing named host file for read/write without
// modifying its contents. It fails if the file is smaller than
// blockSize*totalBlocks.
func InitDisk(name string, blockSize, totalBlocks uint) (*Device, error) {
	f, err := os.OpenFile(name, os.O_RDWR, 0o644)
	if err != nil {
		return nil, errs.ErrIO.Wrap(err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errs.ErrIO.Wrap(err)
	}

	needed := int64(blockSize) * int64(totalBlocks)
	if info.Size() < needed {
		f.Close()
		return nil, errs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"disk image %q is %d bytes, need at least %d",
				name, info.Size(), needed,
			),
		)
	}

	return &Device{
		BlockSize:   blockSize,
		TotalBlocks: totalBlocks,
		stream:      f,
		closer:      f,
	}, nil
}

// WrapStream adapts an arbitrary io.ReadWriteSeeker (e.g. an in-memory
// buffer from bytesextra, used in tests) as a Device. The caller is
// responsible for ensuring the stream already holds blockSize*totalBlocks
// bytes.
func WrapStream(stream io.ReadWriteSeeker, blockSize, totalBlocks uint) *Device {
	d := &Device{BlockSize: blockSize, TotalBlocks: totalBlocks, stream: stream}
	if c, ok := stream.(io.Closer); ok {
		d.closer = c
	}
	return d
}

func (d *Device) checkRange(start, count uint) error {
	if count == 0 {
		return errs.ErrInvalidArgument.WithMessage("block count must be nonzero")
	}
	if start >= d.TotalBlocks || start+count > d.TotalBlocks {
		return errs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"block range [%d, %d) not within [0, %d)",
				start, start+count, d.TotalBlocks,
			),
		)
	}
	return nil
}

// ReadBlocks fills buf (which must be exactly count*BlockSize bytes) with
// the contents of count whole blocks starting at block start.
func (d *Device) ReadBlocks(start, count uint, buf []byte) error {
	if err := d.checkRange(start, count); err != nil {
		return err
	}
	want := int(count * d.BlockSize)
	if len(buf) != want {
		return errs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("buffer is %d bytes, expected %d", len(buf), want),
		)
	}

	if _, err := d.stream.Seek(int64(start)*int64(d.BlockSize), io.SeekStart); err != nil {
		return errs.ErrIO.Wrap(err)
	}
	if _, err := io.ReadFull(d.stream, buf); err != nil {
		return errs.ErrIO.Wrap(err)
	}
	return nil
}

// WriteBlocks writes buf (which must be exactly count*BlockSize bytes) to
// count whole blocks starting at block start.
func (d *Device) WriteBlocks(start, count uint, buf []byte) error {
	if err := d.checkRange(start, count); err != nil {
		return err
	}
	want := int(count * d.BlockSize)
	if len(buf) != want {
		return errs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("buffer is %d bytes, expected %d", len(buf), want),
		)
	}

	if _, err := d.stream.Seek(int64(start)*int64(d.BlockSize), io.SeekStart); err != nil {
		return errs.ErrIO.Wrap(err)
	}
	if _, err := d.stream.Write(buf); err != nil {
		return errs.ErrIO.Wrap(err)
	}
	return nil
}

// Close releases the underlying host file, if any. Streams wrapped via
// WrapStream that don't implement io.Closer are a no-op.
func (d *Device) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer.Close()
}
