package sfs

import "github.com/tancredelg/simple-file-system/errs"

func (fs *FileSystem) validateName(name string) error {
	if len(name) == 0 || uint(len(name)) > fs.layout.MaxFilename {
		return errs.ErrNameTooLong
	}
	return nil
}

func (fs *FileSystem) findEntry(name string) (int, *directoryEntry) {
	for i := range fs.entries {
		if fs.entries[i].isUsed() && fs.entries[i].name == name {
			return i, &fs.entries[i]
		}
	}
	return -1, nil
}

func (fs *FileSystem) freeDirSlot() (int, error) {
	for i := range fs.entries {
		if !fs.entries[i].isUsed() {
			return i, nil
		}
	}
	return -1, errs.ErrDirectoryFull
}

func (fs *FileSystem) freeFDTSlot() (int, error) {
	for i, of := range fs.fdt {
		if of == nil {
			return i, nil
		}
	}
	return -1, errs.ErrFDTFull
}

func (fs *FileSystem) getOpenFile(fd int) (*openFile, error) {
	if fd < 0 || fd >= len(fs.fdt) || fs.fdt[fd] == nil {
		return nil, errs.ErrInvalidHandle
	}
	return fs.fdt[fd], nil
}

// findOpenFD returns the fd of an already-open FDT entry for inodeNum, if
// any, so a second Fopen of the same file can reuse it instead of consuming
// another slot.
func (fs *FileSystem) findOpenFD(inodeNum int) (int, bool) {
	for fd, of := range fs.fdt {
		if of != nil && of.inodeNum == inodeNum {
			return fd, true
		}
	}
	return -1, false
}

// Fopen opens name for reading and writing, creating it if it does not
// already exist, and positions the read/write head at the end of the file.
// Opening a file that is already open returns the same fd rather than a new
// one: idempotent open.
func (fs *FileSystem) Fopen(name string) (int, error) {
	if err := fs.validateName(name); err != nil {
		return -1, err
	}

	_, entry := fs.findEntry(name)
	if entry != nil {
		if fd, ok := fs.findOpenFD(int(entry.inodeNum)); ok {
			return fd, nil
		}
	}

	fd, err := fs.freeFDTSlot()
	if err != nil {
		return -1, err
	}

	if entry == nil {
		slotIdx, err := fs.freeDirSlot()
		if err != nil {
			return -1, err
		}
		fs.entries[slotIdx].used = 1
		fs.entries[slotIdx].name = name
		inodeNum := fs.entries[slotIdx].inodeNum
		fs.inodes[inodeNum] = rawInode{Size: 0}
		if err := fs.commitInodeAndDirectory(); err != nil {
			return -1, err
		}
		entry = &fs.entries[slotIdx]
	}

	fs.fdt[fd] = &openFile{
		inodeNum: int(entry.inodeNum),
		rwHead:   int64(fs.inodes[entry.inodeNum].Size),
	}
	return fd, nil
}

// Fclose releases fd. Data is already durable on disk by the time this is
// called: every Fwrite commits before returning.
func (fs *FileSystem) Fclose(fd int) error {
	if _, err := fs.getOpenFile(fd); err != nil {
		return err
	}
	fs.fdt[fd] = nil
	return nil
}

// Fwrite writes data at the current read/write head, growing the file and
// allocating new blocks as needed, and advances the head by the number of
// bytes written. On any failure partway through, blocks allocated during
// this call are freed before returning so the volume never retains
// orphaned allocations.
func (fs *FileSystem) Fwrite(fd int, data []byte) (int, error) {
	of, err := fs.getOpenFile(fd)
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}
	inode := fs.inodes[of.inodeNum]

	endPos := of.rwHead + int64(len(data))
	if endPos > fs.layout.MaxFileSize() {
		return 0, errs.ErrFileTooLarge
	}

	blocksHave := uint(0)
	if inode.Size > 0 {
		blocksHave = ceilDiv(uint(inode.Size), fs.layout.BlockSize)
	}
	blocksNeeded := ceilDiv(uint(endPos), fs.layout.BlockSize)

	var pointers []uint
	if blocksHave > 0 {
		pointers, err = fs.blockPointers(inode, blocksHave)
		if err != nil {
			return 0, err
		}
	}

	var newlyAllocated []int
	rollback := func() {
		for _, a := range newlyAllocated {
			fs.alloc.Free(a) //nolint:errcheck
		}
	}

	indirectAddr := inode.Indirect
	if blocksNeeded > 12 && indirectAddr == 0 {
		addr, err := fs.alloc.Allocate()
		if err != nil {
			rollback()
			return 0, err
		}
		newlyAllocated = append(newlyAllocated, addr)
		indirectAddr = int32(addr)
	}

	for uint(len(pointers)) < blocksNeeded {
		addr, err := fs.alloc.Allocate()
		if err != nil {
			rollback()
			return 0, err
		}
		newlyAllocated = append(newlyAllocated, addr)
		pointers = append(pointers, uint(addr))
	}

	written := 0
	remaining := data
	pos := of.rwHead
	for len(remaining) > 0 {
		blockIdx := uint(pos) / fs.layout.BlockSize
		offset := uint(pos) % fs.layout.BlockSize
		addr := pointers[blockIdx]

		block := make([]byte, fs.layout.BlockSize)
		if blockIdx < blocksHave {
			if err := fs.device.ReadBlocks(addr, 1, block); err != nil {
				rollback()
				return written, err
			}
		}
		n := copy(block[offset:], remaining)
		if err := fs.device.WriteBlocks(addr, 1, block); err != nil {
			rollback()
			return written, err
		}
		remaining = remaining[n:]
		written += n
		pos += int64(n)
	}

	// pointers covers every block the file owns after this write, including
	// existing blocks past the written range, so none of them is dropped.
	total := uint(len(pointers))
	if total > 12 {
		newPointers := make([]int32, total-12)
		for i := range newPointers {
			newPointers[i] = int32(pointers[12+uint(i)])
		}
		if err := fs.writeIndirectBlock(uint(indirectAddr), newPointers); err != nil {
			rollback()
			return written, err
		}
	}

	direct := total
	if direct > 12 {
		direct = 12
	}
	for i := uint(0); i < direct; i++ {
		inode.Direct[i] = int32(pointers[i])
	}
	inode.Indirect = indirectAddr
	if pos > int64(inode.Size) {
		inode.Size = int32(pos)
	}
	fs.inodes[of.inodeNum] = inode
	of.rwHead = pos

	if err := fs.commitInodeTableAndBitmap(); err != nil {
		return written, err
	}
	return written, nil
}

// Fread reads up to len(buf) bytes starting at the current read/write head,
// stopping at end of file, and advances the head by the number of bytes
// actually read.
func (fs *FileSystem) Fread(fd int, buf []byte) (int, error) {
	of, err := fs.getOpenFile(fd)
	if err != nil {
		return 0, err
	}
	if len(buf) == 0 {
		return 0, nil
	}
	inode := fs.inodes[of.inodeNum]
	if of.rwHead >= int64(inode.Size) {
		return 0, nil
	}

	avail := int64(inode.Size) - of.rwHead
	toRead := int64(len(buf))
	if toRead > avail {
		toRead = avail
	}

	blocksNeeded := ceilDiv(uint(of.rwHead+toRead), fs.layout.BlockSize)
	pointers, err := fs.blockPointers(inode, blocksNeeded)
	if err != nil {
		return 0, err
	}

	var read int64
	pos := of.rwHead
	for read < toRead {
		blockIdx := uint(pos) / fs.layout.BlockSize
		offset := uint(pos) % fs.layout.BlockSize
		addr := pointers[blockIdx]

		block := make([]byte, fs.layout.BlockSize)
		if err := fs.device.ReadBlocks(addr, 1, block); err != nil {
			return int(read), err
		}
		n := copy(buf[read:toRead], block[offset:])
		read += int64(n)
		pos += int64(n)
	}
	of.rwHead = pos
	return int(read), nil
}

// Fseek repositions fd's read/write head to an absolute offset, which must
// lie within the current file size.
func (fs *FileSystem) Fseek(fd int, offset int64) error {
	of, err := fs.getOpenFile(fd)
	if err != nil {
		return err
	}
	inode := fs.inodes[of.inodeNum]
	if offset < 0 || offset > int64(inode.Size) {
		return errs.ErrInvalidPosition
	}
	of.rwHead = offset
	return nil
}

// Remove deletes name, releasing its inode and every data block it held,
// and closes any file descriptors still open on it.
func (fs *FileSystem) Remove(name string) error {
	idx, entry := fs.findEntry(name)
	if entry == nil {
		return errs.ErrNotFound
	}
	inodeNum := entry.inodeNum
	inode := fs.inodes[inodeNum]

	blocksUsed := uint(0)
	if inode.Size > 0 {
		blocksUsed = ceilDiv(uint(inode.Size), fs.layout.BlockSize)
	}
	if blocksUsed > 0 {
		addrs, err := fs.blockPointers(inode, blocksUsed)
		if err != nil {
			return err
		}
		for _, a := range addrs {
			fs.alloc.Free(int(a)) //nolint:errcheck
		}
	}
	if blocksUsed > 12 && inode.Indirect != 0 {
		fs.alloc.Free(int(inode.Indirect)) //nolint:errcheck
	}

	for fd, of := range fs.fdt {
		if of != nil && of.inodeNum == int(inodeNum) {
			fs.fdt[fd] = nil
		}
	}

	fs.inodes[inodeNum] = freeRawInode()
	fs.entries[idx].used = 0
	fs.entries[idx].name = ""

	return fs.commitInodeAndDirectory()
}

// GetFileSize returns the current size, in bytes, of name.
func (fs *FileSystem) GetFileSize(name string) (int64, error) {
	_, entry := fs.findEntry(name)
	if entry == nil {
		return 0, errs.ErrNotFound
	}
	return int64(fs.inodes[entry.inodeNum].Size), nil
}

// GetNextFileName advances the directory iteration cursor and returns the
// next in-use file name, wrapping back to the start of the directory once
// every slot has been visited. The second return is false only when the
// directory holds no files at all.
func (fs *FileSystem) GetNextFileName() (string, bool) {
	n := len(fs.entries)
	for i := 0; i < n; i++ {
		idx := fs.nextNameCursor
		fs.nextNameCursor = (fs.nextNameCursor + 1) % n
		if fs.entries[idx].isUsed() {
			return fs.entries[idx].name, true
		}
	}
	return "", false
}
