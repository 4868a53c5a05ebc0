package fsprobe

import (
	"encoding/binary"
	"io"

	"github.com/HadiKhoirudin/sakuraedl-go/internal/xerr"
)

const (
	ext4SuperblockOffset = 1024

	// Superblock s_feature_incompat flags, names kept close to
	// hellin-go-ext4's superblock struct.
	ext4IncompatExtents = 0x40
	ext4Incompat64Bit   = 0x80

	ext4InodeFlagExtents = 0x80000

	ext4ExtentHeaderMagic = 0xF30A

	ext4RootInode = 2
)

// ext4Superblock is the subset of fields needed for a read-only traversal to
// one file, field layout grounded on hellin-go-ext4's Superblock struct.
type ext4Superblock struct {
	BlockSize      uint32
	InodeSize      uint16
	InodesPerGroup uint32
	FeatureIncompat uint32
}

func readEXT4Superblock(src io.ReaderAt) (ext4Superblock, error) {
	buf := make([]byte, 264)
	if _, err := src.ReadAt(buf, ext4SuperblockOffset); err != nil {
		return ext4Superblock{}, xerr.Wrap(xerr.KindMalformed, "fsprobe.readEXT4Superblock", err, "read superblock")
	}
	if binary.LittleEndian.Uint16(buf[56:58]) != 0xEF53 {
		return ext4Superblock{}, xerr.Errorf(xerr.KindMalformed, "fsprobe.readEXT4Superblock", "bad EXT4 magic")
	}
	logBlockSize := binary.LittleEndian.Uint32(buf[24:28])
	inodesPerGroup := binary.LittleEndian.Uint32(buf[40:44])
	inodeSize := binary.LittleEndian.Uint16(buf[88:90])
	featureIncompat := binary.LittleEndian.Uint32(buf[96:100])
	if inodeSize == 0 {
		inodeSize = 128
	}
	return ext4Superblock{
		BlockSize:       1024 << logBlockSize,
		InodeSize:       inodeSize,
		InodesPerGroup:  inodesPerGroup,
		FeatureIncompat: featureIncompat,
	}, nil
}

// ext4GroupDescriptor carries only the inode-table location, since this
// traversal only ever resolves inodes, never allocates.
type ext4GroupDescriptor struct {
	InodeTableBlock uint64
}

func readEXT4GroupDescriptor(src io.ReaderAt, sb ext4Superblock, group uint32) (ext4GroupDescriptor, error) {
	gdtSize := 32
	if sb.FeatureIncompat&ext4Incompat64Bit != 0 {
		gdtSize = 64
	}
	// Superblock always sits at byte offset 1024. With a 1 KiB block size
	// that puts it in block 1 and the GDT starts at block 2; with a larger
	// block size the superblock is the tail of block 0 and the GDT starts
	// at block 1.
	gdtBlock := uint64(1)
	if sb.BlockSize == 1024 {
		gdtBlock = 2
	}
	off := int64(gdtBlock)*int64(sb.BlockSize) + int64(group)*int64(gdtSize)
	buf := make([]byte, gdtSize)
	if _, err := src.ReadAt(buf, off); err != nil {
		return ext4GroupDescriptor{}, xerr.Wrap(xerr.KindMalformed, "fsprobe.readEXT4GroupDescriptor", err, "read group descriptor")
	}
	lo := binary.LittleEndian.Uint32(buf[8:12])
	hi := uint32(0)
	if gdtSize >= 40 {
		hi = binary.LittleEndian.Uint32(buf[36:40])
	}
	return ext4GroupDescriptor{InodeTableBlock: uint64(hi)<<32 | uint64(lo)}, nil
}

// ext4Inode is the minimal set of fields this traversal needs.
type ext4Inode struct {
	Mode       uint16
	Size       uint64
	Flags      uint32
	Block      [60]byte // raw i_block area: 12 direct pointers or the extent tree
}

func (i ext4Inode) isDir() bool {
	return i.Mode&0xF000 == 0x4000
}

func (i ext4Inode) usesExtents() bool {
	return i.Flags&ext4InodeFlagExtents != 0
}

func readEXT4Inode(src io.ReaderAt, sb ext4Superblock, ino uint32) (ext4Inode, error) {
	group := (ino - 1) / sb.InodesPerGroup
	indexInGroup := (ino - 1) % sb.InodesPerGroup
	gd, err := readEXT4GroupDescriptor(src, sb, group)
	if err != nil {
		return ext4Inode{}, err
	}
	off := int64(gd.InodeTableBlock)*int64(sb.BlockSize) + int64(indexInGroup)*int64(sb.InodeSize)
	buf := make([]byte, 160)
	if _, err := src.ReadAt(buf, off); err != nil {
		return ext4Inode{}, xerr.Wrap(xerr.KindMalformed, "fsprobe.readEXT4Inode", err, "read inode")
	}
	sizeLo := binary.LittleEndian.Uint32(buf[4:8])
	sizeHi := binary.LittleEndian.Uint32(buf[108:112])
	in := ext4Inode{
		Mode:  binary.LittleEndian.Uint16(buf[0:2]),
		Size:  uint64(sizeHi)<<32 | uint64(sizeLo),
		Flags: binary.LittleEndian.Uint32(buf[32:36]),
	}
	copy(in.Block[:], buf[40:100])
	return in, nil
}

// ext4ExtentLeaf is one resolved (physical block, length) run from the
// extent tree; the leaf's logical block number is not kept.
type ext4ExtentLeaf struct {
	PhysicalBlock uint64
	Length        uint16
}

// walkExtentTree recursively resolves the extent tree rooted at raw (either
// the inode's inline i_block area or an indirect extent-index block),
// recursion depth capped at 5 per spec.md §4.5.
func walkExtentTree(src io.ReaderAt, raw []byte, blockSize uint32, depth int) ([]ext4ExtentLeaf, error) {
	if depth > 5 {
		return nil, xerr.Errorf(xerr.KindMalformed, "fsprobe.walkExtentTree", "extent tree exceeds depth cap")
	}
	if len(raw) < 12 || binary.LittleEndian.Uint16(raw[0:2]) != ext4ExtentHeaderMagic {
		return nil, xerr.Errorf(xerr.KindMalformed, "fsprobe.walkExtentTree", "bad extent header magic")
	}
	entries := binary.LittleEndian.Uint16(raw[2:4])
	depthField := binary.LittleEndian.Uint16(raw[6:8])

	var leaves []ext4ExtentLeaf
	for i := 0; i < int(entries); i++ {
		rec := raw[12+i*12 : 12+(i+1)*12]
		if depthField == 0 {
			length := binary.LittleEndian.Uint16(rec[4:6])
			physHi := binary.LittleEndian.Uint16(rec[6:8])
			physLo := binary.LittleEndian.Uint32(rec[8:12])
			leaves = append(leaves, ext4ExtentLeaf{
				PhysicalBlock: uint64(physHi)<<32 | uint64(physLo),
				Length:        length,
			})
		} else {
			childHi := binary.LittleEndian.Uint16(rec[8:10])
			childLo := binary.LittleEndian.Uint32(rec[4:8])
			child := uint64(childHi)<<32 | uint64(childLo)

			childBuf := make([]byte, blockSize)
			if _, err := src.ReadAt(childBuf, int64(child)*int64(blockSize)); err != nil {
				return nil, xerr.Wrap(xerr.KindMalformed, "fsprobe.walkExtentTree", err, "read extent index block")
			}
			childLeaves, err := walkExtentTree(src, childBuf, blockSize, depth+1)
			if err != nil {
				return nil, err
			}
			leaves = append(leaves, childLeaves...)
		}
	}
	return leaves, nil
}

// resolveDirBlocks returns the list of physical blocks backing a directory
// inode, via the extent tree when EXTENTS_FL is set, else the 12 direct
// block pointers.
func resolveDirBlocks(src io.ReaderAt, sb ext4Superblock, in ext4Inode) ([]uint64, error) {
	if in.usesExtents() {
		leaves, err := walkExtentTree(src, in.Block[:], sb.BlockSize, 0)
		if err != nil {
			return nil, err
		}
		var blocks []uint64
		for _, l := range leaves {
			for i := uint16(0); i < l.Length; i++ {
				blocks = append(blocks, l.PhysicalBlock+uint64(i))
			}
		}
		return blocks, nil
	}
	var blocks []uint64
	for i := 0; i < 12; i++ {
		b := binary.LittleEndian.Uint32(in.Block[i*4 : i*4+4])
		if b != 0 {
			blocks = append(blocks, uint64(b))
		}
	}
	return blocks, nil
}

// ext4DirEntry is one parsed directory entry (linear directory format).
type ext4DirEntry struct {
	Inode uint32
	Name  string
}

func readEXT4DirBlock(block []byte) []ext4DirEntry {
	var entries []ext4DirEntry
	pos := 0
	for pos+8 <= len(block) {
		ino := binary.LittleEndian.Uint32(block[pos : pos+4])
		recLen := binary.LittleEndian.Uint16(block[pos+4 : pos+6])
		nameLen := block[pos+6]
		if recLen < 8 || int(recLen) > len(block)-pos {
			break
		}
		if ino != 0 {
			name := string(block[pos+8 : pos+8+int(nameLen)])
			if name != "." && name != ".." {
				entries = append(entries, ext4DirEntry{Inode: ino, Name: name})
			}
		}
		pos += int(recLen)
	}
	return entries
}

func ext4ReadDirEntries(src io.ReaderAt, sb ext4Superblock, dirInode ext4Inode) ([]ext4DirEntry, error) {
	blocks, err := resolveDirBlocks(src, sb, dirInode)
	if err != nil {
		return nil, err
	}
	var all []ext4DirEntry
	for _, b := range blocks {
		buf := make([]byte, sb.BlockSize)
		if _, err := src.ReadAt(buf, int64(b)*int64(sb.BlockSize)); err != nil && err != io.EOF {
			return nil, xerr.Wrap(xerr.KindMalformed, "fsprobe.ext4ReadDirEntries", err, "read directory block")
		}
		all = append(all, readEXT4DirBlock(buf)...)
	}
	return all, nil
}

func ext4ReadFile(src io.ReaderAt, sb ext4Superblock, in ext4Inode) ([]byte, error) {
	blocks, err := resolveDirBlocks(src, sb, in)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, in.Size)
	for _, b := range blocks {
		if uint64(len(out)) >= in.Size {
			break
		}
		buf := make([]byte, sb.BlockSize)
		if _, err := src.ReadAt(buf, int64(b)*int64(sb.BlockSize)); err != nil && err != io.EOF {
			return nil, xerr.Wrap(xerr.KindMalformed, "fsprobe.ext4ReadFile", err, "read file block")
		}
		remaining := in.Size - uint64(len(out))
		if remaining > uint64(len(buf)) {
			out = append(out, buf...)
		} else {
			out = append(out, buf[:remaining]...)
		}
	}
	return out, nil
}

// ext4FindFile walks dirs in order from the root inode, then looks up
// filename in the last directory reached, per spec.md §4.5.
func ext4FindFile(src io.ReaderAt, dirs []string, filename string) ([]byte, string, error) {
	sb, err := readEXT4Superblock(src)
	if err != nil {
		return nil, "", err
	}
	cur, err := readEXT4Inode(src, sb, ext4RootInode)
	if err != nil {
		return nil, "", err
	}
	path := "/"

	for _, d := range dirs {
		if !cur.isDir() {
			return nil, "", xerr.Errorf(xerr.KindNotFound, "fsprobe.ext4FindFile", "%s is not a directory", path)
		}
		entries, err := ext4ReadDirEntries(src, sb, cur)
		if err != nil {
			return nil, "", err
		}
		ino, ok := ext4FindEntry(entries, d)
		if !ok {
			return nil, "", xerr.Errorf(xerr.KindNotFound, "fsprobe.ext4FindFile", "%q not found under %s", d, path)
		}
		path = path + d + "/"
		cur, err = readEXT4Inode(src, sb, ino)
		if err != nil {
			return nil, "", err
		}
	}

	entries, err := ext4ReadDirEntries(src, sb, cur)
	if err != nil {
		return nil, "", err
	}
	ino, ok := ext4FindEntry(entries, filename)
	if !ok {
		return nil, "", xerr.Errorf(xerr.KindNotFound, "fsprobe.ext4FindFile", "%q not found under %s", filename, path)
	}
	fin, err := readEXT4Inode(src, sb, ino)
	if err != nil {
		return nil, "", err
	}
	content, err := ext4ReadFile(src, sb, fin)
	if err != nil {
		return nil, "", err
	}
	return content, path + filename, nil
}

func ext4FindEntry(entries []ext4DirEntry, name string) (uint32, bool) {
	for _, e := range entries {
		if e.Name == name {
			return e.Inode, true
		}
	}
	return 0, false
}
