package fsprobe

import (
	"bytes"
	"encoding/binary"
	"testing"
)

type byteReaderAt []byte

func (b byteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if int(off) >= len(b) {
		return 0, nil
	}
	n := copy(p, b[off:])
	return n, nil
}

func TestIdentifyEXT4Magic(t *testing.T) {
	buf := make([]byte, 4096)
	binary.LittleEndian.PutUint16(buf[1024+56:1024+58], 0xEF53)
	kind, off, err := Identify(byteReaderAt(buf))
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if kind != KindEXT4 || off != 0 {
		t.Errorf("Identify = (%s, %d), want (ext4, 0)", kind, off)
	}
}

func TestIdentifyEROFSMagic(t *testing.T) {
	buf := make([]byte, 4096)
	binary.LittleEndian.PutUint32(buf[1024:1028], erofsMagic)
	kind, _, err := Identify(byteReaderAt(buf))
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if kind != KindEROFS {
		t.Errorf("Identify = %s, want erofs", kind)
	}
}

func TestIdentifySignedHeaderRelocates(t *testing.T) {
	buf := make([]byte, int(signedOffsets[0])+4096)
	copy(buf[0:8], []byte("QCOM_SIG"))
	binary.LittleEndian.PutUint16(buf[int(signedOffsets[0])+1024+56:int(signedOffsets[0])+1024+58], 0xEF53)
	kind, off, err := Identify(byteReaderAt(buf))
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if kind != KindEXT4 || off != signedOffsets[0] {
		t.Errorf("Identify = (%s, %d), want (ext4, %d)", kind, off, signedOffsets[0])
	}
}

// ---- EXT4 traversal fixture ----

func putDirEntry(block []byte, pos int, ino uint32, name string, recLen uint16) int {
	binary.LittleEndian.PutUint32(block[pos:pos+4], ino)
	binary.LittleEndian.PutUint16(block[pos+4:pos+6], recLen)
	block[pos+6] = byte(len(name))
	block[pos+7] = 1 // file_type, unused by this reader
	copy(block[pos+8:pos+8+len(name)], name)
	return pos + int(recLen)
}

func buildEXT4Image(t *testing.T, buildPropContent []byte) []byte {
	t.Helper()
	const blockSize = 1024
	const inodeSize = 128
	const inodesPerGroup = 32
	const numBlocks = 20

	buf := make([]byte, numBlocks*blockSize)

	// Superblock at absolute offset 1024 (block 1).
	sbBuf := buf[1024 : 1024+264]
	binary.LittleEndian.PutUint32(sbBuf[24:28], 0) // s_log_block_size = 0 -> 1024
	binary.LittleEndian.PutUint32(sbBuf[40:44], inodesPerGroup)
	binary.LittleEndian.PutUint16(sbBuf[56:58], 0xEF53)
	binary.LittleEndian.PutUint16(sbBuf[88:90], inodeSize)
	binary.LittleEndian.PutUint32(sbBuf[96:100], 0) // no 64BIT, no EXTENTS

	// Group descriptor table at block 2 (32-byte descriptor, inode table at block 4).
	gdBuf := buf[2*blockSize : 2*blockSize+32]
	binary.LittleEndian.PutUint32(gdBuf[8:12], 4)

	const inodeTableBlock = 4
	inodeAt := func(ino uint32) []byte {
		idx := (ino - 1) % inodesPerGroup
		off := inodeTableBlock*blockSize + int(idx)*inodeSize
		return buf[off : off+inodeSize]
	}

	writeInode := func(ino uint32, mode uint16, size uint32, dataBlock uint32) {
		rec := inodeAt(ino)
		binary.LittleEndian.PutUint16(rec[0:2], mode)
		binary.LittleEndian.PutUint32(rec[4:8], size)
		binary.LittleEndian.PutUint32(rec[32:36], 0) // flags: no EXTENTS_FL
		binary.LittleEndian.PutUint32(rec[40:44], dataBlock)
	}

	const (
		rootIno  = 2
		sysIno   = 11
		etcIno   = 12
		propIno  = 13
		rootBlk  = 10
		sysBlk   = 11
		etcBlk   = 12
		propBlk  = 13
	)

	writeInode(rootIno, 0x41ED, blockSize, rootBlk)
	writeInode(sysIno, 0x41ED, blockSize, sysBlk)
	writeInode(etcIno, 0x41ED, blockSize, etcBlk)
	writeInode(propIno, 0x81A4, uint32(len(buildPropContent)), propBlk)

	rootDir := buf[rootBlk*blockSize : rootBlk*blockSize+blockSize]
	pos := putDirEntry(rootDir, 0, rootIno, ".", 12)
	pos = putDirEntry(rootDir, pos, rootIno, "..", 12)
	putDirEntry(rootDir, pos, sysIno, "system", uint16(blockSize-pos))

	sysDir := buf[sysBlk*blockSize : sysBlk*blockSize+blockSize]
	pos = putDirEntry(sysDir, 0, sysIno, ".", 12)
	pos = putDirEntry(sysDir, pos, rootIno, "..", 12)
	putDirEntry(sysDir, pos, etcIno, "etc", uint16(blockSize-pos))

	etcDir := buf[etcBlk*blockSize : etcBlk*blockSize+blockSize]
	pos = putDirEntry(etcDir, 0, etcIno, ".", 12)
	pos = putDirEntry(etcDir, pos, sysIno, "..", 12)
	putDirEntry(etcDir, pos, propIno, "build.prop", uint16(blockSize-pos))

	propData := buf[propBlk*blockSize : propBlk*blockSize+blockSize]
	copy(propData, buildPropContent)

	return buf
}

// ---- EROFS traversal fixture ----

func putEROFSDirBlock(buf []byte, blockOff int, childNid uint64, childName string, fileType uint8) {
	binary.LittleEndian.PutUint64(buf[blockOff:blockOff+8], childNid)
	binary.LittleEndian.PutUint16(buf[blockOff+8:blockOff+10], 12)
	buf[blockOff+10] = fileType
	copy(buf[blockOff+12:blockOff+12+len(childName)], childName)
}

func putEROFSInode(buf []byte, nidOff int, dataLayout uint8, mode uint16, size uint32, rawBlkAddr uint32) {
	format := uint16(dataLayout) << 1 // extended bit 0 = 0 (compact, 32-byte)
	binary.LittleEndian.PutUint16(buf[nidOff:nidOff+2], format)
	binary.LittleEndian.PutUint16(buf[nidOff+4:nidOff+6], mode)
	binary.LittleEndian.PutUint32(buf[nidOff+8:nidOff+12], size)
	binary.LittleEndian.PutUint32(buf[nidOff+12:nidOff+16], rawBlkAddr)
}

func buildEROFSImage(t *testing.T, buildPropContent []byte) []byte {
	t.Helper()
	const blockSize = 4096
	buf := make([]byte, 6*blockSize)

	// Superblock at offset 1024: magic(4)@0, blkszbits(1)@12, root_nid(4)@16, meta_blkaddr(4)@20.
	binary.LittleEndian.PutUint32(buf[1024:1028], erofsMagic)
	buf[1024+12] = 12 // 1 << 12 == 4096
	binary.LittleEndian.PutUint32(buf[1024+16:1024+20], 20)
	binary.LittleEndian.PutUint32(buf[1024+20:1024+24], 1) // meta starts at block 1

	const metaBase = 1 * blockSize
	const (
		rootNid = 20
		sysNid  = 21
		etcNid  = 22
		propNid = 23
	)
	nidOff := func(nid uint64) int { return metaBase + int(nid)*32 }

	putEROFSInode(buf, nidOff(rootNid), erofsLayoutFlatPlain, 0x41ED, blockSize, 2)
	putEROFSInode(buf, nidOff(sysNid), erofsLayoutFlatPlain, 0x41ED, blockSize, 3)
	putEROFSInode(buf, nidOff(etcNid), erofsLayoutFlatPlain, 0x41ED, blockSize, 4)
	putEROFSInode(buf, nidOff(propNid), erofsLayoutFlatPlain, 0x81A4, uint32(len(buildPropContent)), 5)

	putEROFSDirBlock(buf, 2*blockSize, sysNid, "system", 2)
	putEROFSDirBlock(buf, 3*blockSize, etcNid, "etc", 2)
	putEROFSDirBlock(buf, 4*blockSize, propNid, "build.prop", 1)

	copy(buf[5*blockSize:], buildPropContent)

	return buf
}

func TestFindBuildPropEROFS(t *testing.T) {
	content := []byte("ro.product.name=oplus_test\n")
	img := buildEROFSImage(t, content)

	res, err := FindBuildProp(byteReaderAt(img))
	if err != nil {
		t.Fatalf("FindBuildProp failed: %v", err)
	}
	if res.Kind != KindEROFS {
		t.Errorf("Kind = %s, want erofs", res.Kind)
	}
	if !bytes.Equal(res.Content, content) {
		t.Errorf("Content = %q, want %q", res.Content, content)
	}
	if res.Path != "/system/etc/build.prop" {
		t.Errorf("Path = %q, want /system/etc/build.prop", res.Path)
	}
}

func TestBruteForceScanExtractsAndDedups(t *testing.T) {
	var blob []byte
	blob = append(blob, []byte("garbage\x00\x00ro.product.name=oplus_test\x00")...)
	blob = append(blob, []byte("ro.build.version.release=14\nro.miui.ui.version.name=V14\x00")...)
	blob = append(blob, []byte("ro.product.name=stale_duplicate\x00")...)

	props, err := BruteForceScan(byteReaderAt(blob))
	if err != nil {
		t.Fatalf("BruteForceScan failed: %v", err)
	}
	if props["ro.product.name"] != "oplus_test" {
		t.Errorf("ro.product.name = %q, want first occurrence %q", props["ro.product.name"], "oplus_test")
	}
	if props["ro.build.version.release"] != "14" {
		t.Errorf("ro.build.version.release = %q, want %q", props["ro.build.version.release"], "14")
	}
	if props["ro.miui.ui.version.name"] != "V14" {
		t.Errorf("ro.miui.ui.version.name = %q, want %q", props["ro.miui.ui.version.name"], "V14")
	}
}

func TestFindBuildPropEXT4(t *testing.T) {
	content := []byte("ro.build.version.release=14\n")
	img := buildEXT4Image(t, content)

	res, err := FindBuildProp(byteReaderAt(img))
	if err != nil {
		t.Fatalf("FindBuildProp failed: %v", err)
	}
	if res.Kind != KindEXT4 {
		t.Errorf("Kind = %s, want ext4", res.Kind)
	}
	if !bytes.Equal(res.Content, content) {
		t.Errorf("Content = %q, want %q", res.Content, content)
	}
	if res.Path != "/system/etc/build.prop" {
		t.Errorf("Path = %q, want /system/etc/build.prop", res.Path)
	}
}
