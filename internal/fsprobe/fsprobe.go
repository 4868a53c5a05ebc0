// Package fsprobe identifies the filesystem embedded in a partition blob and
// performs a minimal read-only traversal to extract a single small file —
// typically build.prop — without mounting or fully parsing the filesystem.
package fsprobe

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/HadiKhoirudin/sakuraedl-go/internal/xerr"
)

// Kind identifies a recognized filesystem or container format.
type Kind int

const (
	KindUnknown Kind = iota
	KindEXT4
	KindF2FS
	KindEROFS
	KindSquashFS
	KindAndroidBoot
	KindSigned
)

func (k Kind) String() string {
	switch k {
	case KindEXT4:
		return "ext4"
	case KindF2FS:
		return "f2fs"
	case KindEROFS:
		return "erofs"
	case KindSquashFS:
		return "squashfs"
	case KindAndroidBoot:
		return "android-boot"
	case KindSigned:
		return "signed"
	default:
		return "unknown"
	}
}

// signedOffsets are the candidate byte offsets at which the real filesystem
// superblock may live when a vendor signature header precedes it.
var signedOffsets = []int64{4096, 8192, 65536, 1 << 20, 2 << 20, 4 << 20}

// Identify inspects a 4 KiB head read from src at offset 0 and classifies
// the filesystem/container kind, per spec.md §4.5. If the head looks like a
// vendor-signed header, it probes signedOffsets and returns KindSigned along
// with the offset at which the real filesystem begins.
func Identify(src io.ReaderAt) (Kind, int64, error) {
	head := make([]byte, 4096)
	n, err := src.ReadAt(head, 0)
	if err != nil && err != io.EOF {
		return KindUnknown, 0, xerr.Wrap(xerr.KindTransportIO, "fsprobe.Identify", err, "read head")
	}
	head = head[:n]

	if k := identifyAt(head); k != KindUnknown {
		return k, 0, nil
	}

	if looksSigned(head) {
		for _, off := range signedOffsets {
			probe := make([]byte, 4096)
			pn, perr := src.ReadAt(probe, off)
			if perr != nil && perr != io.EOF {
				continue
			}
			if k := identifyAt(probe[:pn]); k != KindUnknown {
				return k, off, nil
			}
		}
		return KindSigned, 0, nil
	}
	return KindUnknown, 0, nil
}

func identifyAt(head []byte) Kind {
	if len(head) >= 1024+58 {
		if binary.LittleEndian.Uint16(head[1024+56:1024+58]) == 0xEF53 {
			return KindEXT4
		}
	}
	if len(head) >= 1028 {
		if binary.LittleEndian.Uint32(head[1024:1028]) == 0xF2F52010 {
			return KindF2FS
		}
		if binary.LittleEndian.Uint32(head[1024:1028]) == 0xE0F5E1E2 {
			return KindEROFS
		}
	}
	if len(head) >= 4 && binary.LittleEndian.Uint32(head[0:4]) == 0xE0F5E1E2 {
		return KindEROFS
	}
	if len(head) >= 4 {
		if bytes.Equal(head[0:4], []byte("hsqs")) || bytes.Equal(head[0:4], []byte("sqsh")) {
			return KindSquashFS
		}
	}
	if len(head) >= 8 && bytes.Equal(head[0:8], []byte("ANDROID!")) {
		return KindAndroidBoot
	}
	return KindUnknown
}

// looksSigned applies the spec's loose heuristic: a short run of uppercase
// ASCII letters/underscores at the very start, with no recognized magic.
func looksSigned(head []byte) bool {
	if len(head) < 4 {
		return false
	}
	n := 0
	for n < len(head) && n < 16 && isSignaturePrefixByte(head[n]) {
		n++
	}
	return n >= 2 && n < 16
}

func isSignaturePrefixByte(b byte) bool {
	return (b >= 'A' && b <= 'Z') || b == '_'
}

// ReadFileResult is the outcome of locating and reading a small file inside
// a probed filesystem.
type ReadFileResult struct {
	Kind    Kind
	Path    string
	Content []byte
}

// searchDirs are the only directories the spec's traversal descends into.
var searchDirs = []string{"system", "etc"}

// candidateFilenames is the single target filename each traversal searches
// for; kept as a slice for symmetry with future multi-file support.
var candidateFilenames = []string{"build.prop"}

// FindBuildProp classifies src and, for a recognized read-only filesystem,
// walks system/ then etc/ looking for build.prop, per spec.md §4.5/§4.9.
func FindBuildProp(src io.ReaderAt) (*ReadFileResult, error) {
	kind, base, err := Identify(src)
	if err != nil {
		return nil, err
	}
	var at io.ReaderAt = src
	if base != 0 {
		at = &offsetReaderAt{base: base, r: src}
	}

	switch kind {
	case KindEROFS:
		content, path, err := erofsFindFile(at, searchDirs, candidateFilenames[0])
		if err != nil {
			return nil, err
		}
		return &ReadFileResult{Kind: KindEROFS, Path: path, Content: content}, nil
	case KindEXT4:
		content, path, err := ext4FindFile(at, searchDirs, candidateFilenames[0])
		if err != nil {
			return nil, err
		}
		return &ReadFileResult{Kind: KindEXT4, Path: path, Content: content}, nil
	default:
		return nil, xerr.Errorf(xerr.KindNotFound, "fsprobe.FindBuildProp", "unsupported or unrecognized filesystem kind %s", kind)
	}
}

type offsetReaderAt struct {
	base int64
	r    io.ReaderAt
}

func (o *offsetReaderAt) ReadAt(p []byte, off int64) (int, error) {
	return o.r.ReadAt(p, o.base+off)
}
