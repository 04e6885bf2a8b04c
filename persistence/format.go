// Package persistence implements snapshot checkpoint and recovery for the
// index: a length-prefixed binary format with per-section CRC-32C checksums
// and block compression.
package persistence

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

const (
	// magic identifies a snapshot file.
	magic = uint32(0x564E4753) // "VNGS"
	// formatVersion is bumped on incompatible layout changes.
	formatVersion = uint16(1)
)

var (
	// ErrBadMagic is returned when a file is not a snapshot.
	ErrBadMagic = errors.New("persistence: bad magic")
	// ErrVersionMismatch is returned for snapshots from an unknown version.
	ErrVersionMismatch = errors.New("persistence: unsupported format version")
	// ErrChecksum is returned when a section fails CRC verification.
	ErrChecksum = errors.New("persistence: checksum mismatch")
)

// Compression selects the block codec used for snapshot sections.
type Compression uint8

const (
	// CompressionNone stores sections uncompressed.
	CompressionNone Compression = 0
	// CompressionLZ4 is fast with a modest ratio, good for hot restores.
	CompressionLZ4 Compression = 1
	// CompressionZSTD trades restore speed for a better ratio.
	CompressionZSTD Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(c))
	}
}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// writeSection writes one compressed, checksummed section:
// [UncompressedSize u32][CompressedSize u32][CRC u32][Data...].
// CompressedSize == 0 means the payload is stored raw.
func writeSection(w io.Writer, codec Compression, payload []byte) error {
	compressed, err := compressBlock(codec, payload)
	if err != nil {
		return err
	}

	stored := compressed
	var compressedSize uint32
	if compressed == nil || len(compressed) >= len(payload) {
		stored = payload
	} else {
		compressedSize = uint32(len(compressed))
	}

	var header [12]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[4:8], compressedSize)
	binary.LittleEndian.PutUint32(header[8:12], crc32.Checksum(stored, castagnoli))

	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err = w.Write(stored)
	return err
}

// readSection reads a section written by writeSection.
func readSection(r io.Reader) ([]byte, error) {
	var header [12]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	uncompressedSize := binary.LittleEndian.Uint32(header[0:4])
	compressedSize := binary.LittleEndian.Uint32(header[4:8])
	sum := binary.LittleEndian.Uint32(header[8:12])

	storedSize := compressedSize
	if storedSize == 0 {
		storedSize = uncompressedSize
	}

	stored := make([]byte, storedSize)
	if _, err := io.ReadFull(r, stored); err != nil {
		return nil, err
	}
	if crc32.Checksum(stored, castagnoli) != sum {
		return nil, ErrChecksum
	}

	if compressedSize == 0 {
		return stored, nil
	}
	return decompressBlock(stored, int(uncompressedSize))
}

// compressBlock compresses payload, returning nil when the codec is none.
func compressBlock(codec Compression, payload []byte) ([]byte, error) {
	switch codec {
	case CompressionNone:
		return nil, nil
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(payload)))
		var c lz4.Compressor
		n, err := c.CompressBlock(payload, buf)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			// Incompressible.
			return nil, nil
		}
		return buf[:n], nil
	case CompressionZSTD:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(payload, nil), nil
	default:
		return nil, fmt.Errorf("persistence: unknown compression %d", codec)
	}
}

// decompressBlock restores a compressed section payload. The codec is
// inferred: zstd frames are self-describing, anything else is lz4.
func decompressBlock(stored []byte, uncompressedSize int) ([]byte, error) {
	if isZstdFrame(stored) {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(stored, make([]byte, 0, uncompressedSize))
	}

	out := make([]byte, uncompressedSize)
	n, err := lz4.UncompressBlock(stored, out)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

func isZstdFrame(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], zstdMagic)
}
