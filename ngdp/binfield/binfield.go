// Package binfield decodes the odd-width big/little-endian integer
// fields that show up throughout CASC's on-disk formats: packed 5-byte
// archive+offset fields in index records, 5-byte encoded sizes in
// DOWNLOAD entries, and similar. encoding/binary only handles the
// power-of-two widths, so anything narrower gets hand-rolled here.
package binfield

import "fmt"

// BigEndian decodes b (1 to 8 bytes) as a big-endian unsigned integer.
func BigEndian(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

// LittleEndian decodes b (1 to 8 bytes) as a little-endian unsigned integer.
func LittleEndian(b []byte) uint64 {
	var v uint64
	for n := len(b) - 1; n >= 0; n-- {
		v = v<<8 | uint64(b[n])
	}
	return v
}

// PutBigEndian encodes v into len(b) big-endian bytes. It panics if v
// does not fit in len(b) bytes.
func PutBigEndian(b []byte, v uint64) {
	if len(b) < 8 && v>>(uint(len(b))*8) != 0 {
		panic(fmt.Sprintf("binfield: %d does not fit in %d bytes", v, len(b)))
	}
	for n := len(b) - 1; n >= 0; n-- {
		b[n] = byte(v)
		v >>= 8
	}
}

// SplitArchiveOffset unpacks a packed archive-index/byte-offset field
// as used by CASC index records: a 40-bit big-endian value split so
// that the high (40-fileOffsetBits) bits are the archive index and the
// low fileOffsetBits bits are the byte offset within that archive.
func SplitArchiveOffset(b []byte, fileOffsetBits uint) (archive uint32, offset uint64) {
	v := BigEndian(b)
	offset = v & ((uint64(1) << fileOffsetBits) - 1)
	archive = uint32(v >> fileOffsetBits)
	return archive, offset
}
