package casc

import (
	"encoding/binary"
	"io"
	"io/ioutil"

	"github.com/lukegb/casc/ngdp/binfield"
)

// DownloadTag is one named bitmap from the DOWNLOAD manifest's tag
// section - a locale, platform or similar file classification.
type DownloadTag struct {
	Name   string
	Value  uint16
	Bitmap []byte
}

// DownloadEntrySize approximates original_source's FILE_DOWNLOAD_ENTRY
// size for a 9-byte-EKey, no-checksum, v1-shaped entry, used only for
// capacity estimation.
const DownloadEntrySize = 9 + 5 + 1

// LoadDownload parses the decoded DOWNLOAD manifest (versions 1-3) and
// upserts the central table: for every entry, finds or creates a
// central entry keyed by its (possibly 9-byte-truncated) EKey, records
// its encoded size and priority, sets IN_DOWNLOAD, and ORs in the
// bitmask bit of every tag whose bitmap covers it. DOWNLOAD parse
// failure is non-fatal to the storage open - the caller decides
// whether to proceed without download metadata.
func LoadDownload(t *Table, r io.Reader) ([]DownloadTag, error) {
	buf, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, errf(CodeBadFormat, "download: reading manifest: %v", err)
	}

	if len(buf) < 2 || buf[0] != 'D' || buf[1] != 'L' {
		return nil, errf(CodeBadFormat, "download: bad magic")
	}
	p := buf[2:]

	if len(p) < 9 {
		return nil, errf(CodeBadFormat, "download: header truncated")
	}
	version := p[0]
	if version < 1 || version > 3 {
		return nil, errf(CodeBadFormat, "download: unsupported version %d", version)
	}
	ekeyLength := int(p[1])
	if ekeyLength == 0 || ekeyLength > 16 {
		return nil, errf(CodeBadFormat, "download: bad EKey length %d", ekeyLength)
	}
	entryHasChecksum := p[2] != 0
	entryCount := binary.BigEndian.Uint32(p[3:7])
	tagCount := binary.BigEndian.Uint16(p[7:9])
	p = p[9:]

	var flagByteSize uint8
	if version >= 2 {
		if len(p) < 1 {
			return nil, errf(CodeBadFormat, "download: header truncated (flag_byte_size)")
		}
		flagByteSize = p[0]
		p = p[1:]
	}
	if version >= 3 {
		if len(p) < 1 {
			return nil, errf(CodeBadFormat, "download: header truncated (base_priority)")
		}
		// base_priority applies storage-wide; each entry still carries
		// its own priority byte, so it isn't threaded any further here.
		p = p[1:]
	}

	entryLength := ekeyLength + 5 + 1 + int(flagByteSize)
	if entryHasChecksum {
		entryLength += 4
	}

	entries := make([]*Entry, entryCount)
	for i := uint32(0); i < entryCount; i++ {
		if len(p) < entryLength {
			return nil, errf(CodeBadFormat, "download: entry %d truncated", i)
		}
		rec := p[:entryLength]
		p = p[entryLength:]

		ekeyBytes := rec[:ekeyLength]
		rest := rec[ekeyLength:]
		encodedSize := uint32(binfield.BigEndian(rest[0:5]))
		priority := rest[5]

		e := t.UpsertByEncodedKeyBytes(ekeyBytes)
		e.SetEncodedSize(encodedSize)
		e.Priority = priority
		e.Flags |= InDownload
		entries[i] = e
	}

	bitmapLen := int(entryCount) / 8
	if int(entryCount)%8 != 0 {
		bitmapLen++
	}

	var tags []DownloadTag
	for ti := 0; ti < int(tagCount); ti++ {
		nameEnd := indexZeroByte(p)
		if nameEnd < 0 {
			return nil, errf(CodeBadFormat, "download: tag %d name not NUL-terminated", ti)
		}
		name := string(p[:nameEnd])
		p = p[nameEnd+1:]

		if len(p) < 2 {
			return nil, errf(CodeBadFormat, "download: tag %d value truncated", ti)
		}
		value := binary.BigEndian.Uint16(p[:2])
		p = p[2:]

		want := bitmapLen
		if want > len(p) {
			// The last tag's bitmap may be truncated to whatever is
			// left in the buffer; shorten rather than fail.
			want = len(p)
		}
		bitmap := p[:want]
		p = p[want:]

		tags = append(tags, DownloadTag{Name: name, Value: value, Bitmap: bitmap})

		if ti < 64 {
			bit := uint64(1) << uint(ti)
			for ei, e := range entries {
				byteIdx := ei / 8
				mask := byte(0x80) >> uint(ei%8)
				if byteIdx < len(bitmap) && bitmap[byteIdx]&mask != 0 {
					e.TagBitmask |= bit
				}
			}
		}
	}

	return tags, nil
}

func indexZeroByte(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}
