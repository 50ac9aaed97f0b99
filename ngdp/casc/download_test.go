package casc

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// downloadV3 assembles a version-3 DOWNLOAD manifest: 'DL' magic,
// version, ekey_length, entry_has_checksum, entry_count, tag_count,
// flag_byte_size, base_priority, then that many fixed-width entries
// and NUL-terminated tag records.
func downloadV3(t *testing.T, ekeyLength int, entries [][]byte, tags [][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("DL")
	buf.WriteByte(3)                                        // version
	buf.WriteByte(byte(ekeyLength))                          // ekey_length
	buf.WriteByte(0)                                          // entry_has_checksum
	binary.Write(&buf, binary.BigEndian, uint32(len(entries))) // entry_count
	binary.Write(&buf, binary.BigEndian, uint16(len(tags)))    // tag_count
	buf.WriteByte(1)                                          // flag_byte_size
	buf.WriteByte(0)                                          // base_priority
	for _, e := range entries {
		buf.Write(e)
	}
	for _, tg := range tags {
		buf.Write(tg)
	}
	return buf.Bytes()
}

func downloadEntry(ekey9 []byte, encodedSize uint32, priority byte, flagByte byte) []byte {
	var buf bytes.Buffer
	buf.Write(ekey9)
	var esBuf [5]byte
	v := uint64(encodedSize)
	for i := 4; i >= 0; i-- {
		esBuf[i] = byte(v)
		v >>= 8
	}
	buf.Write(esBuf[:])
	buf.WriteByte(priority)
	buf.WriteByte(flagByte)
	return buf.Bytes()
}

func downloadTag(name string, value uint16, bitmap []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(name)
	buf.WriteByte(0)
	binary.Write(&buf, binary.BigEndian, value)
	buf.Write(bitmap)
	return buf.Bytes()
}

// TestLoadDownloadV3Entry is spec scenario 3: a single v3 entry tagged
// by two 1-bit bitmaps upgrades the matching central entry's
// encoded_size/priority/tag_bitmask and sets IN_DOWNLOAD.
func TestLoadDownloadV3Entry(t *testing.T) {
	ekey9 := bytes.Repeat([]byte{0xBB}, 9)
	blob := downloadV3(t, 9,
		[][]byte{downloadEntry(ekey9, 0x200, 3, 0x00)},
		[][]byte{
			downloadTag("mac", 0x0001, []byte{0x80}),
			downloadTag("enUS", 0x0002, []byte{0x80}),
		},
	)

	table := NewTable(0)
	tags, err := LoadDownload(table, bytes.NewReader(blob))
	if err != nil {
		t.Fatalf("LoadDownload: %v", err)
	}
	if len(tags) != 2 {
		t.Fatalf("len(tags) = %d, want 2", len(tags))
	}

	e, ok := table.LookupEKey9(Truncate(EKey{0xBB, 0xBB, 0xBB, 0xBB, 0xBB, 0xBB, 0xBB, 0xBB, 0xBB}))
	if !ok {
		t.Fatal("entry not found by truncated EKey")
	}
	if e.EncodedSize != 0x200 {
		t.Errorf("EncodedSize = %#x, want 0x200", e.EncodedSize)
	}
	if e.Priority != 3 {
		t.Errorf("Priority = %d, want 3", e.Priority)
	}
	if e.TagBitmask != 0b11 {
		t.Errorf("TagBitmask = %#b, want 0b11", e.TagBitmask)
	}
	if !e.Flags.Has(InDownload) {
		t.Error("Flags missing InDownload")
	}
}

// TestLoadDownloadTruncatedLastTagBitmap is spec scenario 4: the final
// tag's bitmap runs off the end of the buffer. Parsing still succeeds,
// only the first tag's bit gets set, and tag_count is unaffected.
func TestLoadDownloadTruncatedLastTagBitmap(t *testing.T) {
	ekey9 := bytes.Repeat([]byte{0xCC}, 9)

	var buf bytes.Buffer
	buf.WriteString("DL")
	buf.WriteByte(3)
	buf.WriteByte(9)
	buf.WriteByte(0)
	binary.Write(&buf, binary.BigEndian, uint32(1))
	binary.Write(&buf, binary.BigEndian, uint16(2))
	buf.WriteByte(1)
	buf.WriteByte(0)
	buf.Write(downloadEntry(ekey9, 1, 0, 0))
	buf.Write(downloadTag("mac", 1, []byte{0x80}))
	// second tag's name+value present, bitmap deliberately absent
	buf.WriteString("enUS")
	buf.WriteByte(0)
	binary.Write(&buf, binary.BigEndian, uint16(2))

	table := NewTable(0)
	tags, err := LoadDownload(table, &buf)
	if err != nil {
		t.Fatalf("LoadDownload: %v", err)
	}
	if len(tags) != 2 {
		t.Fatalf("len(tags) = %d, want 2", len(tags))
	}
	if len(tags[1].Bitmap) != 0 {
		t.Errorf("second tag bitmap = %v, want empty", tags[1].Bitmap)
	}

	e, ok := table.LookupEKey9(Truncate(EKey{0xCC, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC}))
	if !ok {
		t.Fatal("entry not found")
	}
	if e.TagBitmask != 0b01 {
		t.Errorf("TagBitmask = %#b, want 0b01 (only tag 0 set)", e.TagBitmask)
	}
}

func TestLoadDownloadBadMagic(t *testing.T) {
	table := NewTable(0)
	if _, err := LoadDownload(table, bytes.NewReader([]byte("XX"))); err == nil {
		t.Error("LoadDownload: got nil error, want one")
	}
}

func TestLoadDownloadUnsupportedVersion(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("DL")
	buf.WriteByte(9)
	buf.Write(make([]byte, 8))

	table := NewTable(0)
	if _, err := LoadDownload(table, &buf); err == nil {
		t.Error("LoadDownload: got nil error, want one")
	}
}

func TestLoadDownloadUpsertsExistingEncodingEntry(t *testing.T) {
	ekey := EKey{0xDD, 0xDD, 0xDD, 0xDD, 0xDD, 0xDD, 0xDD, 0xDD, 0xDD, 0xDD, 0xDD, 0xDD, 0xDD, 0xDD, 0xDD, 0xDD}
	table := NewTable(0)
	e := table.EnsureByEKey9(ekey)
	e.Flags |= InEncoding

	blob := downloadV3(t, 9, [][]byte{downloadEntry(ekey[:9], 0x50, 1, 0)}, nil)
	if _, err := LoadDownload(table, bytes.NewReader(blob)); err != nil {
		t.Fatalf("LoadDownload: %v", err)
	}
	if !e.Flags.Has(InEncoding) || !e.Flags.Has(InDownload) {
		t.Errorf("Flags = %#b, want both InEncoding and InDownload set", e.Flags)
	}
	if e.EncodedSize != 0x50 {
		t.Errorf("EncodedSize = %#x, want 0x50", e.EncodedSize)
	}
}
