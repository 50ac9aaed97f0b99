/*
Copyright 2017 Luke Granger-Brown

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package encoding parses the ENCODING manifest, the paginated table
// that maps a file's content hash (CKey) onto the encoded hash(es)
// (EKey) actually addressable in the archive indexes.
package encoding

import (
	"encoding/binary"
	"fmt"
	"io"
	"io/ioutil"
	"sort"

	"github.com/lukegb/casc/ngdp"
)

// Error constants
var (
	ErrBadMagic           = fmt.Errorf("encoding: bad magic")
	ErrUnsupportedVersion = fmt.Errorf("encoding: unsupported version")
	ErrBadHashLength      = fmt.Errorf("encoding: CKey/EKey length other than 16 is not supported")
	ErrPageCorrupt        = fmt.Errorf("encoding: page first record's CKey does not match page descriptor")
	ErrUnknownContentHash = fmt.Errorf("encoding: unknown content hash")
	ErrTooManyCDNHashes   = fmt.Errorf("encoding: multiple CDN hashes listed")
)

// An Entry is one CKey's record from the ENCODING manifest: the
// decoded content size, and the ordered list of EKeys that encode it.
// The first EKey is the one every other component treats as primary.
type Entry struct {
	CKey        ngdp.ContentHash
	ContentSize uint32
	EKeys       []ngdp.CDNHash
}

// A Mapper converts file content hashes into their corresponding
// encoded hashes, per the ENCODING manifest.
type Mapper struct {
	entries []Entry // sorted by CKey
}

// NewMapper creates a new Mapper from a provided encoding file.
//
// The encoding file should not be in BLTE format - it should already have been decoded.
func NewMapper(r io.Reader) (*Mapper, error) {
	m := &Mapper{}
	if err := m.init(r); err != nil {
		return nil, err
	}
	return m, nil
}

type header struct {
	version        uint8
	ckeyLength     uint8
	ekeyLength     uint8
	ckeyPageSize   uint32
	ekeyPageSize   uint32
	ckeyPageCount  uint32
	ekeyPageCount  uint32
	especBlockSize uint32
}

func readHeader(r io.Reader) (*header, error) {
	buf := make([]byte, 22)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	if buf[0] != 'E' || buf[1] != 'N' {
		return nil, ErrBadMagic
	}

	var h header
	h.version = buf[2]
	if h.version != 1 {
		return nil, ErrUnsupportedVersion
	}
	h.ckeyLength = buf[3]
	h.ekeyLength = buf[4]
	if h.ckeyLength != 16 || h.ekeyLength != 16 {
		return nil, ErrBadHashLength
	}
	h.ckeyPageSize = uint32(binary.BigEndian.Uint16(buf[5:7])) * 1024
	h.ekeyPageSize = uint32(binary.BigEndian.Uint16(buf[7:9])) * 1024
	h.ckeyPageCount = binary.BigEndian.Uint32(buf[9:13])
	h.ekeyPageCount = binary.BigEndian.Uint32(buf[13:17])
	// buf[17] is a reserved byte, always zero on disk.
	h.especBlockSize = binary.BigEndian.Uint32(buf[18:22])

	return &h, nil
}

// Entries returns every CKey record parsed from the manifest, in the
// order they were read from the file (page order, then in-page order).
func (m *Mapper) Entries() []Entry {
	return m.entries
}

// Lookup returns the Entry for the given content hash, if known.
func (m *Mapper) Lookup(ckey ngdp.ContentHash) (Entry, bool) {
	i := sort.Search(len(m.entries), func(n int) bool {
		return !m.entries[n].CKey.Less(ckey)
	})
	if i >= len(m.entries) || !m.entries[i].CKey.Equal(ckey) {
		return Entry{}, false
	}
	return m.entries[i], true
}

// ToCDNHash converts a content hash into a single CDN-addressable
// encoded hash (EKey).
//
// It is possible for a single content hash to map to multiple EKeys. In this case, an error is thrown - the semantics of what multiple EKeys means is currently unclear.
func (m *Mapper) ToCDNHash(contentHash ngdp.ContentHash) (ngdp.CDNHash, error) {
	e, ok := m.Lookup(contentHash)
	if !ok {
		return ngdp.CDNHash{}, ErrUnknownContentHash
	}
	if len(e.EKeys) != 1 {
		return ngdp.CDNHash{}, ErrTooManyCDNHashes
	}
	return e.EKeys[0], nil
}

func (m *Mapper) init(r io.Reader) error {
	h, err := readHeader(r)
	if err != nil {
		return fmt.Errorf("encoding: reading header: %v", err)
	}

	// Skip over the ESpec string table; we don't need it here.
	if _, err := io.CopyN(ioutil.Discard, r, int64(h.especBlockSize)); err != nil {
		return fmt.Errorf("encoding: skipping ESpec table: %v", err)
	}

	type pageDescriptor struct {
		firstCKey ngdp.ContentHash
		md5       [16]byte
	}
	descriptors := make([]pageDescriptor, h.ckeyPageCount)
	buf := make([]byte, 32)
	for n := uint32(0); n < h.ckeyPageCount; n++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("encoding: reading page descriptor %d: %v", n, err)
		}
		copy(descriptors[n].firstCKey[:], buf[0:16])
		copy(descriptors[n].md5[:], buf[16:32])
	}

	var entries []Entry
	page := make([]byte, h.ckeyPageSize)
	for n := uint32(0); n < h.ckeyPageCount; n++ {
		if _, err := io.ReadFull(r, page); err != nil {
			return fmt.Errorf("encoding: reading page %d: %v", n, err)
		}

		pageEntries, err := parseCKeyPage(page)
		if err != nil {
			return fmt.Errorf("encoding: parsing page %d: %v", n, err)
		}
		if len(pageEntries) > 0 && !pageEntries[0].CKey.Equal(descriptors[n].firstCKey) {
			return ErrPageCorrupt
		}

		entries = append(entries, pageEntries...)
	}

	m.entries = entries

	// The EKey-indexed half of the file (its own page descriptor table
	// and pages) follows here; component G never needs it, since every
	// lookup this engine performs goes CKey -> EKey, so it is left
	// unread rather than skipped byte-for-byte.

	return nil
}

// parseCKeyPage decodes the sequential [ekey_count][content_size][ckey]{ekey}...
// records of a single CKey page, stopping at the first zero-count
// record or when the page buffer is exhausted.
func parseCKeyPage(page []byte) ([]Entry, error) {
	var entries []Entry
	for len(page) >= 6+16 {
		ekeyCount := binary.BigEndian.Uint16(page[0:2])
		if ekeyCount == 0 {
			break
		}
		contentSize := binary.BigEndian.Uint32(page[2:6])
		page = page[6:]

		var ckey ngdp.ContentHash
		copy(ckey[:], page[0:16])
		page = page[16:]

		need := int(ekeyCount) * 16
		if need > len(page) {
			return nil, fmt.Errorf("encoding: page record truncated: need %d EKey bytes, have %d", need, len(page))
		}

		ekeys := make([]ngdp.CDNHash, ekeyCount)
		for x := uint16(0); x < ekeyCount; x++ {
			copy(ekeys[x][:], page[0:16])
			page = page[16:]
		}

		entries = append(entries, Entry{
			CKey:        ckey,
			ContentSize: contentSize,
			EKeys:       ekeys,
		})
	}
	return entries, nil
}
