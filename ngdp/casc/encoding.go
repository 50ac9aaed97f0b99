package casc

import (
	"io"

	"github.com/pkg/errors"

	"github.com/lukegb/casc/ngdp/encoding"
)

// EncodingEntrySize approximates original_source's sizeof(FILE_CKEY_ENTRY)
// for a single-EKey record: ekey_count(2) + content_size(4) + ckey(16)
// + ekey(16). Used only for capacity estimation.
const EncodingEntrySize = 2 + 4 + 16 + 16

// LoadEncoding parses the (already BLTE-decoded) ENCODING manifest and
// inserts one central entry per record: HAS_CKEY|HAS_EKEY|IN_ENCODING,
// with content_size taken from the manifest and storage_offset/
// encoded_size filled in from idx if the record's primary EKey is
// already known there. ENCODING failure is fatal to the whole open.
func LoadEncoding(t *Table, r io.Reader, idx *IndexAggregator) error {
	m, err := encoding.NewMapper(r)
	if err != nil {
		if err == encoding.ErrPageCorrupt {
			return errf(CodeFileCorrupt, "encoding: %v", err)
		}
		return errors.Wrap(errf(CodeBadFormat, "%v", err), "loading ENCODING manifest")
	}

	for _, rec := range m.Entries() {
		e := t.EnsureByCKey(rec.CKey)
		if len(rec.EKeys) > 0 {
			primary := rec.EKeys[0]
			e.EKey = primary
			e.Flags |= HasEKey
			e9 := Truncate(primary)
			if _, ok := t.byEKey9[e9]; !ok {
				t.byEKey9[e9] = e
			}
			if idx != nil {
				if ir, ok := idx.Lookup(e9); ok {
					e.SetStorageOffset(packArchiveOffset(ir.Archive, ir.Offset))
					e.SetEncodedSize(ir.EncodedSize)
				}
			}
		}
		e.SetContentSize(rec.ContentSize)
		e.Flags |= InEncoding
	}

	return nil
}
