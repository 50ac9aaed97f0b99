package casc

// Flags is the per-entry bitset described by the central table's data
// model: which sources have contributed to a file's central entry, and
// whether its key material is complete.
type Flags uint32

const (
	HasCKey Flags = 1 << iota
	HasEKey
	HasEKeyPartial
	InEncoding
	InDownload
	InBuild
	FilePatch
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Invalid sentinels for the size/offset fields of an Entry, matching
// the "unknown" markers original_source uses (0xFFFFFFFF/0xFFFFFFFFFFFFFFFF).
const (
	InvalidSize32 uint32 = 0xFFFFFFFF
	InvalidOffset uint64 = 0xFFFFFFFFFFFFFFFF
)

// entryExtraItems is the fixed slack CascOpenStorage.cpp's
// GetEstimatedNumberOfFiles adds on top of a manifest-size-derived
// file-count estimate, to cover the well-known files themselves.
const entryExtraItems = 0x40

// Entry is a central table record: one per unique file known to the
// storage, addressed by CKey and/or (possibly-partial) EKey.
type Entry struct {
	CKey CKey
	EKey EKey

	StorageOffset uint64
	ContentSize   uint32
	EncodedSize   uint32

	TagBitmask uint64
	Priority   uint8

	RefCount  uint32
	SpanCount uint8

	Flags Flags
}

// SetContentSize records a known content size. A previously-known
// value is never clobbered by a later call - the table upsert policy
// only ever promotes an unknown field to known, never the reverse.
func (e *Entry) SetContentSize(v uint32) {
	if e.ContentSize == InvalidSize32 {
		e.ContentSize = v
	}
}

// SetEncodedSize records a known encoded size, subject to the same
// promote-only-from-unknown policy as SetContentSize.
func (e *Entry) SetEncodedSize(v uint32) {
	if e.EncodedSize == InvalidSize32 {
		e.EncodedSize = v
	}
}

// SetStorageOffset records a known archive+offset, subject to the same
// promote-only-from-unknown policy as SetContentSize.
func (e *Entry) SetStorageOffset(v uint64) {
	if e.StorageOffset == InvalidOffset {
		e.StorageOffset = v
	}
}

// Table is the append-only central CKey table: a contiguous, pointer-
// stable list of entries plus two lookup maps (by full CKey, by
// 9-byte truncated EKey). Entries are heap-allocated individually and
// referenced by pointer everywhere, so growing the backing slice never
// invalidates a previously returned *Entry - a bucketed arena would
// buy nothing more in Go, where escape analysis already puts each
// Entry on the heap once its address is taken.
type Table struct {
	entries []*Entry
	byCKey  map[CKey]*Entry
	byEKey9 map[EKey9]*Entry
}

// NewTable creates an empty table, pre-sizing its backing storage to
// capacityHint entries (see EstimateCapacity).
func NewTable(capacityHint int) *Table {
	if capacityHint <= 0 {
		capacityHint = 1024
	}
	return &Table{
		entries: make([]*Entry, 0, capacityHint),
		byCKey:  make(map[CKey]*Entry, capacityHint),
		byEKey9: make(map[EKey9]*Entry, capacityHint),
	}
}

// EstimateCapacity implements original_source's GetEstimatedNumberOfFiles:
// prefer a size derived from DOWNLOAD's byte length divided by its
// per-entry record size, falling back to the same computation against
// ENCODING, falling back to a fixed 1,000,000-entry guess if neither
// manifest's size is known yet (both use the invalid-u32 sentinel to
// mean "unknown").
func EstimateCapacity(downloadContentSize uint32, downloadEntrySize uint64, encodingContentSize uint32, encodingEntrySize uint64) int {
	var n1, n2 uint64
	if downloadContentSize != InvalidSize32 && downloadEntrySize > 0 {
		n1 = uint64(downloadContentSize)/downloadEntrySize + entryExtraItems
	}
	if encodingContentSize != InvalidSize32 && encodingEntrySize > 0 {
		n2 = uint64(encodingContentSize)/encodingEntrySize + entryExtraItems
	}
	if n1 != 0 {
		return int(n1)
	}
	if n2 != 0 {
		return int(n2)
	}
	return 1000000
}

func (t *Table) newEntry() *Entry {
	e := &Entry{
		ContentSize:   InvalidSize32,
		EncodedSize:   InvalidSize32,
		StorageOffset: InvalidOffset,
		SpanCount:     1,
	}
	t.entries = append(t.entries, e)
	return e
}

// Entries returns every central entry, in insertion order (ENCODING
// first, then DOWNLOAD upserts, then well-known-file insertion).
func (t *Table) Entries() []*Entry {
	return t.entries
}

// LookupCKey finds the entry for a full content key.
func (t *Table) LookupCKey(k CKey) (*Entry, bool) {
	e, ok := t.byCKey[k]
	return e, ok
}

// LookupEKey9 finds the entry for a truncated encoded key, the only
// form index-file records and TVFS references carry.
func (t *Table) LookupEKey9(k EKey9) (*Entry, bool) {
	e, ok := t.byEKey9[k]
	return e, ok
}

// EnsureByCKey returns the entry known by ckey, creating and
// registering a new one if this is the first time it's been seen.
func (t *Table) EnsureByCKey(ckey CKey) *Entry {
	if e, ok := t.byCKey[ckey]; ok {
		return e
	}
	e := t.newEntry()
	e.CKey = ckey
	e.Flags |= HasCKey
	t.byCKey[ckey] = e
	return e
}

// EnsureByEKey9 returns the entry known by the truncated form of ekey,
// creating one if needed. If an entry already exists with only a
// partial EKey and the caller now has the full 16-byte key, the entry
// is upgraded in place.
func (t *Table) EnsureByEKey9(ekey EKey) *Entry {
	return t.UpsertByEncodedKeyBytes(ekey[:])
}

// UpsertByEncodedKeyBytes finds or creates the entry addressed by an
// encoded key given as raw bytes, which may be the full 16-byte EKey
// or only its 9-byte truncated prefix (as DOWNLOAD entries with
// ekey_length=9 provide). An existing partial entry is upgraded to a
// full EKey when raw supplies 16 or more bytes.
func (t *Table) UpsertByEncodedKeyBytes(raw []byte) *Entry {
	var e9 EKey9
	copy(e9[:], raw[:9])

	if e, ok := t.byEKey9[e9]; ok {
		if len(raw) >= 16 && e.Flags.Has(HasEKeyPartial) {
			var full EKey
			copy(full[:], raw[:16])
			e.EKey = full
			e.Flags = e.Flags&^HasEKeyPartial | HasEKey
		}
		return e
	}

	e := t.newEntry()
	if len(raw) >= 16 {
		var full EKey
		copy(full[:], raw[:16])
		e.EKey = full
		e.Flags |= HasEKey
	} else {
		copy(e.EKey[:9], raw[:9])
		e.Flags |= HasEKey | HasEKeyPartial
	}
	t.byEKey9[e9] = e
	return e
}

// LinkCKeyToExisting registers ckey against an entry that was created
// via its EKey, so an EKey-only entry gets its CKey filled in and
// becomes reachable through LookupCKey.
func (t *Table) LinkCKeyToExisting(e *Entry, ckey CKey) {
	e.CKey = ckey
	e.Flags |= HasCKey
	if _, ok := t.byCKey[ckey]; !ok {
		t.byCKey[ckey] = e
	}
}

// RecordNameReference registers one more distinct name resolving to
// ckey, called by a root handler's Insert/InsertID whenever it maps a
// name to a content key, so RefCount reflects how many names actually
// name the entry rather than just whether it exists. The entry is
// created via EnsureByCKey if ckey hasn't been seen by ENCODING or
// DOWNLOAD.
func (t *Table) RecordNameReference(ckey CKey) *Entry {
	e := t.EnsureByCKey(ckey)
	e.RefCount++
	return e
}

// TotalFileCount implements the "total-file-count" info query:
// Sigma max(ref_count, 1) over every entry that names an actual file
// (has at least a CKey or an EKey, full or partial).
func (t *Table) TotalFileCount() int {
	var n int
	for _, e := range t.entries {
		if !e.Flags.Has(HasCKey) && !e.Flags.Has(HasEKey) {
			continue
		}
		rc := e.RefCount
		if rc == 0 {
			rc = 1
		}
		n += int(rc)
	}
	return n
}

// LocalFileCount counts entries whose storage offset is known, i.e.
// files this storage can actually stream without further network I/O.
func (t *Table) LocalFileCount() int {
	var n int
	for _, e := range t.entries {
		if e.StorageOffset != InvalidOffset {
			n++
		}
	}
	return n
}
