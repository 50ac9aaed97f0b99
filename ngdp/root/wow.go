package root

import (
	"encoding/binary"
	"io"
	"io/ioutil"

	"github.com/lukegb/casc/ngdp/casc"
)

// wowRecord is one file within a locale/content block.
type wowRecord struct {
	fileDataID   uint32
	ckey         casc.CKey
	localeFlags  uint32
	contentFlags uint32
}

// wowRoot implements Handler for WoW's multi-locale, file-data-ID
// keyed root: a stream of blocks, each naming a shared locale/content
// flag pair and the records within it, self-verified structurally
// since the format carries no magic of its own.
type wowRoot struct {
	locale  uint32 // 0 means "accept every locale"
	records []wowRecord
	byID    map[uint32]casc.CKey

	// onName, when set, is called once per file-data-ID successfully
	// inserted so the central table can track distinct name references.
	onName func(casc.CKey)
}

// ParseWoW decodes a WoW root blob as a sequence of blocks:
// record_count(u32 LE) | content_flags(u32 LE) | locale_flags(u32 LE),
// then record_count file-data-IDs (u32 LE each) followed by
// record_count 16-byte content keys. Locale-delta encoding of the
// ID list (as later client builds use) is out of scope; IDs are read
// as absolute values.
func ParseWoW(r io.Reader, locale uint32, onName func(casc.CKey)) (Handler, error) {
	buf, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, &casc.Error{Code: casc.CodeBadFormat, Msg: "wow: reading manifest: " + err.Error()}
	}

	h := &wowRoot{locale: locale, byID: make(map[uint32]casc.CKey), onName: onName}
	p := buf
	for len(p) > 0 {
		if len(p) < 12 {
			return nil, &casc.Error{Code: casc.CodeBadFormat, Msg: "wow: block header truncated"}
		}
		recordCount := binary.LittleEndian.Uint32(p[0:4])
		contentFlags := binary.LittleEndian.Uint32(p[4:8])
		localeFlags := binary.LittleEndian.Uint32(p[8:12])
		p = p[12:]

		need := int(recordCount)*4 + int(recordCount)*16
		if need < 0 || need > len(p) {
			return nil, &casc.Error{Code: casc.CodeBadFormat, Msg: "wow: block body truncated"}
		}

		ids := make([]uint32, recordCount)
		for i := range ids {
			ids[i] = binary.LittleEndian.Uint32(p[i*4 : i*4+4])
		}
		p = p[recordCount*4:]

		for i := uint32(0); i < recordCount; i++ {
			var ckey casc.CKey
			copy(ckey[:], p[:16])
			p = p[16:]

			rec := wowRecord{fileDataID: ids[i], ckey: ckey, localeFlags: localeFlags, contentFlags: contentFlags}
			h.records = append(h.records, rec)
			if localeFlags == 0 || locale == 0 || localeFlags&locale != 0 {
				h.byID[rec.fileDataID] = ckey
				if h.onName != nil {
					h.onName(ckey)
				}
			}
		}
	}

	return h, nil
}

func (h *wowRoot) Insert(name string, ckey casc.CKey) error {
	return &casc.Error{Code: casc.CodeNotSupported, Msg: "wow: root is file-data-ID keyed, not name keyed"}
}

func (h *wowRoot) Lookup(name string) (casc.CKey, bool) {
	return casc.CKey{}, false
}

func (h *wowRoot) InsertID(id uint32, ckey casc.CKey) error {
	h.records = append(h.records, wowRecord{fileDataID: id, ckey: ckey})
	h.byID[id] = ckey
	if h.onName != nil {
		h.onName(ckey)
	}
	return nil
}

func (h *wowRoot) LookupID(id uint32) (casc.CKey, bool) {
	ckey, ok := h.byID[id]
	return ckey, ok
}

func (h *wowRoot) CopyFrom(old Handler) {
	oh, ok := old.(*wowRoot)
	if !ok {
		return
	}
	for id, ckey := range oh.byID {
		if _, exists := h.byID[id]; !exists {
			h.InsertID(id, ckey)
		}
	}
}

func (h *wowRoot) Features() Features { return FeatureFileDataID | FeatureLocale }

func (h *wowRoot) InScope(ckey casc.CKey) bool {
	for _, rec := range h.records {
		if rec.ckey == ckey {
			return true
		}
	}
	return false
}
