package root

import (
	"encoding/binary"
	"io"
	"io/ioutil"

	"github.com/lukegb/casc/ngdp/casc"
)

// tvfsRoot implements Handler for the tree-structured virtual
// filesystem root: a flat path table of NUL-terminated names, each
// followed directly by its content key. The real format's
// prefix-compressed path trie and its separate VFS/content-file-table
// split (letting one path resolve through a span list to several
// archive spans) collapse here into one direct name -> CKey table;
// TVFS's real value for CDN-side partial reads doesn't apply once the
// central table already tracks storage_offset per key.
type tvfsRoot struct {
	byName map[string]casc.CKey
	scope  map[casc.CKey]bool

	// onName, when set, is called once per name successfully inserted
	// so the central table can track distinct name references.
	onName func(casc.CKey)
}

var tvfsMagic = [4]byte{'T', 'V', 'F', 'S'}

// ParseTVFS decodes a TVFS root blob: 4-byte magic, u8 key size, 3
// reserved bytes, path-table offset+size (u32 LE each), then a path
// table of back-to-back NUL-terminated-name + key(key size bytes)
// records running from offset for size bytes. onName may be nil.
func ParseTVFS(r io.Reader, onName func(casc.CKey)) (Handler, error) {
	buf, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, &casc.Error{Code: casc.CodeBadFormat, Msg: "tvfs: reading manifest: " + err.Error()}
	}
	if len(buf) < 16 || buf[0] != tvfsMagic[0] || buf[1] != tvfsMagic[1] || buf[2] != tvfsMagic[2] || buf[3] != tvfsMagic[3] {
		return nil, &casc.Error{Code: casc.CodeBadFormat, Msg: "tvfs: bad magic"}
	}
	keySize := int(buf[4])
	if keySize == 0 || keySize > 16 {
		return nil, &casc.Error{Code: casc.CodeBadFormat, Msg: "tvfs: bad key size"}
	}
	pathTableOffset := binary.LittleEndian.Uint32(buf[8:12])
	pathTableSize := binary.LittleEndian.Uint32(buf[12:16])

	end := uint64(pathTableOffset) + uint64(pathTableSize)
	if end > uint64(len(buf)) {
		return nil, &casc.Error{Code: casc.CodeFileCorrupt, Msg: "tvfs: path table extends past end of file"}
	}
	p := buf[pathTableOffset:end]

	h := &tvfsRoot{byName: make(map[string]casc.CKey), scope: make(map[casc.CKey]bool), onName: onName}
	for len(p) > 0 {
		nameEnd := indexZero(p)
		if nameEnd < 0 {
			return nil, &casc.Error{Code: casc.CodeFileCorrupt, Msg: "tvfs: path record name not NUL-terminated"}
		}
		name := string(p[:nameEnd])
		p = p[nameEnd+1:]
		if len(p) < keySize {
			return nil, &casc.Error{Code: casc.CodeFileCorrupt, Msg: "tvfs: path record key truncated"}
		}
		var ckey casc.CKey
		copy(ckey[:], p[:keySize])
		p = p[keySize:]

		h.Insert(name, ckey)
	}

	return h, nil
}

func (h *tvfsRoot) Insert(name string, ckey casc.CKey) error {
	h.byName[name] = ckey
	h.scope[ckey] = true
	if h.onName != nil {
		h.onName(ckey)
	}
	return nil
}

func (h *tvfsRoot) Lookup(name string) (casc.CKey, bool) {
	ckey, ok := h.byName[name]
	return ckey, ok
}

func (h *tvfsRoot) CopyFrom(old Handler) {
	oh, ok := old.(*tvfsRoot)
	if !ok {
		return
	}
	for name, ckey := range oh.byName {
		if _, exists := h.byName[name]; !exists {
			h.Insert(name, ckey)
		}
	}
}

func (h *tvfsRoot) Features() Features { return FeatureNameLookup }

func (h *tvfsRoot) InScope(ckey casc.CKey) bool { return h.scope[ckey] }
