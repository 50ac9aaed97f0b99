package root

import (
	"encoding/binary"
	"io"
	"io/ioutil"
	"path"
	"sort"
	"strings"

	"github.com/lukegb/casc/ngdp/casc"
)

// mndxDirent is one directory entry: either a nested directory or a
// file, addressed case-insensitively by name within its parent.
type mndxDirent struct {
	name string
	dir  *mndxDir
	ckey *casc.CKey
}

type mndxDirents []*mndxDirent

func (d mndxDirents) Len() int           { return len(d) }
func (d mndxDirents) Less(i, j int) bool { return d[i].name < d[j].name }
func (d mndxDirents) Swap(i, j int)      { d[i], d[j] = d[j], d[i] }

// mndxDir is a container of mndxDirent, addressable by name; it starts
// life as a map for cheap insertion during a parse or a series of
// Insert calls, then flattens to a sorted slice for binary-search
// lookups once queried.
type mndxDir struct {
	byName map[string]*mndxDirent
	flat   mndxDirents
}

func newMndxDir() *mndxDir {
	return &mndxDir{byName: make(map[string]*mndxDirent)}
}

func (d *mndxDir) invalidate() { d.flat = nil }

func (d *mndxDir) flatten() {
	if d.flat != nil {
		return
	}
	flat := make(mndxDirents, 0, len(d.byName))
	for _, e := range d.byName {
		flat = append(flat, e)
	}
	sort.Sort(flat)
	d.flat = flat
}

func (d *mndxDir) get(cname string) (*mndxDirent, bool) {
	d.flatten()
	n := len(d.flat)
	i := sort.Search(n, func(i int) bool { return d.flat[i].name >= cname })
	if i == n || d.flat[i].name != cname {
		return nil, false
	}
	return d.flat[i], true
}

func (d *mndxDir) mkdirs(parts []string) *mndxDir {
	if len(parts) == 0 {
		return d
	}
	cname := strings.ToLower(parts[0])
	e, ok := d.byName[cname]
	if !ok {
		e = &mndxDirent{name: cname, dir: newMndxDir()}
		d.byName[cname] = e
		d.invalidate()
	}
	if e.dir == nil {
		e.dir = newMndxDir()
		d.invalidate()
	}
	return e.dir.mkdirs(parts[1:])
}

func (d *mndxDir) putFile(name string, ckey casc.CKey) {
	cname := strings.ToLower(name)
	if _, ok := d.byName[cname]; !ok {
		d.invalidate()
	}
	d.byName[cname] = &mndxDirent{name: cname, ckey: &ckey}
}

func splitPath(name string) []string {
	name = strings.TrimLeft(path.Clean("/"+name), "/")
	return strings.Split(name, "/")
}

// mndxRoot implements Handler for the glob-tree root format used by
// early Heroes of the Storm builds. The teacher's cgo binding decoded
// MNDX's page-compressed patricia trie via a bundled C CascLib and
// handed back a flat slice of (name, size, locale, file-data-ID,
// encoding-key) records; this handler reads that same flat record
// shape directly from the manifest bytes rather than the trie's
// on-disk compression, and builds the same case-insensitive path tree
// from it.
type mndxRoot struct {
	root *mndxDir

	// onName, when set, is called once per name successfully inserted
	// (initial parse, or later Insert/CopyFrom calls) so the central
	// table can track how many distinct names reference each entry.
	onName func(casc.CKey)
}

// mndxMagic is the sniff sequence root.Dispatch matches on.
var mndxMagic = [4]byte{'M', 'N', 'D', 'X'}

// ParseMNDX reads a decoded MNDX root blob: 4-byte magic, u32 LE
// record count, then that many fixed records of
// name-length(u16 LE) | name | size(u32 LE) | localeFlags(u32 LE) |
// fileDataID(u32 LE) | encodingKey(16 bytes). onName may be nil.
func ParseMNDX(r io.Reader, onName func(casc.CKey)) (Handler, error) {
	buf, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, &casc.Error{Code: casc.CodeBadFormat, Msg: "mndx: reading manifest: " + err.Error()}
	}
	if len(buf) < 8 || buf[0] != mndxMagic[0] || buf[1] != mndxMagic[1] || buf[2] != mndxMagic[2] || buf[3] != mndxMagic[3] {
		return nil, &casc.Error{Code: casc.CodeBadFormat, Msg: "mndx: bad magic"}
	}
	count := binary.LittleEndian.Uint32(buf[4:8])
	p := buf[8:]

	h := &mndxRoot{root: newMndxDir(), onName: onName}
	for i := uint32(0); i < count; i++ {
		if len(p) < 2 {
			return nil, &casc.Error{Code: casc.CodeFileCorrupt, Msg: "mndx: record truncated"}
		}
		nameLen := int(binary.LittleEndian.Uint16(p[0:2]))
		p = p[2:]
		if len(p) < nameLen+12+16 {
			return nil, &casc.Error{Code: casc.CodeFileCorrupt, Msg: "mndx: record truncated"}
		}
		name := string(p[:nameLen])
		p = p[nameLen:]
		// size(4) + localeFlags(4) + fileDataID(4) are carried by the
		// original record shape but the central table and Handler
		// contract have no field for them; skipped here.
		p = p[12:]
		var ckey casc.CKey
		copy(ckey[:], p[:16])
		p = p[16:]

		if err := h.Insert(name, ckey); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (h *mndxRoot) Insert(name string, ckey casc.CKey) error {
	parts := splitPath(name)
	dir := h.root
	if len(parts) > 1 {
		dir = h.root.mkdirs(parts[:len(parts)-1])
	}
	dir.putFile(parts[len(parts)-1], ckey)
	if h.onName != nil {
		h.onName(ckey)
	}
	return nil
}

func (h *mndxRoot) Lookup(name string) (casc.CKey, bool) {
	parts := splitPath(name)
	dir := h.root
	for _, part := range parts[:len(parts)-1] {
		e, ok := dir.get(strings.ToLower(part))
		if !ok || e.dir == nil {
			return casc.CKey{}, false
		}
		dir = e.dir
	}
	e, ok := dir.get(strings.ToLower(parts[len(parts)-1]))
	if !ok || e.ckey == nil {
		return casc.CKey{}, false
	}
	return *e.ckey, true
}

func (h *mndxRoot) CopyFrom(old Handler) {
	oh, ok := old.(*mndxRoot)
	if !ok {
		return
	}
	copyMndxDir(h.root, oh.root, nil, h)
}

func copyMndxDir(into *mndxDir, from *mndxDir, prefix []string, h *mndxRoot) {
	from.flatten()
	for _, e := range from.flat {
		p := append(append([]string{}, prefix...), e.name)
		if e.dir != nil {
			copyMndxDir(into, e.dir, p, h)
			continue
		}
		if _, exists := h.Lookup(strings.Join(p, "/")); !exists {
			h.Insert(strings.Join(p, "/"), *e.ckey)
		}
	}
}

// List implements Lister: dirPath "" or "/" lists the root, otherwise
// each slash-separated component must resolve to a nested directory.
func (h *mndxRoot) List(dirPath string) ([]DirEntry, bool) {
	dir := h.root
	if dirPath != "" && dirPath != "/" {
		for _, part := range splitPath(dirPath) {
			e, ok := dir.get(strings.ToLower(part))
			if !ok || e.dir == nil {
				return nil, false
			}
			dir = e.dir
		}
	}
	dir.flatten()
	entries := make([]DirEntry, len(dir.flat))
	for i, e := range dir.flat {
		entries[i] = DirEntry{Name: e.name, IsDir: e.dir != nil}
	}
	return entries, true
}

func (h *mndxRoot) Features() Features { return FeatureNameLookup }

func (h *mndxRoot) InScope(ckey casc.CKey) bool {
	return mndxInScope(h.root, ckey)
}

func mndxInScope(d *mndxDir, ckey casc.CKey) bool {
	d.flatten()
	for _, e := range d.flat {
		if e.dir != nil {
			if mndxInScope(e.dir, ckey) {
				return true
			}
			continue
		}
		if *e.ckey == ckey {
			return true
		}
	}
	return false
}
