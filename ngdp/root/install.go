package root

import (
	"encoding/binary"
	"io"
	"io/ioutil"

	"github.com/lukegb/casc/ngdp/casc"
)

// InstallTag is one named bitmap from the INSTALL manifest's tag
// section, the same shape DOWNLOAD's tags take.
type InstallTag struct {
	Name   string
	Type   uint16
	Bitmap []byte
}

// InstallEntry is one fallback name/size/CKey triple.
type InstallEntry struct {
	Name string
	CKey casc.CKey
	Size uint32
}

// Install is the parsed INSTALL manifest: a flat name -> CKey table
// used as a fallback file-name source when the ROOT handler can't (or
// doesn't) resolve a path itself.
type Install struct {
	Tags    []InstallTag
	Entries []InstallEntry

	byName map[string]casc.CKey
}

// ParseInstall decodes the (already BLTE-decoded) public INSTALL
// manifest: `'IN'` magic, version byte (must be 1), hash-size byte,
// u16 BE tag count, u32 BE entry count, a
// tag section of NUL-terminated name + u16 type + packed bitmap, then
// an entry section of NUL-terminated name + CKey + u32 size. onName,
// which may be nil, is called once per entry so the central table can
// track distinct name references into it.
func ParseInstall(r io.Reader, onName func(casc.CKey)) (*Install, error) {
	buf, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, &casc.Error{Code: casc.CodeBadFormat, Msg: "install: reading manifest: " + err.Error()}
	}

	if len(buf) < 8 || buf[0] != 'I' || buf[1] != 'N' {
		return nil, &casc.Error{Code: casc.CodeBadFormat, Msg: "install: bad magic"}
	}
	version := buf[2]
	if version != 1 {
		return nil, &casc.Error{Code: casc.CodeBadFormat, Msg: "install: unsupported version"}
	}
	hashSize := int(buf[3])
	if hashSize == 0 || hashSize > 16 {
		return nil, &casc.Error{Code: casc.CodeBadFormat, Msg: "install: bad hash size"}
	}
	tagCount := binary.BigEndian.Uint16(buf[4:6])
	entryCount := binary.BigEndian.Uint32(buf[6:10])
	p := buf[10:]

	bitmapLen := int(entryCount) / 8
	if int(entryCount)%8 != 0 {
		bitmapLen++
	}

	inst := &Install{byName: make(map[string]casc.CKey, entryCount)}

	for ti := 0; ti < int(tagCount); ti++ {
		end := indexZero(p)
		if end < 0 {
			return nil, &casc.Error{Code: casc.CodeBadFormat, Msg: "install: tag name not NUL-terminated"}
		}
		name := string(p[:end])
		p = p[end+1:]

		if len(p) < 2 {
			return nil, &casc.Error{Code: casc.CodeBadFormat, Msg: "install: tag value truncated"}
		}
		typ := binary.BigEndian.Uint16(p[:2])
		p = p[2:]

		want := bitmapLen
		if want > len(p) {
			want = len(p)
		}
		bitmap := p[:want]
		p = p[want:]

		inst.Tags = append(inst.Tags, InstallTag{Name: name, Type: typ, Bitmap: bitmap})
	}

	for ei := uint32(0); ei < entryCount; ei++ {
		end := indexZero(p)
		if end < 0 {
			return nil, &casc.Error{Code: casc.CodeBadFormat, Msg: "install: entry name not NUL-terminated"}
		}
		name := string(p[:end])
		p = p[end+1:]

		if len(p) < hashSize+4 {
			return nil, &casc.Error{Code: casc.CodeBadFormat, Msg: "install: entry truncated"}
		}
		var ckey casc.CKey
		copy(ckey[:], p[:hashSize])
		p = p[hashSize:]
		size := binary.BigEndian.Uint32(p[:4])
		p = p[4:]

		inst.Entries = append(inst.Entries, InstallEntry{Name: name, CKey: ckey, Size: size})
		inst.byName[name] = ckey
		if onName != nil {
			onName(ckey)
		}
	}

	return inst, nil
}

// Lookup resolves a fallback name to its content key.
func (i *Install) Lookup(name string) (casc.CKey, bool) {
	ckey, ok := i.byName[name]
	return ckey, ok
}

// Insert records an additional name -> CKey mapping, used to fold the
// well-known build files (ENCODING, DOWNLOAD, ROOT, ...) into the
// fallback name table when no ROOT handler is available at all.
func (i *Install) Insert(name string, ckey casc.CKey) {
	i.byName[name] = ckey
}

func indexZero(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}
