package root

import (
	"bytes"
	"io"
	"io/ioutil"

	"github.com/pkg/errors"

	"github.com/lukegb/casc/ngdp/casc"
)

// Loader fetches and BLTE-decodes an internal file by content key,
// handing back its plain bytes. The dispatcher takes this as a
// function value rather than importing the internal-file loader
// directly, so ngdp/casc need not depend on ngdp/root.
type Loader func(ckey casc.CKey) (io.ReadCloser, error)

// Dispatch loads the ROOT manifest, preferring vfsRootCKey (when it's
// set) over rootCKey, and retrying once with rootCKey if the chosen
// handler's Parse function reports CodeReparseRoot. Before that retry,
// onReparse is invoked (nil is fine) so the caller can fire its
// "Loading ROOT manifest (reparsed)" progress phase and honor
// cancellation there same as any other phase boundary; a non-nil error
// from onReparse aborts the retry and is returned as-is. onName, also
// nil-safe, is invoked once per name a handler resolves to a content
// key, letting the caller track distinct name references into the
// central table. On reparse, the second handler's CopyFrom is called
// with the first pass's handler. A first pass that fails returns no
// handler, so that argument is nil on this path and no names carry
// over: the returned handler holds only what its own parse resolved.
func Dispatch(load Loader, rootCKey, vfsRootCKey casc.CKey, locale uint32, onReparse func() error, onName func(casc.CKey)) (Handler, error) {
	var zero casc.CKey
	primary := rootCKey
	usingVFS := false
	if vfsRootCKey != zero {
		primary = vfsRootCKey
		usingVFS = true
	}

	h, err := loadAndParse(load, primary, locale, onName)
	if err == nil {
		return h, nil
	}

	code, ok := casc.CodeOf(err)
	if !ok || code != casc.CodeReparseRoot || !usingVFS {
		return nil, err
	}

	if onReparse != nil {
		if err := onReparse(); err != nil {
			return nil, err
		}
	}

	h2, err2 := loadAndParse(load, rootCKey, locale, onName)
	if err2 != nil {
		return nil, err2
	}
	h2.CopyFrom(h)
	return h2, nil
}

func loadAndParse(load Loader, ckey casc.CKey, locale uint32, onName func(casc.CKey)) (Handler, error) {
	rc, err := load(ckey)
	if err != nil {
		return nil, errors.Wrap(err, "root: fetching manifest")
	}
	defer rc.Close()
	return Parse(rc, locale, onName)
}

// Parse sniffs a decoded ROOT blob's leading bytes and dispatches to
// the matching per-format Handler. Formats not sniffed here
// (Overwatch, StarCraft I, WoW) are tried in that order against
// whatever's left once MNDX, Diablo III and TVFS have all declined;
// each self-verifies its own structure and returns
// BAD_FORMAT on mismatch rather than misinterpreting a foreign layout.
// onName may be nil; formats with no name resolution of their own
// (Diablo III, Overwatch, StarCraft I) ignore it.
func Parse(r io.Reader, locale uint32, onName func(casc.CKey)) (Handler, error) {
	buf, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, &casc.Error{Code: casc.CodeBadFormat, Msg: "root: reading manifest: " + err.Error()}
	}

	switch {
	case hasPrefix(buf, mndxMagic[:]):
		return ParseMNDX(bytes.NewReader(buf), onName)
	case hasPrefix(buf, diablo3Magic):
		return ParseDiablo3(bytes.NewReader(buf))
	case hasPrefix(buf, tvfsMagic[:]):
		return ParseTVFS(bytes.NewReader(buf), onName)
	}

	if h, err := ParseOverwatch(bytes.NewReader(buf)); err == nil {
		return h, nil
	}
	if h, err := ParseStarCraft1(bytes.NewReader(buf)); err == nil {
		return h, nil
	}
	return ParseWoW(bytes.NewReader(buf), locale, onName)
}

func hasPrefix(buf, magic []byte) bool {
	return len(buf) >= len(magic) && bytes.Equal(buf[:len(magic)], magic)
}
