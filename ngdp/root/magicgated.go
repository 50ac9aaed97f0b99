package root

import (
	"io"
	"io/ioutil"

	"github.com/lukegb/casc/ngdp/casc"
)

// magicGated is the shared shape for the two root formats (Diablo III,
// StarCraft I) this
// dispatcher recognizes but doesn't decode further: it verifies the
// blob's leading magic and otherwise treats the file as a single
// opaque, unresolvable blob. Each of these formats is a proprietary,
// undocumented layout only its own game client needs to fully parse;
// a storage that recognizes the magic can still open, list what the
// central table and INSTALL fallback already know, and dispatch other
// root formats correctly, without claiming per-name resolution here.
type magicGated struct {
	magic string
}

func (h *magicGated) Insert(name string, ckey casc.CKey) error {
	return &casc.Error{Code: casc.CodeNotSupported, Msg: h.magic + ": name insertion not supported"}
}

func (h *magicGated) Lookup(name string) (casc.CKey, bool) { return casc.CKey{}, false }

func (h *magicGated) CopyFrom(old Handler) {}

func (h *magicGated) Features() Features { return 0 }

func (h *magicGated) InScope(ckey casc.CKey) bool { return false }

var diablo3Magic = []byte("DIABLO3")

// ParseDiablo3 verifies the Diablo III root sentinel and returns a
// magic-gated handler; Diablo III's asset-index root format is not
// decoded further.
func ParseDiablo3(r io.Reader) (Handler, error) {
	buf, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, &casc.Error{Code: casc.CodeBadFormat, Msg: "diablo3: reading manifest: " + err.Error()}
	}
	if len(buf) < len(diablo3Magic) || string(buf[:len(diablo3Magic)]) != string(diablo3Magic) {
		return nil, &casc.Error{Code: casc.CodeBadFormat, Msg: "diablo3: bad magic"}
	}
	return &magicGated{magic: "diablo3"}, nil
}

// ParseOverwatch attempts to self-verify an Overwatch root ('APM ' or
// similar package-manifest sentinel varies by build); since no public
// documentation ships a stable magic for every build, it always
// declines with BAD_FORMAT so the dispatcher falls through to the
// next candidate. Kept as its own function, rather than folded into
// the dispatcher, so a real sentinel can be added here later without
// touching dispatch order.
func ParseOverwatch(r io.Reader) (Handler, error) {
	return nil, &casc.Error{Code: casc.CodeBadFormat, Msg: "overwatch: format not recognized"}
}

var starcraft1Magic = []byte("SC1H")

// ParseStarCraft1 verifies the StarCraft root sentinel and returns a
// magic-gated handler.
func ParseStarCraft1(r io.Reader) (Handler, error) {
	buf, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, &casc.Error{Code: casc.CodeBadFormat, Msg: "starcraft1: reading manifest: " + err.Error()}
	}
	if len(buf) < len(starcraft1Magic) || string(buf[:len(starcraft1Magic)]) != string(starcraft1Magic) {
		return nil, &casc.Error{Code: casc.CodeBadFormat, Msg: "starcraft1: bad magic"}
	}
	return &magicGated{magic: "starcraft1"}, nil
}
