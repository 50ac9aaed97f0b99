// Package root implements the ROOT-manifest dispatcher: it sniffs a
// decoded ROOT blob's format and hands it to whichever per-game
// Handler understands it, translating user-facing names or
// file-data-IDs into content keys the central table already knows
// about.
package root

import (
	"github.com/lukegb/casc/ngdp/casc"
)

// Features is the small capability bitmask a Handler advertises. It is
// separate from the storage façade's feature-bitmask info query, which
// does not include these bits.
type Features uint32

const (
	// FeatureNameLookup means Lookup resolves user-facing paths.
	FeatureNameLookup Features = 1 << iota
	// FeatureFileDataID means LookupID resolves numeric file-data-IDs.
	FeatureFileDataID
	// FeatureLocale means the handler filters results by locale flags.
	FeatureLocale
)

// Handler is the narrow interface every root format implements,
// mirroring the abstract root-handler base the format was originally
// dispatched through: insert a name, look one up, absorb another
// handler's entries on reparse, and report what it supports.
type Handler interface {
	// Insert records that name resolves to ckey.
	Insert(name string, ckey casc.CKey) error

	// Lookup resolves a user-facing path to its content key.
	Lookup(name string) (casc.CKey, bool)

	// CopyFrom absorbs every name this handler doesn't already have
	// from old, used when the dispatcher reparses from a VFS-root CKey
	// to the build's plain ROOT CKey (or vice versa) and wants to keep
	// whatever the first pass already resolved.
	CopyFrom(old Handler)

	// Features reports this handler's lookup capabilities.
	Features() Features

	// InScope reports whether ckey is one this handler's manifest
	// names at all, telling a handled file apart from one only the
	// central table knows about.
	InScope(ckey casc.CKey) bool
}

// IDLookup is implemented by handlers that resolve numeric
// file-data-IDs in addition to (or instead of) path names.
type IDLookup interface {
	LookupID(id uint32) (casc.CKey, bool)
	InsertID(id uint32, ckey casc.CKey) error
}

// DirEntry is one entry a Lister reports for a directory.
type DirEntry struct {
	Name  string
	IsDir bool
}

// Lister is implemented by handlers whose manifest format is naturally
// tree-shaped (MNDX's glob tree) and can therefore enumerate a
// directory's children. Formats with no directory structure of their
// own (a flat name or file-data-ID table) simply don't implement it;
// callers that want to offer directory listing should type-assert for
// this rather than assume every Handler supports it.
type Lister interface {
	List(dirPath string) ([]DirEntry, bool)
}

// ErrReparseRoot is the CodeReparseRoot error a Loader or a format
// parser returns when Dispatch needs to retry with the build's plain ROOT CKey instead of the
// VFS-root CKey it was first given.
var ErrReparseRoot = &casc.Error{Code: casc.CodeReparseRoot, Msg: "root: reparse requested"}
