// Package casc implements the storage loading and lookup pipeline: it
// parses a CASC installation's manifest chain, builds the two-level
// content-addressing index (CKey -> EKey -> archive offset), and
// exposes a unified file table.
package casc

import (
	"bytes"
	"encoding/hex"

	"github.com/lukegb/casc/ngdp"
)

// CKey is the content key: the 16-byte MD5 of a logical file's
// decoded content, a global identifier for a file's bytes.
type CKey = ngdp.ContentHash

// EKey is the encoded key: the 16-byte MD5 of a file's encoded
// byte-stream header, identifying one particular encoding pipeline of
// one logical file.
type EKey = ngdp.CDNHash

// EKey9 is the truncated, 9-byte form of an EKey used by index-file
// records and by any lookup keyed off them.
type EKey9 [9]byte

// Truncate returns the first 9 bytes of an EKey, the form stored in
// index-file records.
func Truncate(e EKey) EKey9 {
	var e9 EKey9
	copy(e9[:], e[:9])
	return e9
}

func (e EKey9) Equal(o EKey9) bool { return e == o }
func (e EKey9) Less(o EKey9) bool  { return bytes.Compare(e[:], o[:]) < 0 }
func (e EKey9) String() string     { return hex.EncodeToString(e[:]) }

// HasPrefix reports whether the full EKey e begins with the truncated
// form e9 - used when upgrading a partial (index-only) entry once the
// full EKey becomes known from ENCODING.
func (e9 EKey9) HasPrefix(e EKey) bool {
	return Truncate(e) == e9
}
