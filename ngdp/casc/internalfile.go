package casc

import (
	"io"

	"github.com/pkg/errors"

	"github.com/lukegb/casc/blte"
)

// ArchiveSource opens a byte range of one archive blob, identified by
// the archive index packed into an Entry's StorageOffset. Storage
// implementations back this with either a local `data.NNN` file Seek
// or a CDN Range request.
type ArchiveSource interface {
	OpenRange(archive uint32, offset uint64, size uint32) (io.ReadCloser, error)
}

// wrappedCloser pairs a decoding Reader with the underlying Closer it
// was built from, so callers only ever see one io.ReadCloser.
type wrappedCloser struct {
	r io.Reader
	c io.Closer
}

func (wc *wrappedCloser) Read(b []byte) (int, error) { return wc.r.Read(b) }
func (wc *wrappedCloser) Close() error               { return wc.c.Close() }

// LoadInternalFile locates e's frames via src and returns the
// decoded, concatenated content stream. e must already carry a known
// StorageOffset (the caller should treat CodeFileNotFound as "not
// resolvable from this storage", not a hard failure of the whole
// open).
func LoadInternalFile(src ArchiveSource, e *Entry) (io.ReadCloser, error) {
	if e.StorageOffset == InvalidOffset {
		return nil, errf(CodeFileNotFound, "internal file has no known storage location")
	}
	if e.EncodedSize == InvalidSize32 {
		return nil, errf(CodeFileNotFound, "internal file has no known encoded size")
	}

	archive, offset := UnpackArchiveOffset(e.StorageOffset)
	rc, err := src.OpenRange(archive, offset, e.EncodedSize)
	if err != nil {
		return nil, errors.Wrap(err, "internal file: opening archive range")
	}

	r := blte.NewReader(rc)
	return &wrappedCloser{r: r, c: rc}, nil
}

// CodeOfBLTE maps a blte package sentinel error onto this package's
// error taxonomy, for callers that want a coded error out of a failed
// Read on the stream LoadInternalFile returns.
func CodeOfBLTE(err error) (Code, bool) {
	switch err {
	case blte.ErrBadMagic:
		return CodeBadFormat, true
	case blte.ErrEncryptedFrame:
		return CodeNotSupported, true
	default:
		return 0, false
	}
}
