// Package storage implements the top-level open pipeline: it wires
// the build-descriptor loader, index aggregator, ENCODING/DOWNLOAD
// parsers and ROOT dispatcher together into one state machine and
// exposes the info-query surface a successfully opened storage
// supports.
package storage

import (
	"context"
	"io"
	"strings"
	"sync/atomic"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/lukegb/casc/blte"
	"github.com/lukegb/casc/ngdp"
	"github.com/lukegb/casc/ngdp/casc"
	"github.com/lukegb/casc/ngdp/root"
)

// OpenParams is the flat set of arguments Open takes: a mandatory
// local path plus everything needed to pick a build and an online
// byte source when the local storage doesn't carry every file itself.
type OpenParams struct {
	LocalPath  string
	CDNHostURL string
	CodeName   string
	Region     string
	BuildKey   string
	LocaleMask uint32
}

// ParseLegacyOpenString parses the historical
// "<local_path>*[<cdn_url>*]<code_name>*<region>" open-string form
// into an OpenParams. The optional CDN URL field is told apart from
// code name/region by containing "://", a "." or a "/", the same
// heuristic original_source uses to keep the field genuinely optional
// without a dedicated separator.
func ParseLegacyOpenString(s string) (OpenParams, error) {
	parts := strings.Split(s, "*")
	if len(parts) < 3 {
		return OpenParams{}, &casc.Error{Code: casc.CodeInvalidParameter, Msg: "open string: need at least local_path*code_name*region"}
	}

	p := OpenParams{LocalPath: parts[0]}
	rest := parts[1:]
	if looksLikeURL(rest[0]) {
		p.CDNHostURL = rest[0]
		rest = rest[1:]
	}
	if len(rest) < 2 {
		return OpenParams{}, &casc.Error{Code: casc.CodeInvalidParameter, Msg: "open string: missing code_name/region"}
	}
	p.CodeName = rest[0]
	p.Region = rest[1]
	return p, nil
}

func looksLikeURL(s string) bool {
	return strings.Contains(s, "://") || strings.Contains(s, ".") || strings.Contains(s, "/")
}

// ProgressFunc is invoked at each phase boundary of Open with a
// human-readable phase name ("Loading ENCODING manifest", "Loading
// ROOT manifest (reparsed)", ...). Returning true cancels the open.
type ProgressFunc func(phase string) bool

// Tag is one named entry as reported by the tags info query.
type Tag struct {
	Name  string
	Value uint16
}

// Feature is the storage-wide capability bitmask the feature-bitmask
// info query reports.
type Feature uint32

const (
	FeatureDataArchives Feature = 1 << iota
	FeatureDataFiles
	FeatureOnline
	FeatureTags
	FeatureForceDownload
	FeatureRootFeatures
)

// Source is everything the open pipeline needs to pull bytes from,
// whether they live on local disk or have to be fetched from a CDN. A
// local-only storage and an online-backed one satisfy this with the
// same interface, exactly as the data model never distinguishes them
// past "the encoded key resolves to a byte range."
type Source interface {
	// ResolveBuild reads whichever build-descriptor form this source
	// has (.build.info, .build.db, or a CDN "versions" response) and
	// picks the row matching region, returning the build/CDN key
	// pair and, when the source is version-based, the richer
	// ngdp.VersionInfo it was drawn from (its zero value otherwise).
	ResolveBuild(region string) (casc.BuildInfoRow, ngdp.VersionInfo, error)

	// OpenConfig opens a CDN-hash-addressed config blob (a build
	// config or CDN config file).
	OpenConfig(hash ngdp.CDNHash) (io.ReadCloser, error)

	// OpenContent opens a CDN-hash-addressed encoded content blob,
	// already BLTE-framed, used to fetch ENCODING/DOWNLOAD/
	// INSTALL/ROOT when the local index doesn't resolve the
	// encoded key to an archive range.
	OpenContent(hash ngdp.CDNHash) (io.ReadCloser, error)

	// IndexShards lists the local *.idx shards to parse. A source
	// with no local archives returns an empty slice, not an error.
	IndexShards() ([]casc.ShardSource, error)

	casc.ArchiveSource

	// Online reports whether this source can reach a CDN at all -
	// the local-CDN-config softening only applies when this is
	// false.
	Online() bool
}

// archiveMapperSource is implemented by sources (OnlineSource) that
// need the CDN config's archive list to resolve encoded keys to
// archive byte ranges. Sources with their own local index shards
// don't need it and simply don't implement this interface.
type archiveMapperSource interface {
	EnsureArchiveMapper(cc ngdp.CDNConfig) error
}

// Storage is an opened CASC installation: the central table, the
// dispatched ROOT handler, and the bookkeeping the info-query surface
// reports from. It is immutable after Open returns except for its
// atomic reference count.
type Storage struct {
	table   *casc.Table
	root    root.Handler
	install *root.Install

	refCount int32

	src Source

	codeName    string
	region      string
	buildNumber int
	tags        []Tag
	features    Feature
	locales     uint32

	buildConfig ngdp.BuildConfig
	cdnConfig   ngdp.CDNConfig
}

// Open runs the full state-machine pipeline: load the build
// descriptor, resolve build/CDN config, merge index shards, load
// ENCODING then DOWNLOAD, dispatch and load ROOT (falling back to
// INSTALL), insert well-known files, and hand back an immutable
// Storage with a reference count of 1.
//
// progress may be nil. When non-nil it's called at each phase
// boundary; a true return unwinds the whole open and returns a
// CANCELLED error, leaking no table entries or open file handles.
func Open(ctx context.Context, src Source, params OpenParams, progress ProgressFunc) (*Storage, error) {
	notify := func(phase string) error {
		if progress != nil && progress(phase) {
			return &casc.Error{Code: casc.CodeCancelled, Msg: "open cancelled during " + phase}
		}
		return nil
	}

	if params.LocalPath == "" {
		return nil, &casc.Error{Code: casc.CodeInvalidParameter, Msg: "open: local_path is required"}
	}

	st := &Storage{
		src:      src,
		refCount: 1,
		codeName: params.CodeName,
		region:   params.Region,
		locales:  params.LocaleMask,
	}
	if src.Online() {
		st.features |= FeatureOnline
	}

	// Fresh -> MainFileLoaded
	if err := notify("Loading main file"); err != nil {
		return nil, err
	}
	buildRow, versionRow, err := src.ResolveBuild(params.Region)
	if err != nil {
		return nil, errors.Wrap(err, "open: reading build descriptor")
	}

	buildKey, cdnKey := buildRow.BuildKey, buildRow.CDNKey
	if versionRow.BuildConfig != (ngdp.CDNHash{}) {
		buildKey = casc.EKey(versionRow.BuildConfig)
		cdnKey = casc.EKey(versionRow.CDNConfig)
		st.buildNumber = versionRow.BuildID
		st.features |= FeatureOnline
	}
	st.tags = parseTagString(buildRow.Tags)
	if len(st.tags) > 0 {
		st.features |= FeatureTags
	}

	// MainFileLoaded -> CdnConfigLoaded
	if err := notify("Loading CDN config"); err != nil {
		return nil, err
	}
	if cdnKey != (casc.EKey{}) {
		cdnR, err := src.OpenConfig(ngdp.CDNHash(cdnKey))
		if err != nil {
			if src.Online() {
				return nil, errors.Wrap(err, "open: reading CDN config")
			}
			glog.Infof("open: no CDN config found locally, continuing without one")
		} else {
			cc, err := casc.LoadCDNConfig(cdnR)
			cdnR.Close()
			if err != nil {
				return nil, err
			}
			st.cdnConfig = cc

			if ams, ok := src.(archiveMapperSource); ok {
				if err := ams.EnsureArchiveMapper(cc); err != nil {
					return nil, errors.Wrap(err, "open: building archive map")
				}
			}
		}
	}

	// CdnConfigLoaded -> CdnBuildLoaded
	if err := notify("Loading build config"); err != nil {
		return nil, err
	}
	if buildKey == (casc.EKey{}) {
		return nil, &casc.Error{Code: casc.CodeBadFormat, Msg: "open: no build key resolved from build descriptor"}
	}
	buildR, err := src.OpenConfig(ngdp.CDNHash(buildKey))
	if err != nil {
		return nil, errors.Wrap(err, "open: reading build config")
	}
	bc, err := casc.LoadBuildConfig(buildR)
	buildR.Close()
	if err != nil {
		return nil, err
	}
	st.buildConfig = bc

	// CdnBuildLoaded -> IndexLoaded
	if err := notify("Loading index files"); err != nil {
		return nil, err
	}
	shards, err := src.IndexShards()
	if err != nil {
		return nil, errors.Wrap(err, "open: listing index shards")
	}
	var idx *casc.IndexAggregator
	if len(shards) > 0 {
		st.features |= FeatureDataArchives
		idx, err = casc.LoadIndexShards(ctx, shards, 256)
		if err != nil {
			return nil, errors.Wrap(err, "open: loading index shards")
		}
	} else {
		st.features |= FeatureDataFiles
	}

	capacityHint := casc.EstimateCapacity(casc.InvalidSize32, casc.DownloadEntrySize, casc.InvalidSize32, casc.EncodingEntrySize)
	st.table = casc.NewTable(capacityHint)

	// IndexLoaded -> EncodingLoaded
	if err := notify("Loading ENCODING manifest"); err != nil {
		return nil, err
	}
	encR, err := st.openByEncodedKey(bc.Encoding.CDNHash)
	if err != nil {
		return nil, errors.Wrap(err, "open: fetching ENCODING manifest")
	}
	err = casc.LoadEncoding(st.table, encR, idx)
	encR.Close()
	if err != nil {
		return nil, err
	}

	// EncodingLoaded -> DownloadLoaded
	if err := notify("Loading DOWNLOAD manifest"); err != nil {
		return nil, err
	}
	if bc.Download != (ngdp.ContentHash{}) {
		if dlEKey, ok := st.contentToEncoded(bc.Download); ok {
			dlR, err := st.openByEncodedKey(dlEKey)
			if err != nil {
				glog.Warningf("open: DOWNLOAD manifest unavailable, continuing: %v", err)
			} else {
				if _, err := casc.LoadDownload(st.table, dlR); err != nil {
					glog.Warningf("open: DOWNLOAD manifest parse failed, continuing: %v", err)
				}
				dlR.Close()
			}
		}
	}

	// DownloadLoaded -> RootLoaded
	if err := notify("Loading ROOT manifest"); err != nil {
		return nil, err
	}
	loader := func(ckey casc.CKey) (io.ReadCloser, error) {
		ekey, ok := st.contentToEncoded(ngdp.ContentHash(ckey))
		if !ok {
			return nil, &casc.Error{Code: casc.CodeFileNotFound, Msg: "root: no encoded key for content key"}
		}
		return st.openByEncodedKey(ekey)
	}
	onName := func(ckey casc.CKey) { st.table.RecordNameReference(ckey) }
	rootHandler, rootErr := root.Dispatch(loader, casc.CKey(bc.Root), casc.CKey(bc.VfsRoot), params.LocaleMask, func() error {
		return notify("Loading ROOT manifest (reparsed)")
	}, onName)
	if rootErr != nil {
		if code, ok := casc.CodeOf(rootErr); ok && code == casc.CodeNotEnoughMemory {
			return nil, rootErr
		}
		glog.Warningf("open: ROOT manifest failed (%v), falling back to INSTALL", rootErr)
		if err := notify("Loading INSTALL manifest"); err != nil {
			return nil, err
		}
		instEKey, ok := st.contentToEncoded(bc.Install)
		if !ok {
			return nil, &casc.Error{Code: casc.CodeFileNotFound, Msg: "open: no encoded key for INSTALL, and ROOT failed"}
		}
		instR, err := st.openByEncodedKey(instEKey)
		if err != nil {
			return nil, errors.Wrap(err, "open: fetching INSTALL manifest")
		}
		inst, err := root.ParseInstall(instR, onName)
		instR.Close()
		if err != nil {
			return nil, err
		}
		st.install = inst
	} else {
		st.root = rootHandler
		st.features |= FeatureRootFeatures
	}

	// RootLoaded -> KeysLoaded
	st.insertWellKnown("ENCODING", bc.Encoding.ContentHash, 0)
	st.insertWellKnown("DOWNLOAD", bc.Download, 0)
	st.insertWellKnown("INSTALL", bc.Install, 0)
	st.insertWellKnown("PATCH", bc.Patch, casc.FilePatch)
	st.insertWellKnown("ROOT", bc.Root, 0)
	st.insertWellKnown("SIZE", bc.Size, 0)

	// KeysLoaded -> Open
	return st, nil
}

// insertWellKnown folds one of the build descriptor's well-known files
// (ENCODING, DOWNLOAD, INSTALL, PATCH, ROOT, SIZE) into the central
// table and, when a root handler exists, gives it a name -> CKey
// mapping too - the build can reference the file itself under that
// name even though it never appears as a manifest record (e.g. Warcraft
// III storages referencing "index" or "vfs-root" this way). Only a CKey
// already known to the table (via ENCODING or DOWNLOAD) gets inserted;
// PATCH is the one exception, since it's frequently absent from every
// local manifest and only ever fetched online by name.
func (st *Storage) insertWellKnown(name string, ckey ngdp.ContentHash, extraFlags casc.Flags) {
	if ckey == (ngdp.ContentHash{}) {
		return
	}

	e, ok := st.table.LookupCKey(casc.CKey(ckey))
	if !ok {
		if extraFlags&casc.FilePatch == 0 || st.features&FeatureOnline == 0 {
			return
		}
		e = st.table.EnsureByCKey(casc.CKey(ckey))
	}

	if st.root != nil {
		st.root.Insert(name, casc.CKey(ckey))
	} else if st.install != nil {
		st.install.Insert(name, casc.CKey(ckey))
	}
	e.Flags |= extraFlags | casc.InBuild
}

// contentToEncoded resolves a content key to its primary encoded key
// via the central table, which ENCODING has already populated by the
// time this is called.
func (st *Storage) contentToEncoded(ckey ngdp.ContentHash) (casc.EKey, bool) {
	e, ok := st.table.LookupCKey(casc.CKey(ckey))
	if !ok || !e.Flags.Has(casc.HasEKey) {
		return casc.EKey{}, false
	}
	return e.EKey, true
}

// openByEncodedKey opens ekey's decoded frame stream, preferring a
// local archive range (via the central table's already-resolved
// storage offset) and falling back to a direct content fetch.
func (st *Storage) openByEncodedKey(ekey casc.EKey) (io.ReadCloser, error) {
	if e, ok := st.table.LookupEKey9(casc.Truncate(ekey)); ok && e.StorageOffset != casc.InvalidOffset {
		return casc.LoadInternalFile(st.src, e)
	}
	rc, err := st.src.OpenContent(ngdp.CDNHash(ekey))
	if err != nil {
		return nil, err
	}
	return &decodedReadCloser{r: blte.NewReader(rc), c: rc}, nil
}

// decodedReadCloser pairs a BLTE-decoding Reader with the underlying
// Closer it was built from, the same shape casc.LoadInternalFile
// returns for archive-backed reads.
type decodedReadCloser struct {
	r io.Reader
	c io.Closer
}

func (d *decodedReadCloser) Read(b []byte) (int, error) { return d.r.Read(b) }
func (d *decodedReadCloser) Close() error               { return d.c.Close() }

// parseTagString splits the space-separated "tags" column
// (.build.info's "Tags" field: "enUS speech? Windows amd64 ...") into
// the {name,value} pairs the tags info query reports. A "?"-suffixed
// tag is a conditional; the suffix is stripped and the tag is still
// reported, matching original_source treating conditional tags as
// ordinary ones once a build has actually selected them.
func parseTagString(s string) []Tag {
	if s == "" {
		return nil
	}
	fields := strings.Fields(s)
	tags := make([]Tag, 0, len(fields))
	for i, f := range fields {
		tags = append(tags, Tag{Name: strings.TrimSuffix(f, "?"), Value: uint16(i)})
	}
	return tags
}

// Close decrements the storage's reference count, releasing its
// backing table when it reaches zero. Concurrent opens of the same
// physical storage are independent instances, so this only ever
// affects st itself.
func (st *Storage) Close() {
	if atomic.AddInt32(&st.refCount, -1) == 0 {
		st.table = nil
		st.root = nil
		st.install = nil
	}
}

// AddRef increments the reference count, for callers handing out a
// shared *Storage to more than one owner.
func (st *Storage) AddRef() { atomic.AddInt32(&st.refCount, 1) }

// Lookup resolves a user-facing path to its content key, trying the
// dispatched ROOT handler first and falling back to the INSTALL
// manifest if ROOT failed to load (or didn't know the name).
func (st *Storage) Lookup(name string) (casc.CKey, bool) {
	if st.root != nil {
		if ckey, ok := st.root.Lookup(name); ok {
			return ckey, true
		}
	}
	if st.install != nil {
		if ckey, ok := st.install.Lookup(name); ok {
			return ckey, true
		}
	}
	return casc.CKey{}, false
}

// List enumerates dirPath's children through the dispatched root
// handler, when that handler's format is tree-shaped enough to
// support it (root.Lister). ok is false both when the format has no
// directory structure to list and when dirPath doesn't resolve to one
// that does - callers that need to tell those apart should check
// Features()&FeatureRootFeatures first.
func (st *Storage) List(dirPath string) (entries []root.DirEntry, ok bool) {
	lister, ok := st.root.(root.Lister)
	if !ok {
		return nil, false
	}
	return lister.List(dirPath)
}

// Entry looks up the central-table record for a content key, the
// entry point every read starts from.
func (st *Storage) Entry(ckey casc.CKey) (*casc.Entry, bool) {
	return st.table.LookupCKey(ckey)
}

// OpenEntry opens the decoded content stream for a central entry.
func (st *Storage) OpenEntry(e *casc.Entry) (io.ReadCloser, error) {
	return casc.LoadInternalFile(st.src, e)
}

// LocalFileCount implements the local-file-count info query.
func (st *Storage) LocalFileCount() int { return st.table.LocalFileCount() }

// TotalFileCount implements the total-file-count info query.
func (st *Storage) TotalFileCount() int { return st.table.TotalFileCount() }

// Features implements the feature-bitmask info query.
func (st *Storage) Features() Feature { return st.features }

// InstalledLocales implements the installed-locales info query: the
// locale mask Open was given.
func (st *Storage) InstalledLocales() uint32 { return st.locales }

// Product implements the product info query: code-name + build
// number.
func (st *Storage) Product() (codeName string, buildNumber int) {
	return st.codeName, st.buildNumber
}

// Tags implements the tags info query.
func (st *Storage) Tags() []Tag { return st.tags }

// PathProduct implements the path-product info query: the composed
// "<root>*<code>*<region>" string a successful open reports back.
func (st *Storage) PathProduct(rootPath string) string {
	return rootPath + "*" + st.codeName + "*" + st.region
}
