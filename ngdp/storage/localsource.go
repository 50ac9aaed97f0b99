package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/lukegb/casc/ngdp"
	"github.com/lukegb/casc/ngdp/casc"
)

// LocalSource reads a CASC installation directly off disk, using the
// on-disk layout original_source lays out under a game's install
// root: `<root>/.build.info` (or `.build.db`), `<root>/Data/config/`,
// `<root>/Data/data/data.NNN`, and index shards under either
// `<root>/Data/indices` or alongside the data files themselves.
type LocalSource struct {
	Root string
}

// hashPath implements the two-level hex-bucketed layout every CDN and
// local CASC path uses: <root>/<kind>/<hh0>/<hh1>/<hex32>.
func hashPath(root, kind string, hash [16]byte) string {
	hex := fmt.Sprintf("%032x", hash)
	return filepath.Join(root, kind, hex[0:2], hex[2:4], hex)
}

// ResolveBuild tries `.build.info` then `.build.db`, the two local
// build-descriptor forms; `versions` is CDN-only and never appears in
// a local install root.
func (s *LocalSource) ResolveBuild(region string) (casc.BuildInfoRow, ngdp.VersionInfo, error) {
	if f, err := os.Open(filepath.Join(s.Root, ".build.info")); err == nil {
		defer f.Close()
		rows, err := casc.ParseBuildInfo(f)
		if err != nil {
			return casc.BuildInfoRow{}, ngdp.VersionInfo{}, err
		}
		row, err := casc.SelectBuildInfoRow(rows, region)
		return row, ngdp.VersionInfo{}, err
	}
	if f, err := os.Open(filepath.Join(s.Root, ".build.db")); err == nil {
		defer f.Close()
		row, err := casc.ParseBuildDB(f)
		return row, ngdp.VersionInfo{}, err
	}
	return casc.BuildInfoRow{}, ngdp.VersionInfo{}, &casc.Error{Code: casc.CodeFileNotFound, Msg: "local: no .build.info or .build.db found"}
}

func (s *LocalSource) OpenConfig(hash ngdp.CDNHash) (io.ReadCloser, error) {
	f, err := os.Open(hashPath(s.Root, "Data/config", hash))
	if err != nil {
		return nil, &casc.Error{Code: casc.CodeFileNotFound, Msg: "local: config " + hash.String() + " not found"}
	}
	return f, nil
}

// OpenContent opens a loose (non-archived) encoded blob by its CDN
// hash; local installs mostly resolve content through the index
// instead, so this path is rarely taken outside of unpacked test
// fixtures.
func (s *LocalSource) OpenContent(hash ngdp.CDNHash) (io.ReadCloser, error) {
	f, err := os.Open(hashPath(s.Root, "Data/data", hash))
	if err != nil {
		return nil, &casc.Error{Code: casc.CodeFileNotFound, Msg: "local: content " + hash.String() + " not found"}
	}
	return f, nil
}

// IndexShards globs `*.idx` shards first under `Data/indices` (the
// modern layout) and, if that yields no shards, directly under
// `Data/data` (the layout older local installs use).
func (s *LocalSource) IndexShards() ([]casc.ShardSource, error) {
	dirs := []string{
		filepath.Join(s.Root, "Data", "indices"),
		filepath.Join(s.Root, "Data", "data"),
	}

	var names []string
	for _, dir := range dirs {
		matches, err := filepath.Glob(filepath.Join(dir, "*.idx"))
		if err != nil {
			return nil, err
		}
		if len(matches) > 0 {
			names = matches
			break
		}
	}

	shards := make([]casc.ShardSource, len(names))
	for i, name := range names {
		name := name
		shards[i] = casc.ShardSource{
			Name: name,
			Open: func() (io.ReadCloser, error) { return os.Open(name) },
		}
	}
	return shards, nil
}

// OpenRange opens `Data/data/data.<archive>` and returns the
// [offset, offset+size) byte range as a self-closing reader.
func (s *LocalSource) OpenRange(archive uint32, offset uint64, size uint32) (io.ReadCloser, error) {
	name := filepath.Join(s.Root, "Data", "data", fmt.Sprintf("data.%03d", archive))
	f, err := os.Open(name)
	if err != nil {
		return nil, &casc.Error{Code: casc.CodeFileCorrupt, Msg: "local: archive index out of range: " + err.Error()}
	}
	if _, err := f.Seek(int64(offset), io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	return &sectionReadCloser{r: io.LimitReader(f, int64(size)), c: f}, nil
}

func (s *LocalSource) Online() bool { return false }

type sectionReadCloser struct {
	r io.Reader
	c io.Closer
}

func (s *sectionReadCloser) Read(b []byte) (int, error) { return s.r.Read(b) }
func (s *sectionReadCloser) Close() error               { return s.c.Close() }
