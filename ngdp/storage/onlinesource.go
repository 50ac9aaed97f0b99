package storage

import (
	"context"
	"io"

	"github.com/lukegb/casc/ngdp"
	"github.com/lukegb/casc/ngdp/casc"
	"github.com/lukegb/casc/ngdp/client"
)

// OnlineSource reads a CASC installation from a Blizzard CDN, backed
// by ngdp/client's low-level HTTP primitives. It carries no local
// index shards of its own: an EKey's archive placement is resolved on
// demand through the ArchiveMapper it builds once the CDN config
// naming the archive set is known.
type OnlineSource struct {
	Ctx     context.Context
	LLC     *client.LowLevelClient
	Program ngdp.ProgramCode
	Region  ngdp.Region

	cdn           ngdp.CDNInfo
	versionInfo   ngdp.VersionInfo
	archiveMapper *client.ArchiveMapper
}

// ResolveBuild fetches the CDN and version records from the patch
// server, the only build-descriptor form a CDN-backed source exposes;
// region selection already happened inside LLC.Info.
func (s *OnlineSource) ResolveBuild(region string) (casc.BuildInfoRow, ngdp.VersionInfo, error) {
	cdn, version, err := s.LLC.Info(s.ctx(), s.Program, s.Region)
	if err != nil {
		return casc.BuildInfoRow{}, ngdp.VersionInfo{}, err
	}
	s.cdn = cdn
	s.versionInfo = version

	row := casc.BuildInfoRow{
		BuildKey: casc.EKey(version.BuildConfig),
		CDNKey:   casc.EKey(version.CDNConfig),
	}
	return row, version, nil
}

func (s *OnlineSource) OpenConfig(hash ngdp.CDNHash) (io.ReadCloser, error) {
	return s.LLC.RawFetch(s.ctx(), s.cdn, hash)
}

// OpenContent fetches an encoded blob by CDN hash: as a byte range of
// its archive when the archive map is built and names the hash, and
// otherwise as a direct unarchived fetch.
func (s *OnlineSource) OpenContent(hash ngdp.CDNHash) (io.ReadCloser, error) {
	if s.archiveMapper != nil {
		if entry, ok := s.archiveMapper.Map(hash); ok {
			return s.LLC.RawFetchRange(s.ctx(), s.cdn, entry.Archive, uint64(entry.Offset), entry.Size)
		}
	}
	return s.LLC.RawFetch(s.ctx(), s.cdn, hash)
}

// IndexShards is always empty for an online source: archive placement
// comes from the CDN config's archive group index via ArchiveMapper,
// not from locally parsed *.idx shards.
func (s *OnlineSource) IndexShards() ([]casc.ShardSource, error) { return nil, nil }

// EnsureArchiveMapper builds this source's ArchiveMapper from a CDN
// config's archive list, once the open pipeline has loaded one. Until
// this is called, OpenContent always does an unarchived direct fetch.
func (s *OnlineSource) EnsureArchiveMapper(cc ngdp.CDNConfig) error {
	if s.archiveMapper != nil {
		return nil
	}
	am, err := s.LLC.NewArchiveMapper(s.ctx(), s.cdn, cc.Archives)
	if err != nil {
		return err
	}
	s.archiveMapper = am
	return nil
}

// OpenRange is not meaningful for an online source: archive placement
// is resolved by CDN hash through OpenContent/ArchiveMapper, not by
// numeric local archive index.
func (s *OnlineSource) OpenRange(archive uint32, offset uint64, size uint32) (io.ReadCloser, error) {
	return nil, &casc.Error{Code: casc.CodeNotSupported, Msg: "online source has no numbered local archives"}
}

func (s *OnlineSource) Online() bool { return true }

func (s *OnlineSource) ctx() context.Context {
	if s.Ctx != nil {
		return s.Ctx
	}
	return context.Background()
}
