package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"testing"

	"github.com/lukegb/casc/ngdp"
	"github.com/lukegb/casc/ngdp/casc"
)

func TestParseLegacyOpenString(t *testing.T) {
	for _, test := range []struct {
		name string
		in   string
		want OpenParams
	}{
		{
			name: "no cdn",
			in:   "/mnt/wow*wow*us",
			want: OpenParams{LocalPath: "/mnt/wow", CodeName: "wow", Region: "us"},
		},
		{
			name: "with cdn url",
			in:   "/mnt/wow*http://level3.blizzard.com*wow*us",
			want: OpenParams{LocalPath: "/mnt/wow", CDNHostURL: "http://level3.blizzard.com", CodeName: "wow", Region: "us"},
		},
	} {
		test := test
		t.Run(test.name, func(t *testing.T) {
			got, err := ParseLegacyOpenString(test.in)
			if err != nil {
				t.Fatalf("ParseLegacyOpenString(%q): %v", test.in, err)
			}
			if got != test.want {
				t.Errorf("ParseLegacyOpenString(%q) = %+v; want %+v", test.in, got, test.want)
			}
		})
	}
}

func TestParseLegacyOpenStringTooFewParts(t *testing.T) {
	if _, err := ParseLegacyOpenString("/mnt/wow*wow"); err == nil {
		t.Errorf("ParseLegacyOpenString: got nil error, want error")
	}
}

func TestParseTagString(t *testing.T) {
	got := parseTagString("enUS speech? Windows amd64")
	want := []string{"enUS", "speech", "Windows", "amd64"}
	if len(got) != len(want) {
		t.Fatalf("parseTagString: got %d tags, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Name != w {
			t.Errorf("parseTagString[%d].Name = %q; want %q", i, got[i].Name, w)
		}
	}
}

func TestParseTagStringEmpty(t *testing.T) {
	if got := parseTagString(""); got != nil {
		t.Errorf("parseTagString(\"\") = %+v; want nil", got)
	}
}

// fakeSource is a minimal Source used to exercise Open's early
// pipeline stages without needing real manifest fixtures.
type fakeSource struct {
	row        casc.BuildInfoRow
	resolveErr error
	online     bool
}

func (f *fakeSource) ResolveBuild(region string) (casc.BuildInfoRow, ngdp.VersionInfo, error) {
	return f.row, ngdp.VersionInfo{}, f.resolveErr
}
func (f *fakeSource) OpenConfig(hash ngdp.CDNHash) (io.ReadCloser, error) { return nil, errNotFound }
func (f *fakeSource) OpenContent(hash ngdp.CDNHash) (io.ReadCloser, error) {
	return nil, errNotFound
}
func (f *fakeSource) IndexShards() ([]casc.ShardSource, error) { return nil, nil }
func (f *fakeSource) OpenRange(archive uint32, offset uint64, size uint32) (io.ReadCloser, error) {
	return nil, errNotFound
}
func (f *fakeSource) Online() bool { return f.online }

var errNotFound = &casc.Error{Code: casc.CodeFileNotFound, Msg: "fake: not found"}

func TestOpenRequiresLocalPath(t *testing.T) {
	_, err := Open(context.Background(), &fakeSource{}, OpenParams{}, nil)
	if err == nil {
		t.Fatal("Open with empty LocalPath: got nil error, want error")
	}
	if code, ok := casc.CodeOf(err); !ok || code != casc.CodeInvalidParameter {
		t.Errorf("Open with empty LocalPath: code = %v; want CodeInvalidParameter", code)
	}
}

func TestOpenCancelledOnFirstPhase(t *testing.T) {
	progress := func(phase string) bool { return true }
	_, err := Open(context.Background(), &fakeSource{}, OpenParams{LocalPath: "/mnt/wow"}, progress)
	if err == nil {
		t.Fatal("Open with cancelling progress func: got nil error, want CANCELLED")
	}
	if code, ok := casc.CodeOf(err); !ok || code != casc.CodeCancelled {
		t.Errorf("Open with cancelling progress func: code = %v; want CodeCancelled", code)
	}
}

func TestOpenPropagatesResolveBuildError(t *testing.T) {
	src := &fakeSource{resolveErr: errors.New("boom")}
	_, err := Open(context.Background(), src, OpenParams{LocalPath: "/mnt/wow"}, nil)
	if err == nil {
		t.Fatal("Open with failing ResolveBuild: got nil error, want error")
	}
}

func TestOpenNoBuildKeyIsBadFormat(t *testing.T) {
	src := &fakeSource{row: casc.BuildInfoRow{}}
	_, err := Open(context.Background(), src, OpenParams{LocalPath: "/mnt/wow"}, nil)
	if err == nil {
		t.Fatal("Open with no build key resolved: got nil error, want error")
	}
	if code, ok := casc.CodeOf(err); !ok || code != casc.CodeBadFormat {
		t.Errorf("Open with no build key resolved: code = %v; want CodeBadFormat", code)
	}
}

// blteWrap frames raw bytes as the simplest possible BLTE blob: magic,
// a zero header length (meaning "no chunk table, one implicit chunk"),
// then the uncompressed ('N') chunk data.
func blteWrap(data []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("BLTE")
	binary.Write(&buf, binary.BigEndian, uint32(0))
	buf.WriteByte('N')
	buf.Write(data)
	return buf.Bytes()
}

func minimalEncodingManifest(ckey, ekey [16]byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("EN")
	buf.WriteByte(1)  // version
	buf.WriteByte(16) // ckeyLength
	buf.WriteByte(16) // ekeyLength
	binary.Write(&buf, binary.BigEndian, uint16(4))   // ckeyPageSize (4KB)
	binary.Write(&buf, binary.BigEndian, uint16(0))   // ekeyPageSize
	binary.Write(&buf, binary.BigEndian, uint32(1))   // ckeyPageCount
	binary.Write(&buf, binary.BigEndian, uint32(0))   // ekeyPageCount
	buf.WriteByte(0)                                   // reserved
	binary.Write(&buf, binary.BigEndian, uint32(0))   // especBlockSize

	buf.Write(ckey[:])          // page descriptor: first_ckey
	buf.Write(make([]byte, 16)) // page descriptor: md5

	var rec bytes.Buffer
	binary.Write(&rec, binary.BigEndian, uint16(1)) // ekey_count
	binary.Write(&rec, binary.BigEndian, uint32(0x40))
	rec.Write(ckey[:])
	rec.Write(ekey[:])

	page := make([]byte, 4096)
	copy(page, rec.Bytes())
	buf.Write(page)

	return buf.Bytes()
}

// keyedSource is a richer fake Source than fakeSource, letting the
// build/CDN-config and content-blob steps of Open actually succeed so
// later phases (DOWNLOAD, ROOT) are reachable in tests.
type keyedSource struct {
	row      casc.BuildInfoRow
	configs  map[ngdp.CDNHash][]byte
	contents map[ngdp.CDNHash][]byte
}

func (s *keyedSource) ResolveBuild(region string) (casc.BuildInfoRow, ngdp.VersionInfo, error) {
	return s.row, ngdp.VersionInfo{}, nil
}
func (s *keyedSource) OpenConfig(hash ngdp.CDNHash) (io.ReadCloser, error) {
	if b, ok := s.configs[hash]; ok {
		return ioutil.NopCloser(bytes.NewReader(b)), nil
	}
	return nil, errNotFound
}
func (s *keyedSource) OpenContent(hash ngdp.CDNHash) (io.ReadCloser, error) {
	if b, ok := s.contents[hash]; ok {
		return ioutil.NopCloser(bytes.NewReader(b)), nil
	}
	return nil, errNotFound
}
func (s *keyedSource) IndexShards() ([]casc.ShardSource, error) { return nil, nil }
func (s *keyedSource) OpenRange(archive uint32, offset uint64, size uint32) (io.ReadCloser, error) {
	return nil, errNotFound
}
func (s *keyedSource) Online() bool { return false }

// TestOpenCancelledAtDownloadPhase is spec scenario 6: the progress
// callback returns truthy specifically at "Loading DOWNLOAD manifest",
// after ENCODING has already been loaded successfully.
func TestOpenCancelledAtDownloadPhase(t *testing.T) {
	var ckey, ekey [16]byte
	ckey[0], ekey[0] = 0xAA, 0xBB

	buildKey := ngdp.CDNHash{0x01}
	encodingManifest := minimalEncodingManifest(ckey, ekey)

	buildConfig := fmt.Sprintf("encoding = %s %s\n", hex.EncodeToString(ckey[:]), hex.EncodeToString(ekey[:]))

	src := &keyedSource{
		row: casc.BuildInfoRow{BuildKey: casc.EKey(buildKey)},
		configs: map[ngdp.CDNHash][]byte{
			buildKey: []byte(buildConfig),
		},
		contents: map[ngdp.CDNHash][]byte{
			ngdp.CDNHash(ekey): blteWrap(encodingManifest),
		},
	}

	var seenPhases []string
	progress := func(phase string) bool {
		seenPhases = append(seenPhases, phase)
		return phase == "Loading DOWNLOAD manifest"
	}

	_, err := Open(context.Background(), src, OpenParams{LocalPath: "/mnt/wow"}, progress)
	if err == nil {
		t.Fatal("Open: got nil error, want CANCELLED")
	}
	if code, ok := casc.CodeOf(err); !ok || code != casc.CodeCancelled {
		t.Errorf("Open error = %v, want CodeCancelled", err)
	}
	if len(seenPhases) == 0 || seenPhases[len(seenPhases)-1] != "Loading DOWNLOAD manifest" {
		t.Errorf("phases seen = %v, want to end at \"Loading DOWNLOAD manifest\"", seenPhases)
	}
}
