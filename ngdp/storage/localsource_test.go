package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lukegb/casc/ngdp/casc"
)

func TestHashPath(t *testing.T) {
	var h [16]byte
	for i := range h {
		h[i] = byte(i)
	}
	got := hashPath("/mnt/wow", "Data/config", h)
	want := filepath.Join("/mnt/wow", "Data/config", "00", "01", "000102030405060708090a0b0c0d0e0f")
	if got != want {
		t.Errorf("hashPath = %q; want %q", got, want)
	}
}

func TestLocalSourceResolveBuildInfo(t *testing.T) {
	root := t.TempDir()
	buildInfo := "Branch!STRING:0|Build Key!HEX:16|CDN Key!HEX:16|Tags!STRING:0|Active!DEC:1\n" +
		"us|" + strings.Repeat("aa", 16) + "|" + strings.Repeat("bb", 16) + "|enUS|1\n"
	if err := os.WriteFile(filepath.Join(root, ".build.info"), []byte(buildInfo), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	src := &LocalSource{Root: root}
	row, _, err := src.ResolveBuild("us")
	if err != nil {
		t.Fatalf("ResolveBuild: %v", err)
	}
	if row.Branch != "us" {
		t.Errorf("ResolveBuild row.Branch = %q; want us", row.Branch)
	}
}

func TestLocalSourceResolveBuildMissing(t *testing.T) {
	src := &LocalSource{Root: t.TempDir()}
	if _, _, err := src.ResolveBuild("us"); err == nil {
		t.Error("ResolveBuild with no build descriptor: got nil error, want error")
	} else if code, ok := casc.CodeOf(err); !ok || code != casc.CodeFileNotFound {
		t.Errorf("ResolveBuild with no build descriptor: code = %v; want CodeFileNotFound", code)
	}
}

func TestLocalSourceOpenRange(t *testing.T) {
	root := t.TempDir()
	dataDir := filepath.Join(root, "Data", "data")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, "data.000"), []byte("0123456789"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	src := &LocalSource{Root: root}
	rc, err := src.OpenRange(0, 3, 4)
	if err != nil {
		t.Fatalf("OpenRange: %v", err)
	}
	defer rc.Close()

	buf := make([]byte, 4)
	if _, err := rc.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf) != "3456" {
		t.Errorf("OpenRange bytes = %q; want %q", buf, "3456")
	}
}

func TestLocalSourceIndexShards(t *testing.T) {
	root := t.TempDir()
	dataDir := filepath.Join(root, "Data", "data")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	for _, name := range []string{"00000000.idx", "00000001.idx"} {
		if err := os.WriteFile(filepath.Join(dataDir, name), nil, 0644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}

	src := &LocalSource{Root: root}
	shards, err := src.IndexShards()
	if err != nil {
		t.Fatalf("IndexShards: %v", err)
	}
	if len(shards) != 2 {
		t.Fatalf("IndexShards: got %d shards, want 2", len(shards))
	}
	for _, sh := range shards {
		rc, err := sh.Open()
		if err != nil {
			t.Errorf("shard %q Open: %v", sh.Name, err)
			continue
		}
		rc.Close()
	}
}
