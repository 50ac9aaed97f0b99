package root

import (
	"reflect"
	"sort"
	"testing"

	"github.com/lukegb/casc/ngdp/casc"
)

func mkckey(b byte) casc.CKey {
	var k casc.CKey
	k[0] = b
	return k
}

func newTestMndx(t *testing.T) *mndxRoot {
	t.Helper()
	h := &mndxRoot{root: newMndxDir()}
	files := map[string]byte{
		"README.txt":         1,
		"data/a.blp":         2,
		"data/b.blp":         3,
		"data/sub/c.blp":     4,
		"data/sub/deep/d.m2": 5,
	}
	for name, b := range files {
		if err := h.Insert(name, mkckey(b)); err != nil {
			t.Fatalf("Insert(%q): %v", name, err)
		}
	}
	return h
}

func namesOf(entries []DirEntry) []string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	sort.Strings(names)
	return names
}

func TestMndxRootListRoot(t *testing.T) {
	h := newTestMndx(t)

	for _, dirPath := range []string{"", "/"} {
		entries, ok := h.List(dirPath)
		if !ok {
			t.Fatalf("List(%q): ok = false, want true", dirPath)
		}
		want := []string{"data", "readme.txt"}
		if got := namesOf(entries); !reflect.DeepEqual(got, want) {
			t.Errorf("List(%q) names = %v, want %v", dirPath, got, want)
		}
	}
}

func TestMndxRootListNested(t *testing.T) {
	h := newTestMndx(t)

	entries, ok := h.List("data")
	if !ok {
		t.Fatal("List(\"data\"): ok = false, want true")
	}
	want := []string{"a.blp", "b.blp", "sub"}
	if got := namesOf(entries); !reflect.DeepEqual(got, want) {
		t.Errorf("List(\"data\") names = %v, want %v", got, want)
	}

	for _, e := range entries {
		if e.Name == "sub" && !e.IsDir {
			t.Error("List(\"data\"): entry \"sub\" should be reported as a directory")
		}
		if e.Name == "a.blp" && e.IsDir {
			t.Error("List(\"data\"): entry \"a.blp\" should not be reported as a directory")
		}
	}
}

func TestMndxRootListDeep(t *testing.T) {
	h := newTestMndx(t)

	entries, ok := h.List("data/sub/deep")
	if !ok {
		t.Fatal("List(\"data/sub/deep\"): ok = false, want true")
	}
	want := []string{"d.m2"}
	if got := namesOf(entries); !reflect.DeepEqual(got, want) {
		t.Errorf("List(\"data/sub/deep\") names = %v, want %v", got, want)
	}
}

func TestMndxRootListUnknownPath(t *testing.T) {
	h := newTestMndx(t)

	if _, ok := h.List("nope"); ok {
		t.Error("List(\"nope\"): ok = true, want false")
	}
	if _, ok := h.List("data/a.blp"); ok {
		t.Error("List(\"data/a.blp\"): ok = true, want false (not a directory)")
	}
}

func TestMndxRootListCaseInsensitive(t *testing.T) {
	h := newTestMndx(t)

	entries, ok := h.List("DATA")
	if !ok {
		t.Fatal("List(\"DATA\"): ok = false, want true")
	}
	if len(entries) != 3 {
		t.Errorf("List(\"DATA\") returned %d entries, want 3", len(entries))
	}
}

func TestMndxRootImplementsLister(t *testing.T) {
	var h Handler = &mndxRoot{root: newMndxDir()}
	if _, ok := h.(Lister); !ok {
		t.Error("*mndxRoot does not implement Lister")
	}
}
