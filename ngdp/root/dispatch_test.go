package root

import (
	"bytes"
	"encoding/binary"
	"io"
	"io/ioutil"
	"testing"

	"github.com/lukegb/casc/ngdp/casc"
)

func mndxBlob(t *testing.T, names []string, ckeys []casc.CKey) []byte {
	t.Helper()
	if len(names) != len(ckeys) {
		t.Fatalf("mndxBlob: %d names, %d ckeys", len(names), len(ckeys))
	}

	var buf bytes.Buffer
	buf.Write(mndxMagic[:])
	binary.Write(&buf, binary.LittleEndian, uint32(len(names)))
	for i, name := range names {
		binary.Write(&buf, binary.LittleEndian, uint16(len(name)))
		buf.WriteString(name)
		buf.Write(make([]byte, 12)) // size + localeFlags + fileDataID, unused
		buf.Write(ckeys[i][:])
	}
	return buf.Bytes()
}

func fixedLoader(byCKey map[casc.CKey][]byte) Loader {
	return func(ckey casc.CKey) (io.ReadCloser, error) {
		blob, ok := byCKey[ckey]
		if !ok {
			return nil, &casc.Error{Code: casc.CodeFileNotFound, Msg: "dispatch_test: no manifest for ckey"}
		}
		return ioutil.NopCloser(bytes.NewReader(blob)), nil
	}
}

func TestDispatchNoReparseNeeded(t *testing.T) {
	vfsCKey := mkckey(1)
	rootCKey := mkckey(2)
	blob := mndxBlob(t, []string{"a.txt"}, []casc.CKey{mkckey(9)})
	load := fixedLoader(map[casc.CKey][]byte{vfsCKey: blob})

	reparseCalls := 0
	h, err := Dispatch(load, rootCKey, vfsCKey, 0, func() error {
		reparseCalls++
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if reparseCalls != 0 {
		t.Errorf("onReparse called %d times, want 0", reparseCalls)
	}
	if _, ok := h.Lookup("a.txt"); !ok {
		t.Error("Lookup(\"a.txt\"): not found in returned handler")
	}
}

// TestDispatchReparseFallsBackAndNotifies simulates a VFS-root manifest
// fetch that fails with CodeReparseRoot (as a handler's Parse function
// would signal mid-parse) and checks that Dispatch retries against
// rootCKey, fires onReparse exactly once first, and returns a handler
// built from the retry's manifest.
func TestDispatchReparseFallsBackAndNotifies(t *testing.T) {
	vfsCKey := mkckey(1)
	rootCKey := mkckey(2)
	rootBlob := mndxBlob(t, []string{"b.txt"}, []casc.CKey{mkckey(10)})

	load := func(ckey casc.CKey) (io.ReadCloser, error) {
		if ckey == vfsCKey {
			return nil, &casc.Error{Code: casc.CodeReparseRoot, Msg: "dispatch_test: forced reparse"}
		}
		if ckey == rootCKey {
			return ioutil.NopCloser(bytes.NewReader(rootBlob)), nil
		}
		t.Fatalf("load called with unexpected ckey %x", ckey)
		return nil, nil
	}

	reparseCalls := 0
	h, err := Dispatch(load, rootCKey, vfsCKey, 0, func() error {
		reparseCalls++
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if reparseCalls != 1 {
		t.Errorf("onReparse called %d times, want 1", reparseCalls)
	}
	if _, ok := h.Lookup("b.txt"); !ok {
		t.Error("Lookup(\"b.txt\"): not found in returned handler")
	}
}

func TestDispatchReparseAbortsOnOnReparseError(t *testing.T) {
	vfsCKey := mkckey(1)
	rootCKey := mkckey(2)

	load := func(ckey casc.CKey) (io.ReadCloser, error) {
		if ckey == vfsCKey {
			return nil, &casc.Error{Code: casc.CodeReparseRoot, Msg: "dispatch_test: forced reparse"}
		}
		t.Fatal("load called for rootCKey after onReparse aborted")
		return nil, nil
	}

	wantErr := &casc.Error{Code: casc.CodeCancelled, Msg: "dispatch_test: cancelled"}
	_, err := Dispatch(load, rootCKey, vfsCKey, 0, func() error {
		return wantErr
	}, nil)
	if err != wantErr {
		t.Errorf("Dispatch error = %v, want %v", err, wantErr)
	}
}

func TestDispatchNoRetryWithoutVFSRoot(t *testing.T) {
	rootCKey := mkckey(2)

	load := func(ckey casc.CKey) (io.ReadCloser, error) {
		return nil, &casc.Error{Code: casc.CodeReparseRoot, Msg: "dispatch_test: forced reparse"}
	}

	var zero casc.CKey
	_, err := Dispatch(load, rootCKey, zero, 0, func() error {
		t.Fatal("onReparse should not be called when there's no VFS root to fall back from")
		return nil
	}, nil)
	if code, ok := casc.CodeOf(err); !ok || code != casc.CodeReparseRoot {
		t.Errorf("Dispatch error = %v, want CodeReparseRoot to propagate unhandled", err)
	}
}

func TestDispatchOnNameCalledPerResolvedName(t *testing.T) {
	vfsCKey := mkckey(1)
	names := []string{"one.txt", "two.txt", "three.txt"}
	ckeys := []casc.CKey{mkckey(11), mkckey(12), mkckey(13)}
	load := fixedLoader(map[casc.CKey][]byte{vfsCKey: mndxBlob(t, names, ckeys)})

	var seen []casc.CKey
	_, err := Dispatch(load, casc.CKey{}, vfsCKey, 0, nil, func(ckey casc.CKey) {
		seen = append(seen, ckey)
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(seen) != len(ckeys) {
		t.Fatalf("onName called %d times, want %d", len(seen), len(ckeys))
	}
	for i, ckey := range ckeys {
		if seen[i] != ckey {
			t.Errorf("onName call %d = %x, want %x", i, seen[i], ckey)
		}
	}
}
