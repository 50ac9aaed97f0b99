// Command cascserver opens one or more CASC storages via the storage
// façade and serves their unified file table over HTTP.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"strconv"
	"strings"

	"github.com/NYTimes/gziphandler"
	"github.com/golang/glog"
	"github.com/gorilla/mux"

	"github.com/lukegb/casc/ngdp/casc"
	"github.com/lukegb/casc/ngdp/storage"
)

var (
	storagesStr = flag.String("storages", "", "comma-separated list of name=open_string pairs, e.g. wow=/mnt/wow*wow*us")
	listen      = flag.String("listen", ":8080", "HTTP listen address")
)

// storageSet is the mutable-at-startup, read-only-after-init registry
// this server hands requests against - a single-shot analogue of
// server/datastore.go's tracked-region cache, since a storage's open
// pipeline (unlike an NGDP client's build poll) has no notion of
// re-checking for a newer version once opened.
type storageSet struct {
	byName map[string]*storage.Storage
}

func openAll(ctx context.Context, spec string) (*storageSet, error) {
	set := &storageSet{byName: make(map[string]*storage.Storage)}
	if spec == "" {
		return set, nil
	}
	for _, pair := range strings.Split(spec, ",") {
		bits := strings.SplitN(pair, "=", 2)
		if len(bits) != 2 {
			return nil, fmt.Errorf("cascserver: bad -storages entry %q, want name=open_string", pair)
		}
		name, openString := bits[0], bits[1]

		params, err := storage.ParseLegacyOpenString(openString)
		if err != nil {
			return nil, fmt.Errorf("cascserver: %s: %v", name, err)
		}

		glog.Infof("%s: opening %s", name, params.LocalPath)
		src := &storage.LocalSource{Root: params.LocalPath}
		st, err := storage.Open(ctx, src, params, func(phase string) bool {
			glog.Infof("%s: %s", name, phase)
			return false
		})
		if err != nil {
			return nil, fmt.Errorf("cascserver: %s: opening: %v", name, err)
		}
		set.byName[name] = st
	}
	return set, nil
}

var storages *storageSet

func InfoHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	st, ok := storages.byName[vars["name"]]
	if !ok {
		http.Error(w, "no such storage", http.StatusNotFound)
		return
	}

	codeName, buildNumber := st.Product()
	fmt.Fprintf(w, "code_name=%s\n", codeName)
	fmt.Fprintf(w, "build_number=%d\n", buildNumber)
	fmt.Fprintf(w, "local_files=%d\n", st.LocalFileCount())
	fmt.Fprintf(w, "total_files=%d\n", st.TotalFileCount())
}

// ListHandler serves a JSON directory listing through the storage's
// dispatched root handler, when that handler's manifest format is
// tree-shaped enough to support one (root.Lister). Formats without a
// directory structure of their own - a flat name or file-data-ID table
// - report not-found here even though exact-path lookup through
// FileHandler still works for them.
func ListHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	st, ok := storages.byName[vars["name"]]
	if !ok {
		http.Error(w, "no such storage", http.StatusNotFound)
		return
	}

	entries, ok := st.List(vars["dirPath"])
	if !ok {
		http.Error(w, "directory listing not supported for this path or storage", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(entries); err != nil {
		glog.Errorf("%s: %s: encoding listing: %v", vars["name"], vars["dirPath"], err)
	}
}

// parseByteRange parses a single-range "bytes=start-end" Range header
// against a known total size, per RFC 7233's simplest case. ok is
// false when there's no Range header at all or it doesn't parse,
// telling the caller to fall back to a full 200 response.
func parseByteRange(header string, total int64) (start, end int64, ok bool) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, false
	}
	spec := strings.SplitN(strings.TrimPrefix(header, prefix), ",", 2)[0]
	bits := strings.SplitN(spec, "-", 2)
	if len(bits) != 2 {
		return 0, 0, false
	}

	if bits[0] == "" {
		// Suffix range: "bytes=-N" means the last N bytes.
		n, err := strconv.ParseInt(bits[1], 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false
		}
		if n > total {
			n = total
		}
		return total - n, total - 1, true
	}

	start, err := strconv.ParseInt(bits[0], 10, 64)
	if err != nil || start < 0 || start >= total {
		return 0, 0, false
	}
	if bits[1] == "" {
		return start, total - 1, true
	}
	end, err = strconv.ParseInt(bits[1], 10, 64)
	if err != nil || end < start {
		return 0, 0, false
	}
	if end >= total {
		end = total - 1
	}
	return start, end, true
}

// FileHandler serves a single named file's decoded bytes, resolving
// the path through the storage's dispatched root handler (falling back
// to INSTALL) exactly as Storage.Lookup does. A single-range Range
// request is served by discarding leading bytes off the decoded
// stream rather than seeking it, since BLTE frames only decode
// forward; module F's OpenEntry has no random-access variant.
func FileHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	st, ok := storages.byName[vars["name"]]
	if !ok {
		http.Error(w, "no such storage", http.StatusNotFound)
		return
	}

	ckey, ok := st.Lookup(vars["filePath"])
	if !ok {
		http.Error(w, "no such file", http.StatusNotFound)
		return
	}

	entry, ok := st.Entry(ckey)
	if !ok {
		http.Error(w, "no central entry for resolved content key", http.StatusInternalServerError)
		return
	}

	etag := fmt.Sprintf("%q", fmt.Sprintf("%032x", ckey))
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	rc, err := st.OpenEntry(entry)
	if err != nil {
		if code, ok := casc.CodeOf(err); ok && code == casc.CodeFileNotFound {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer rc.Close()

	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Accept-Ranges", "bytes")

	knownSize := entry.ContentSize != casc.InvalidSize32
	total := int64(entry.ContentSize)

	if knownSize && total > 0 {
		if start, end, ok := parseByteRange(r.Header.Get("Range"), total); ok {
			if _, err := io.CopyN(io.Discard, rc, start); err != nil {
				http.Error(w, "seeking to range start: "+err.Error(), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, total))
			w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
			w.WriteHeader(http.StatusPartialContent)
			if _, err := io.CopyN(w, rc, end-start+1); err != nil && err != io.EOF {
				glog.Errorf("%s: %s: streaming range response: %v", vars["name"], vars["filePath"], err)
			}
			return
		}
		w.Header().Set("Content-Length", strconv.FormatInt(total, 10))
	}

	if _, err := io.Copy(w, rc); err != nil {
		glog.Errorf("%s: %s: streaming response: %v", vars["name"], vars["filePath"], err)
	}
}

func main() {
	flag.Parse()

	var err error
	storages, err = openAll(context.Background(), *storagesStr)
	if err != nil {
		glog.Exit(err)
	}

	rtr := mux.NewRouter()
	http.Handle("/", rtr)

	r := rtr.Methods("GET").Subrouter()
	r.HandleFunc("/storage/{name}", InfoHandler)
	r.Handle("/storage/{name}/files/{filePath:.+}", gziphandler.GzipHandler(http.HandlerFunc(FileHandler)))
	r.HandleFunc("/storage/{name}/dir", ListHandler)
	r.HandleFunc("/storage/{name}/dir/{dirPath:.+}", ListHandler)

	glog.Infof("Listening on %q", *listen)
	glog.Exit(http.ListenAndServe(*listen, nil))
}
