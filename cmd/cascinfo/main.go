// Command cascinfo opens a CASC storage and prints the info queries it
// supports, the Go-native equivalent of CascLib's CascInfo.exe sample.
package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/golang/glog"

	"github.com/lukegb/casc/ngdp/storage"
)

var (
	openString = flag.String("open", "", "legacy open string: local_path[*cdn_host_url]*code_name*region")
	localPath  = flag.String("local-path", "", "local storage root (overrides -open)")
	codeName   = flag.String("code-name", "", "product code name, e.g. wow")
	region     = flag.String("region", "us", "region branch/tag to select")
)

func featureNames(f storage.Feature) []string {
	var names []string
	for bit, name := range map[storage.Feature]string{
		storage.FeatureDataArchives:  "DATA_ARCHIVES",
		storage.FeatureDataFiles:     "DATA_FILES",
		storage.FeatureOnline:        "ONLINE",
		storage.FeatureTags:          "TAGS",
		storage.FeatureForceDownload: "FORCE_DOWNLOAD",
		storage.FeatureRootFeatures:  "ROOT_FEATURES",
	} {
		if f&bit != 0 {
			names = append(names, name)
		}
	}
	return names
}

func main() {
	flag.Parse()

	params := storage.OpenParams{
		LocalPath: *localPath,
		CodeName:  *codeName,
		Region:    *region,
	}
	if *openString != "" {
		var err error
		params, err = storage.ParseLegacyOpenString(*openString)
		if err != nil {
			glog.Exitf("parsing -open string: %v", err)
		}
		if *localPath != "" {
			params.LocalPath = *localPath
		}
	}
	if params.LocalPath == "" {
		glog.Exit("either -local-path or -open is required")
	}

	src := &storage.LocalSource{Root: params.LocalPath}
	progress := func(phase string) bool {
		glog.Infof("open: %s", phase)
		return false
	}

	st, err := storage.Open(context.Background(), src, params, progress)
	if err != nil {
		glog.Exitf("opening storage: %v", err)
	}
	defer st.Close()

	codeNameOut, buildNumber := st.Product()
	fmt.Printf("Product:          %s (build %d)\n", codeNameOut, buildNumber)
	fmt.Printf("Path/product:     %s\n", st.PathProduct(params.LocalPath))
	fmt.Printf("Features:         %s\n", strings.Join(featureNames(st.Features()), ", "))
	fmt.Printf("Installed locales: %#x\n", st.InstalledLocales())
	fmt.Printf("Local files:      %d\n", st.LocalFileCount())
	fmt.Printf("Total files:      %d\n", st.TotalFileCount())

	if tags := st.Tags(); len(tags) > 0 {
		var names []string
		for _, tag := range tags {
			names = append(names, tag.Name)
		}
		fmt.Printf("Tags:             %s\n", strings.Join(names, ", "))
	}
}
