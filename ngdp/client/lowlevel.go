/*
Copyright 2017 Luke Granger-Brown

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package client

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/lukegb/casc/blte"
	"github.com/lukegb/casc/ngdp"
	"github.com/lukegb/casc/ngdp/casc"
	"github.com/lukegb/casc/ngdp/configtable"
	"github.com/lukegb/casc/ngdp/encoding"
)

var (
	suffixCDNs     = "cdns"
	suffixVersions = "versions"
)

// A LowLevelClient provides simple wrappers to make basic NGDP operations easier.
type LowLevelClient struct {
	Client *http.Client
}

func (c *LowLevelClient) get(ctx context.Context, cdnInfo ngdp.CDNInfo, contentType ngdp.ContentType, cdnHash ngdp.CDNHash, suffix string) (*http.Response, error) {

	req, err := http.NewRequest(http.MethodGet, cdnURL(cdnInfo, contentType, cdnHash, suffix), nil)
	if err != nil {
		return nil, err
	}

	return c.do(ctx, req)
}

func (c *LowLevelClient) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)

	cl := c.Client
	if cl == nil {
		cl = http.DefaultClient
	}

	return cl.Do(req)
}

func (c *LowLevelClient) cdns(ctx context.Context, program ngdp.ProgramCode, region ngdp.Region) ([]ngdp.CDNInfo, error) {
	req, err := http.NewRequest(http.MethodGet, patchURL(program, region, suffixCDNs), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errBadStatus{resp.StatusCode, resp.Status, http.StatusOK}
	}

	var cdns []ngdp.CDNInfo
	d := configtable.NewDecoder(resp.Body)
	for {
		var cdn ngdp.CDNInfo
		if err := d.Decode(&cdn); err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		cdns = append(cdns, cdn)
	}
	return cdns, nil
}

func (c *LowLevelClient) versions(ctx context.Context, program ngdp.ProgramCode, region ngdp.Region) ([]ngdp.VersionInfo, error) {
	req, err := http.NewRequest(http.MethodGet, patchURL(program, region, suffixVersions), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errBadStatus{resp.StatusCode, resp.Status, http.StatusOK}
	}

	var versions []ngdp.VersionInfo
	d := configtable.NewDecoder(resp.Body)
	for {
		var version ngdp.VersionInfo
		if err := d.Decode(&version); err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		versions = append(versions, version)
	}
	return versions, nil
}

// Info fetches the CDN and version records for program/region in one
// call, picking the row matching region (or the first row if region
// isn't named in either list).
func (c *LowLevelClient) Info(ctx context.Context, program ngdp.ProgramCode, region ngdp.Region) (ngdp.CDNInfo, ngdp.VersionInfo, error) {
	cdns, err := c.cdns(ctx, program, region)
	if err != nil {
		return ngdp.CDNInfo{}, ngdp.VersionInfo{}, err
	}
	versions, err := c.versions(ctx, program, region)
	if err != nil {
		return ngdp.CDNInfo{}, ngdp.VersionInfo{}, err
	}

	cdn, ok := selectCDN(cdns, region)
	if !ok {
		return ngdp.CDNInfo{}, ngdp.VersionInfo{}, ErrUnknownRegion
	}
	version, ok := selectVersion(versions, region)
	if !ok {
		return ngdp.CDNInfo{}, ngdp.VersionInfo{}, ErrUnknownRegion
	}
	return cdn, version, nil
}

func selectCDN(cdns []ngdp.CDNInfo, region ngdp.Region) (ngdp.CDNInfo, bool) {
	for _, c := range cdns {
		if c.Name == region {
			return c, true
		}
	}
	if len(cdns) > 0 {
		return cdns[0], true
	}
	return ngdp.CDNInfo{}, false
}

func selectVersion(versions []ngdp.VersionInfo, region ngdp.Region) (ngdp.VersionInfo, bool) {
	for _, v := range versions {
		if v.Region == region {
			return v, true
		}
	}
	if len(versions) > 0 {
		return versions[0], true
	}
	return ngdp.VersionInfo{}, false
}

// Configs fetches and decodes the CDN config and build config named by
// version's hashes.
func (c *LowLevelClient) Configs(ctx context.Context, cdn ngdp.CDNInfo, version ngdp.VersionInfo) (ngdp.CDNConfig, ngdp.BuildConfig, error) {
	cdnResp, err := c.get(ctx, cdn, ngdp.ContentTypeConfig, version.CDNConfig, "")
	if err != nil {
		return ngdp.CDNConfig{}, ngdp.BuildConfig{}, err
	}
	defer cdnResp.Body.Close()
	if cdnResp.StatusCode != http.StatusOK {
		return ngdp.CDNConfig{}, ngdp.BuildConfig{}, errBadStatus{cdnResp.StatusCode, cdnResp.Status, http.StatusOK}
	}
	cdnConfig, err := casc.LoadCDNConfig(cdnResp.Body)
	if err != nil {
		return ngdp.CDNConfig{}, ngdp.BuildConfig{}, err
	}

	buildResp, err := c.get(ctx, cdn, ngdp.ContentTypeConfig, version.BuildConfig, "")
	if err != nil {
		return ngdp.CDNConfig{}, ngdp.BuildConfig{}, err
	}
	defer buildResp.Body.Close()
	if buildResp.StatusCode != http.StatusOK {
		return ngdp.CDNConfig{}, ngdp.BuildConfig{}, errBadStatus{buildResp.StatusCode, buildResp.Status, http.StatusOK}
	}
	buildConfig, err := casc.LoadBuildConfig(buildResp.Body)
	if err != nil {
		return ngdp.CDNConfig{}, ngdp.BuildConfig{}, err
	}

	return cdnConfig, buildConfig, nil
}

// Mappers fetches the ENCODING manifest and builds the archive-offset
// map, the two pieces every content-hash Fetch needs.
func (c *LowLevelClient) Mappers(ctx context.Context, cdn ngdp.CDNInfo, cdnConfig ngdp.CDNConfig, buildConfig ngdp.BuildConfig) (*encoding.Mapper, *ArchiveMapper, error) {
	encResp, err := c.get(ctx, cdn, ngdp.ContentTypeData, buildConfig.Encoding.CDNHash, "")
	if err != nil {
		return nil, nil, err
	}
	defer encResp.Body.Close()
	if encResp.StatusCode != http.StatusOK {
		return nil, nil, errBadStatus{encResp.StatusCode, encResp.Status, http.StatusOK}
	}
	encodingMapper, err := encoding.NewMapper(blte.NewReader(encResp.Body))
	if err != nil {
		return nil, nil, err
	}

	archiveMapper, err := c.NewArchiveMapper(ctx, cdn, cdnConfig.Archives)
	if err != nil {
		return nil, nil, err
	}

	return encodingMapper, archiveMapper, nil
}

// Fetch retrieves the BLTE-decoded content of a CDN-hash-addressed
// blob directly, without going through an ArchiveMapper - used for
// one-off fetches (such as the ROOT manifest) where the caller already
// knows the CDN hash isn't inside an archive.
func (c *LowLevelClient) Fetch(ctx context.Context, cdn ngdp.CDNInfo, h ngdp.CDNHash) (io.ReadCloser, error) {
	resp, err := c.get(ctx, cdn, ngdp.ContentTypeData, h, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errBadStatus{resp.StatusCode, resp.Status, http.StatusOK}
	}
	return newWrappedCloser(blte.NewReader(resp.Body), resp.Body), nil
}

// RawFetch retrieves h's encoded bytes without BLTE decoding, for
// callers that resolve their own archive/frame bookkeeping (such as
// ngdp/storage's central table) and decode frames themselves.
func (c *LowLevelClient) RawFetch(ctx context.Context, cdn ngdp.CDNInfo, h ngdp.CDNHash) (io.ReadCloser, error) {
	resp, err := c.get(ctx, cdn, ngdp.ContentTypeData, h, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errBadStatus{resp.StatusCode, resp.Status, http.StatusOK}
	}
	return resp.Body, nil
}

// RawFetchRange retrieves a byte range of an archive blob by its CDN
// hash, without BLTE decoding.
func (c *LowLevelClient) RawFetchRange(ctx context.Context, cdn ngdp.CDNInfo, archive ngdp.CDNHash, offset uint64, size uint32) (io.ReadCloser, error) {
	req, err := http.NewRequest(http.MethodGet, cdnURL(cdn, ngdp.ContentTypeData, archive, ""), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+uint64(size)-1))

	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return nil, errBadStatus{resp.StatusCode, resp.Status, http.StatusPartialContent}
	}
	return resp.Body, nil
}

func cdnURL(cdnInfo ngdp.CDNInfo, contentType ngdp.ContentType, cdnHash ngdp.CDNHash, suffix string) string {
	return fmt.Sprintf("http://%s/%s/%s/%02x/%02x/%032x%s", cdnInfo.Hosts[0], cdnInfo.Path, contentType, cdnHash[0], cdnHash[1], cdnHash, suffix)
}

func patchURL(program ngdp.ProgramCode, region ngdp.Region, suffix string) string {
	return fmt.Sprintf("http://%s.patch.battle.net:1119/%s/%s", region, program, suffix)
}
