package datasource

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"

	"datadict/internal/datasource/archive"
	"datadict/internal/datasource/file"
	"datadict/internal/datasource/httpds"
)

// remote fetches URL inputs.
var remote = httpds.NewClient(httpds.Config{})

// ErrNoShards is returned when the input holds no data files.
var ErrNoShards = errors.New("no data shards found")

var shardSuffixes = []string{".csv", ".csv.gz", ".csv.zst", ".csv.zstd"}

func isShardName(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range shardSuffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

// Discover inspects path and returns its shards in ingestion order.
//
// path may be:
//   - a .zip archive: every *.csv entry is a shard, sorted by entry name;
//   - a .list manifest: one shard path per line, relative to the manifest;
//   - a directory: every *.csv, *.csv.gz and *.csv.zst file, sorted by name;
//   - a single shard file;
//   - an http(s) URL of a single shard, with an optional sidecar next to it.
//
// Manifest lines may also be URLs.
// A file or entry whose base name equals sidecar (ignoring case) is the
// sidecar and never a shard. The caller must Close the returned Input.
func Discover(ctx context.Context, path, sidecar string) (*Input, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if httpds.IsURL(path) {
		return discoverURL(ctx, path, sidecar)
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, errors.WithHint(errors.Wrapf(err, "input %s", path), "check input.path")
	}

	var in *Input
	lower := strings.ToLower(path)
	switch {
	case fi.IsDir():
		in, err = discoverDir(path, sidecar)
	case strings.HasSuffix(lower, ".zip"):
		in, err = discoverZip(path, sidecar)
	case strings.HasSuffix(lower, ".list"):
		in, err = discoverList(path, sidecar)
	case isShardName(path):
		in = &Input{Shards: []Shard{withCodec(filepath.Base(path), file.NewLocal(path, ""))}}
		in.Sidecar = siblingSidecar(filepath.Dir(path), sidecar)
	default:
		return nil, errors.WithHint(
			errors.Newf("unsupported input %s", path),
			"use a .zip archive, a directory, a .list manifest or a .csv/.csv.gz/.csv.zst file")
	}
	if err != nil {
		return nil, err
	}
	if len(in.Shards) == 0 {
		_ = in.Close()
		return nil, errors.Wrapf(ErrNoShards, "input %s", path)
	}
	return in, nil
}

func isSidecar(name, sidecar string) bool {
	return sidecar != "" && strings.EqualFold(filepath.Base(name), sidecar)
}

func discoverZip(path, sidecar string) (*Input, error) {
	a, err := archive.Open(path)
	if err != nil {
		return nil, err
	}
	in := &Input{closers: []io.Closer{a}}
	for _, e := range a.Entries() {
		switch {
		case isSidecar(e.Base(), sidecar):
			if in.Sidecar == nil {
				in.Sidecar = e
			}
		case e.HasSuffix(".csv"):
			in.Shards = append(in.Shards, e)
		}
	}
	return in, nil
}

func discoverDir(dir, sidecar string) (*Input, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read dir %s", dir)
	}
	in := &Input{}
	var names []string
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if isSidecar(name, sidecar) {
			in.Sidecar = file.NewLocal(filepath.Join(dir, name), name)
			continue
		}
		if isShardName(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		in.Shards = append(in.Shards, withCodec(name, file.NewLocal(filepath.Join(dir, name), name)))
	}
	return in, nil
}

func discoverList(path, sidecar string) (*Input, error) {
	lines, err := file.ReadList(path)
	if err != nil {
		return nil, err
	}
	base := filepath.Dir(path)
	in := &Input{}
	seen := make(map[string]bool, len(lines))
	for _, rel := range lines {
		if httpds.IsURL(rel) {
			r := httpds.NewRemote(remote, rel, "")
			switch {
			case isSidecar(r.Name(), sidecar):
				in.Sidecar = r
			case seen[r.Name()]:
				return nil, errors.Newf("manifest %s lists %s twice", path, r.Name())
			default:
				seen[r.Name()] = true
				in.Shards = append(in.Shards, withCodec(r.Name(), r))
			}
			continue
		}
		p := rel
		if !filepath.IsAbs(p) {
			p = filepath.Join(base, rel)
		}
		if isSidecar(rel, sidecar) {
			in.Sidecar = file.NewLocal(p, rel)
			continue
		}
		name := filepath.ToSlash(rel)
		if seen[name] {
			return nil, errors.Newf("manifest %s lists %s twice", path, rel)
		}
		seen[name] = true
		in.Shards = append(in.Shards, withCodec(name, file.NewLocal(p, name)))
	}
	if in.Sidecar == nil {
		in.Sidecar = siblingSidecar(base, sidecar)
	}
	return in, nil
}

// siblingSidecar returns the sidecar in dir, or nil if absent.
func siblingSidecar(dir, sidecar string) Source {
	if sidecar == "" {
		return nil
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	for _, e := range ents {
		if !e.IsDir() && strings.EqualFold(e.Name(), sidecar) {
			return file.NewLocal(filepath.Join(dir, e.Name()), e.Name())
		}
	}
	return nil
}

func discoverURL(ctx context.Context, rawURL, sidecar string) (*Input, error) {
	r := httpds.NewRemote(remote, rawURL, "")
	if !isShardName(r.Name()) {
		return nil, errors.WithHint(
			errors.Newf("unsupported input %s", rawURL),
			"a URL input must name a .csv, .csv.gz or .csv.zst file")
	}
	in := &Input{Shards: []Shard{withCodec(r.Name(), r)}}
	if sidecar == "" {
		return in, nil
	}
	u, err := httpds.Sibling(rawURL, sidecar)
	if err != nil {
		return nil, errors.Wrapf(err, "input %s", rawURL)
	}
	ok, err := remote.Exists(ctx, u)
	if err != nil {
		return nil, errors.Wrap(err, "probe sidecar")
	}
	if ok {
		in.Sidecar = httpds.NewRemote(remote, u, sidecar)
	}
	return in, nil
}
