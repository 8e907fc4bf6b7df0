package httpds

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/zeebo/xxh3"
)

// IsURL reports whether s is an http or https URL.
func IsURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// Remote is a shard or sidecar served over HTTP.
type Remote struct {
	client *Client
	url    string
	name   string
}

// NewRemote returns a Remote for rawURL. name is its progress key; when
// empty NameFromURL is used.
func NewRemote(c *Client, rawURL, name string) *Remote {
	if name == "" {
		name = NameFromURL(rawURL)
	}
	return &Remote{client: c, url: rawURL, name: name}
}

func (r *Remote) Name() string { return r.name }
func (r *Remote) URL() string  { return r.url }

// Open starts a GET and returns the response body.
func (r *Remote) Open(ctx context.Context) (io.ReadCloser, error) {
	resp, err := r.client.Get(ctx, r.url, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// NameFromURL returns the last path segment of rawURL, so that
// https://host/exports/part-0001.csv.gz?sig=x is keyed part-0001.csv.gz. A
// URL without a usable segment is keyed by a hash of the whole URL.
func NameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err == nil {
		if base := path.Base(u.Path); base != "/" && base != "." && base != "" {
			return base
		}
	}
	return fmt.Sprintf("url-%016x", xxh3.HashString(rawURL))
}

// Sibling returns the URL of name in the same directory as rawURL. The query
// string is kept, which preserves signed-URL parameters.
func Sibling(rawURL, name string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	u.Path = path.Join(path.Dir(u.Path), name)
	u.RawPath = ""
	return u.String(), nil
}
