package s3

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/mulgadc/s3stream/auth"
)

// requestInput holds the logical parameters a request is assembled from.
// Requests are built fresh for every attempt: the Date header, and therefore
// the signature, must be regenerated on each retry.
type requestInput struct {
	method      string
	path        string // object path under the bucket, "/" for bucket ops
	query       url.Values
	meta        map[string]string
	contentType string
	contentMD5  string
	length      int64
	body        io.Reader
}

// newRequest assembles a fully-formed, signed request. Buckets that pass the
// DNS-label check use virtual-hosted-style addressing (bucket.host) unless
// path_style is forced; the canonical resource is /bucket/path either way.
func (c *Client) newRequest(st settings, in requestInput) (*http.Request, error) {
	if in.path == "" {
		in.path = "/"
	}
	if !strings.HasPrefix(in.path, "/") {
		in.path = "/" + in.path
	}

	scheme := "http"
	if st.tls {
		scheme = "https"
	}

	u := url.URL{Scheme: scheme}
	if !st.pathStyle && auth.VirtualHostCompatible(st.bucket) {
		u.Host = st.bucket + "." + st.host
		u.Path = in.path
	} else {
		u.Host = st.host
		if in.path == "/" {
			// Bucket-level operation, no trailing slash.
			u.Path = "/" + st.bucket
		} else {
			u.Path = "/" + st.bucket + in.path
		}
	}
	if len(in.query) > 0 {
		u.RawQuery = in.query.Encode()
	}

	req, err := http.NewRequest(in.method, u.String(), in.body)
	if err != nil {
		return nil, err
	}
	req.ContentLength = in.length

	req.Header.Set("Date", c.now().UTC().Format(http.TimeFormat))
	if in.contentType != "" {
		req.Header.Set("Content-Type", in.contentType)
	}
	if in.contentMD5 != "" {
		req.Header.Set("Content-MD5", in.contentMD5)
	}

	// User metadata, one header per entry, key names case-preserved,
	// emitted in sorted key order.
	names := make([]string, 0, len(in.meta))
	for name := range in.meta {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		req.Header.Set(fmt.Sprintf("X-Amz-Meta-%s", name), in.meta[name])
	}

	resource := auth.CanonicalResource(st.bucket, in.path, in.query)
	auth.SignV2(req, st.accessKey, st.secretKey, resource)

	return req, nil
}

// objectPath joins the configured key prefix with an object key.
func objectPath(st settings, key string) string {
	return "/" + st.prefix + key
}
