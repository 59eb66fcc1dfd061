// Package auth provides AWS Signature V2 request signing for
// S3-compatible endpoints.
package auth

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// Subresources that are part of the signed canonical resource. All other
// query parameters (prefix, marker, delimiter, max-keys, ...) are excluded
// from signing.
var signedSubresources = []string{"partNumber", "uploadId"}

var dnsLabel = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9.-]*$`)

// VirtualHostCompatible reports whether a bucket name can be used as a DNS
// label in virtual-hosted-style addressing (bucket.host). Buckets that fail
// the check fall back to path-style (host/bucket).
func VirtualHostCompatible(bucket string) bool {
	if len(bucket) == 0 || len(bucket) > 63 {
		return false
	}
	return dnsLabel.MatchString(bucket)
}

// HmacSHA1B64 returns the base64-encoded HMAC-SHA1 of data using the given
// key, with no line wrapping.
func HmacSHA1B64(key, data string) string {
	h := hmac.New(sha1.New, []byte(key))
	h.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// CanonicalAmzHeaders renders all x-amz-* headers for signing: names
// lower-cased, sorted, each emitted as "name:value\n".
func CanonicalAmzHeaders(header http.Header) string {
	var names []string
	values := make(map[string]string)

	for name, vals := range header {
		lower := strings.ToLower(name)
		if !strings.HasPrefix(lower, "x-amz-") {
			continue
		}
		names = append(names, lower)
		values[lower] = strings.Join(vals, ",")
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%s:%s\n", name, values[name])
	}
	return b.String()
}

// CanonicalResource builds the signed resource path from the bucket, the
// object path and the request query. Only the partNumber and uploadId
// subresources are included, sorted by name and joined with "&".
func CanonicalResource(bucket string, path string, query url.Values) string {
	resource := "/" + bucket
	if !strings.HasPrefix(path, "/") {
		resource += "/"
	}
	resource += path

	var sub []string
	for _, name := range signedSubresources {
		if query.Has(name) {
			sub = append(sub, fmt.Sprintf("%s=%s", name, query.Get(name)))
		}
	}
	if len(sub) > 0 {
		sort.Strings(sub)
		resource += "?" + strings.Join(sub, "&")
	}

	return resource
}

// CanonicalStringV2 builds the exact byte sequence that is signed:
//
//	METHOD \n Content-MD5 \n Content-Type \n Date \n [x-amz headers] resource
func CanonicalStringV2(method string, header http.Header, resource string) string {
	return fmt.Sprintf("%s\n%s\n%s\n%s\n%s%s",
		method,
		header.Get("Content-MD5"),
		header.Get("Content-Type"),
		header.Get("Date"),
		CanonicalAmzHeaders(header),
		resource,
	)
}

// SignV2 computes the Signature V2 authorization value for a request and
// sets the Authorization header. The Date header must already be present,
// since the signature covers it.
func SignV2(req *http.Request, accessKey, secretKey, resource string) {
	canonical := CanonicalStringV2(req.Method, req.Header, resource)
	signature := HmacSHA1B64(secretKey, canonical)
	req.Header.Set("Authorization", fmt.Sprintf("AWS %s:%s", accessKey, signature))
}
