package s3

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// ListOptions narrows a listing. Prefix is relative to the client's
// configured key prefix; MaxKeys bounds each page, not the total.
type ListOptions struct {
	Prefix    string
	Delimiter string
	MaxKeys   int
}

// List paginates a bucket listing via the continuation marker, aggregating
// keys and common prefixes across pages in page order. The configured key
// prefix is stripped from every returned key and prefix.
func (c *Client) List(ctx context.Context, opts ListOptions) (*Listing, error) {
	st := c.snapshot()

	maxKeys := opts.MaxKeys
	if maxKeys <= 0 {
		maxKeys = st.listMaxKeys
	}

	fullPrefix := st.prefix + opts.Prefix
	listing := &Listing{}
	marker := ""

	for {
		page, err := c.listPage(ctx, st, fullPrefix, opts.Delimiter, marker, maxKeys)
		if err != nil {
			return nil, err
		}

		for _, obj := range page.Contents {
			listing.Keys = append(listing.Keys, ObjectEntry{
				Key:          strings.TrimPrefix(obj.Key, st.prefix),
				LastModified: obj.LastModified,
				ETag:         obj.ETag,
				Size:         obj.Size,
				StorageClass: obj.StorageClass,
			})
		}
		for _, p := range page.CommonPrefixes {
			listing.CommonPrefixes = append(listing.CommonPrefixes, strings.TrimPrefix(p.Prefix, st.prefix))
		}

		if !page.IsTruncated {
			break
		}

		// Next marker is the last key seen; the service may also name one
		// explicitly when a delimiter grouped the final entries.
		switch {
		case len(page.Contents) > 0:
			marker = page.Contents[len(page.Contents)-1].Key
		case page.NextMarker != "":
			marker = page.NextMarker
		default:
			return nil, &ProtocolError{Op: "list " + fullPrefix, Field: "continuation marker"}
		}

		slog.Debug("Listing truncated, continuing", "prefix", fullPrefix, "marker", marker)
	}

	return listing, nil
}

// listPage issues one listing request through the retry coordinator.
func (c *Client) listPage(ctx context.Context, st settings, prefix, delimiter, marker string, maxKeys int) (*ListBucketResult, error) {
	op := "list " + prefix

	var page ListBucketResult
	err := c.retrier(st).Do(ctx, func(ctx context.Context) error {
		tctx, cancel := context.WithTimeout(ctx, st.timeout)
		defer cancel()

		query := url.Values{}
		query.Set("max-keys", strconv.Itoa(maxKeys))
		if prefix != "" {
			query.Set("prefix", prefix)
		}
		if delimiter != "" {
			query.Set("delimiter", delimiter)
		}
		if marker != "" {
			query.Set("marker", marker)
		}

		req, err := c.newRequest(st, requestInput{
			method: http.MethodGet,
			path:   "/",
			query:  query,
		})
		if err != nil {
			return err
		}
		req = req.WithContext(tctx)

		resp, err := c.transport().Do(req)
		if err != nil {
			return err
		}
		if err := checkResponse(op, resp); err != nil {
			return err
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return err
		}

		page = ListBucketResult{}
		if err := xml.Unmarshal(body, &page); err != nil {
			return fmt.Errorf("%s: parsing response: %w", op, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &page, nil
}
