package s3

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
)

// putMultipart coordinates initiate, sequential part PUTs and the
// completion manifest. Parts are issued strictly one at a time in ascending
// number order: the next part is not generated until the previous part,
// including its retries, has settled. A failure anywhere abandons the
// session; no partial result is returned.
func (c *Client) putMultipart(ctx context.Context, st settings, key string, opts PutOptions, parts PartsFunc) (*PutResult, error) {
	uploadID, err := c.initiateUpload(ctx, st, key, opts)
	if err != nil {
		return nil, err
	}

	slog.Debug("Multipart upload initiated", "key", key, "upload_id", uploadID)

	var records []CompletePart
	var written int64

	for number := 1; ; number++ {
		src, err := nextPart(ctx, parts)
		if err != nil {
			return nil, err
		}
		if src == nil {
			break
		}
		if number > maxParts {
			return nil, &ConfigError{Reason: "content too large for maximum part count"}
		}

		length, err := partLength(src)
		if err != nil {
			return nil, err
		}

		etag, sent, err := c.putPart(ctx, st, key, uploadID, number, src, length)
		if err != nil {
			return nil, err
		}

		records = append(records, CompletePart{PartNumber: number, ETag: etag})
		written += sent
	}

	etag, err := c.completeUpload(ctx, st, key, uploadID, records)
	if err != nil {
		return nil, err
	}

	return &PutResult{ETag: etag, BytesWritten: written}, nil
}

// initiateUpload POSTs to key?uploads and returns the upload id.
func (c *Client) initiateUpload(ctx context.Context, st settings, key string, opts PutOptions) (string, error) {
	op := "initiate upload " + key

	var uploadID string
	err := c.retrier(st).Do(ctx, func(ctx context.Context) error {
		tctx, cancel := context.WithTimeout(ctx, st.timeout)
		defer cancel()

		query := url.Values{}
		query.Set("uploads", "")

		req, err := c.newRequest(st, requestInput{
			method:      http.MethodPost,
			path:        objectPath(st, key),
			query:       query,
			meta:        opts.Meta,
			contentType: opts.ContentType,
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

		var result InitiateMultipartUploadResult
		if err := xml.Unmarshal(body, &result); err != nil {
			return fmt.Errorf("%s: parsing response: %w", op, err)
		}
		if result.UploadId == "" {
			return &ProtocolError{Op: op, Field: "UploadId"}
		}

		uploadID = result.UploadId
		return nil
	})
	return uploadID, err
}

// putPart uploads one numbered part through the retry coordinator, with its
// own checksumming stream and ETag verification per attempt.
func (c *Client) putPart(ctx context.Context, st settings, key, uploadID string, number int, src ContentSource, length int64) (etag string, sent int64, err error) {
	op := fmt.Sprintf("put %s part %d", key, number)

	err = c.retrier(st).Do(ctx, func(ctx context.Context) error {
		cr, err := newChecksumReader(ctx, src, length, st.readSize)
		if err != nil {
			return err
		}

		clock := &progressClock{}
		tctx, stop := watchStall(ctx, clock, st.stallTimeout)
		defer stop()

		query := url.Values{}
		query.Set("partNumber", strconv.Itoa(number))
		query.Set("uploadId", uploadID)

		req, err := c.newRequest(st, requestInput{
			method: http.MethodPut,
			path:   objectPath(st, key),
			query:  query,
			length: length,
			body:   &progressReader{r: cr, clock: clock},
		})
		if err != nil {
			return err
		}
		if length > 0 {
			req.Header.Set("Expect", "100-continue")
		}
		req = req.WithContext(tctx)

		resp, err := c.transport().Do(req)
		if err != nil {
			return transferErr(tctx, op, err)
		}
		if err := checkResponse(op, resp); err != nil {
			return err
		}
		drainClose(resp.Body)

		tag, err := verifyETag(key, resp, cr.SumHex())
		if err != nil {
			return err
		}

		etag = tag
		sent = cr.BytesEmitted()
		return nil
	})
	return etag, sent, err
}

// completeUpload POSTs the completion manifest, parts in ascending number
// order, with a base64 Content-MD5 of the exact manifest body.
func (c *Client) completeUpload(ctx context.Context, st settings, key, uploadID string, records []CompletePart) (string, error) {
	op := "complete upload " + key

	manifest, err := xml.Marshal(CompleteMultipartUpload{Parts: records})
	if err != nil {
		return "", err
	}

	sum := md5.Sum(manifest)
	contentMD5 := base64.StdEncoding.EncodeToString(sum[:])

	var etag string
	err = c.retrier(st).Do(ctx, func(ctx context.Context) error {
		tctx, cancel := context.WithTimeout(ctx, st.timeout)
		defer cancel()

		query := url.Values{}
		query.Set("uploadId", uploadID)

		req, err := c.newRequest(st, requestInput{
			method:      http.MethodPost,
			path:        objectPath(st, key),
			query:       query,
			contentType: "application/xml",
			contentMD5:  contentMD5,
			length:      int64(len(manifest)),
			body:        bytes.NewReader(manifest),
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

		var result CompleteMultipartUploadResult
		if err := xml.Unmarshal(body, &result); err != nil {
			return fmt.Errorf("%s: parsing response: %w", op, err)
		}
		if result.ETag == "" {
			return &ProtocolError{Op: op, Field: "ETag"}
		}

		etag = result.ETag
		return nil
	})
	return etag, err
}
