package s3

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/mulgadc/s3stream/utils"
)

// PutOptions selects the content producer for an upload. Exactly one of
// Body, Source (with Length), or Parts must be set.
type PutOptions struct {
	ContentType string
	Meta        map[string]string

	// Body uploads fixed content.
	Body []byte

	// Source uploads Length bytes pulled from a content source. A source
	// that under-produces is zero-padded, one that over-produces is
	// truncated. Generators must be restartable from position zero; a
	// retry after a transient failure re-drains from the start.
	Source ContentSource
	Length int64

	// Parts supplies explicit multipart content, one source per part.
	Parts PartsFunc

	// OnProgress is invoked with the cumulative bytes written during the
	// current attempt.
	OnProgress func(written int64)
}

var etagHexShape = regexp.MustCompile(`^"[0-9a-fA-F]{32}"$`)

// Put uploads an object, transparently splitting content larger than the
// configured part size into a multipart upload. The returned ETag is the
// service's; BytesWritten is the total body bytes sent.
func (c *Client) Put(ctx context.Context, key string, opts PutOptions) (*PutResult, error) {
	st := c.snapshot()
	reqID := uuid.NewString()
	slog.Debug("Putting object", "key", key, "request_id", reqID)

	parts := opts.Parts
	if parts != nil && (opts.Body != nil || opts.Source != nil) {
		return nil, &ConfigError{Reason: "put accepts exactly one of Body, Source or Parts"}
	}
	if parts == nil {
		src, length, err := contentFromOptions(opts)
		if err != nil {
			return nil, err
		}
		if length > st.partSize*maxParts {
			return nil, &ConfigError{Reason: "content too large for maximum part count"}
		}
		if length <= st.partSize {
			return c.putSingle(ctx, st, key, opts, src, length)
		}
		parts = sliceParts(src, length, st.partSize)
	}

	// Pull ahead: resolve the first part, then probe for a second. A
	// single part (or none) short-circuits to a plain PUT; otherwise the
	// two pulled parts are replayed ahead of the original generator.
	first, err := nextPart(ctx, parts)
	if err != nil {
		return nil, err
	}
	if first == nil {
		return c.putSingle(ctx, st, key, opts, BytesSource(nil), 0)
	}

	second, err := nextPart(ctx, parts)
	if err != nil {
		return nil, err
	}
	if second == nil {
		length, err := partLength(first)
		if err != nil {
			return nil, err
		}
		return c.putSingle(ctx, st, key, opts, first, length)
	}

	return c.putMultipart(ctx, st, key, opts, replayParts([]ContentSource{first, second}, parts))
}

func contentFromOptions(opts PutOptions) (ContentSource, int64, error) {
	if opts.Body != nil {
		if opts.Source != nil {
			return nil, 0, &ConfigError{Reason: "put accepts exactly one of Body, Source or Parts"}
		}
		return BytesSource(opts.Body), int64(len(opts.Body)), nil
	}
	if opts.Source == nil {
		return nil, 0, &ConfigError{Reason: "put requires one of Body, Source or Parts"}
	}
	if opts.Length < 0 {
		return nil, 0, &ConfigError{Reason: "put source length must not be negative"}
	}
	return opts.Source, opts.Length, nil
}

// nextPart pulls and resolves the next part from a parts generator.
func nextPart(ctx context.Context, parts PartsFunc) (ContentSource, error) {
	src, err := parts(ctx)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, nil
	}
	return resolveSource(ctx, src)
}

// partLength determines the declared length of one part.
func partLength(src ContentSource) (int64, error) {
	switch s := src.(type) {
	case BytesSource:
		return int64(len(s)), nil
	case PartSource:
		return s.Length, nil
	default:
		return 0, &ProtocolError{Op: "generate part", Field: "part length"}
	}
}

// replayParts feeds already-pulled parts back into the sequence ahead of the
// original generator.
func replayParts(pulled []ContentSource, rest PartsFunc) PartsFunc {
	return func(ctx context.Context) (ContentSource, error) {
		if len(pulled) > 0 {
			src := pulled[0]
			pulled = pulled[1:]
			return src, nil
		}
		return rest(ctx)
	}
}

// sliceParts synthesizes a parts generator that slices a source into
// fixed-size windows, each re-based to start at zero for its own generator
// calls.
func sliceParts(src ContentSource, total, partSize int64) PartsFunc {
	var resolved ContentSource
	var offset int64

	return func(ctx context.Context) (ContentSource, error) {
		if resolved == nil {
			r, err := resolveSource(ctx, src)
			if err != nil {
				return nil, err
			}
			resolved = r
		}
		if offset >= total {
			return nil, nil
		}

		base := offset
		length := utils.MinInt64(partSize, total-offset)
		offset += length

		switch s := resolved.(type) {
		case BytesSource:
			var window []byte
			if base < int64(len(s)) {
				window = s[base:utils.MinInt64(base+length, int64(len(s)))]
			}
			return PartSource{Length: length, Gen: bytesGen(window)}, nil
		case GeneratorSource:
			return PartSource{Length: length, Gen: rebase(GeneratorFunc(s), base)}, nil
		case PartSource:
			return PartSource{Length: length, Gen: rebase(s.Gen, base)}, nil
		default:
			return nil, &ProtocolError{Op: "slice parts", Field: "known source variant"}
		}
	}
}

func bytesGen(b []byte) GeneratorFunc {
	return func(pos int64, max int) ([]byte, error) {
		if pos >= int64(len(b)) {
			return nil, nil
		}
		end := utils.MinInt64(pos+int64(max), int64(len(b)))
		return b[pos:end], nil
	}
}

func rebase(gen GeneratorFunc, base int64) GeneratorFunc {
	return func(pos int64, max int) ([]byte, error) {
		return gen(base+pos, max)
	}
}

// putSingle uploads content as one PUT, verifying the returned ETag against
// the locally computed digest. Each attempt rebuilds the request and drains
// a fresh checksumming stream.
func (c *Client) putSingle(ctx context.Context, st settings, key string, opts PutOptions, src ContentSource, length int64) (*PutResult, error) {
	op := "put " + key

	var result PutResult
	err := c.retrier(st).Do(ctx, func(ctx context.Context) error {
		cr, err := newChecksumReader(ctx, src, length, st.readSize)
		if err != nil {
			return err
		}

		clock := &progressClock{}
		tctx, stop := watchStall(ctx, clock, st.stallTimeout)
		defer stop()

		var written int64
		body := &progressReader{r: cr, clock: clock, onBytes: func(n int64) {
			written += n
			if opts.OnProgress != nil {
				opts.OnProgress(written)
			}
		}}

		req, err := c.newRequest(st, requestInput{
			method:      http.MethodPut,
			path:        objectPath(st, key),
			meta:        opts.Meta,
			contentType: opts.ContentType,
			length:      length,
			body:        body,
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

		etag, err := verifyETag(key, resp, cr.SumHex())
		if err != nil {
			return err
		}

		result = PutResult{ETag: etag, BytesWritten: cr.BytesEmitted()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// verifyETag checks the service ETag against the locally computed digest.
// A missing or malformed ETag, or a mismatch, is a transient integrity
// failure that triggers a full re-attempt.
func verifyETag(key string, resp *http.Response, wantHex string) (string, error) {
	etag := resp.Header.Get("ETag")
	if !etagHexShape.MatchString(etag) {
		return "", &IntegrityError{Key: key, Expected: wantHex}
	}
	if got := strings.Trim(etag, `"`); !strings.EqualFold(got, wantHex) {
		return "", &IntegrityError{Key: key, Expected: wantHex, Actual: got}
	}
	return etag, nil
}
