package s3

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Object is a fully resolved GET or HEAD result.
type Object struct {
	Body []byte // nil for Head and chunk-callback gets
	Head ObjectHead
	Meta map[string]string
}

// ObjectStream is the resolved header phase of a two-phase get: status,
// headers and user metadata are available immediately, the body phase
// completes via ReadAll or Stream. Exactly one of ReadAll, Stream or Close
// must be called.
type ObjectStream struct {
	Head ObjectHead
	Meta map[string]string

	op       string
	ctx      context.Context
	body     io.Reader
	closer   io.Closer
	readSize int
	stop     func()
}

// ReadAll drains the body phase into memory.
func (s *ObjectStream) ReadAll() ([]byte, error) {
	defer s.finish()

	var buf bytes.Buffer
	if s.Head.ContentLength > 0 {
		buf.Grow(int(s.Head.ContentLength))
	}
	if _, err := io.Copy(&buf, s.body); err != nil {
		return nil, transferErr(s.ctx, s.op, err)
	}
	return buf.Bytes(), nil
}

// Stream delivers the body phase as raw chunks paired with the resolved
// header, without accumulating. Chunks are at most the configured read size.
func (s *ObjectStream) Stream(onChunk func(head ObjectHead, chunk []byte) error) error {
	defer s.finish()

	buf := make([]byte, s.readSize)
	for {
		n, err := s.body.Read(buf)
		if n > 0 {
			if cbErr := onChunk(s.Head, buf[:n]); cbErr != nil {
				return cbErr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return transferErr(s.ctx, s.op, err)
		}
	}
}

// Close abandons the body phase.
func (s *ObjectStream) Close() error {
	s.finish()
	return nil
}

func (s *ObjectStream) finish() {
	s.stop()
	s.closer.Close()
}

// metaFromHeader builds the user metadata mapping from all X-Amz-Meta-*
// fields, case-insensitive, stripped of the prefix.
func metaFromHeader(header http.Header) map[string]string {
	meta := make(map[string]string)
	for name, vals := range header {
		if len(name) > len("X-Amz-Meta-") && strings.EqualFold(name[:len("X-Amz-Meta-")], "X-Amz-Meta-") {
			meta[name[len("X-Amz-Meta-"):]] = vals[0]
		}
	}
	return meta
}

// openObject issues one GET/HEAD attempt and resolves the header phase. Any
// failure before the headers arrive is returned here; failures while the
// body streams surface from the ObjectStream.
func (c *Client) openObject(ctx context.Context, st settings, method, key string) (*ObjectStream, error) {
	op := strings.ToLower(method) + " " + key

	clock := &progressClock{}
	tctx, stop := watchStall(ctx, clock, st.stallTimeout)

	req, err := c.newRequest(st, requestInput{method: method, path: objectPath(st, key)})
	if err != nil {
		stop()
		return nil, err
	}
	req = req.WithContext(tctx)

	resp, err := c.transport().Do(req)
	if err != nil {
		stop()
		return nil, transferErr(tctx, op, err)
	}
	if err := checkResponse(op, resp); err != nil {
		stop()
		return nil, err
	}

	return &ObjectStream{
		Head:     headFromResponse(resp),
		Meta:     metaFromHeader(resp.Header),
		op:       op,
		ctx:      tctx,
		body:     &progressReader{r: resp.Body, clock: clock},
		closer:   resp.Body,
		readSize: st.readSize,
		stop:     stop,
	}, nil
}

// Get fetches an object, accumulating the body. The whole exchange is
// retried on transient failures.
func (c *Client) Get(ctx context.Context, key string) (*Object, error) {
	st := c.snapshot()
	reqID := uuid.NewString()
	slog.Debug("Getting object", "key", key, "request_id", reqID)

	var obj *Object
	err := c.retrier(st).Do(ctx, func(ctx context.Context) error {
		stream, err := c.openObject(ctx, st, http.MethodGet, key)
		if err != nil {
			return err
		}
		body, err := stream.ReadAll()
		if err != nil {
			return err
		}
		obj = &Object{Body: body, Head: stream.Head, Meta: stream.Meta}
		return nil
	})
	if err != nil {
		slog.Debug("Get failed", "key", key, "request_id", reqID, "error", err)
		return nil, err
	}
	return obj, nil
}

// GetStream fetches an object, delivering the body to onChunk per raw chunk
// paired with the header, never as a reassembled whole. A transient failure
// retries the whole exchange; onChunk may then observe chunks again from the
// start.
func (c *Client) GetStream(ctx context.Context, key string, onChunk func(head ObjectHead, chunk []byte) error) (*Object, error) {
	st := c.snapshot()

	var obj *Object
	err := c.retrier(st).Do(ctx, func(ctx context.Context) error {
		stream, err := c.openObject(ctx, st, http.MethodGet, key)
		if err != nil {
			return err
		}
		if err := stream.Stream(onChunk); err != nil {
			return err
		}
		obj = &Object{Head: stream.Head, Meta: stream.Meta}
		return nil
	})
	return obj, err
}

// Head fetches object headers and metadata with the HTTP HEAD method.
func (c *Client) Head(ctx context.Context, key string) (*Object, error) {
	st := c.snapshot()

	var obj *Object
	err := c.retrier(st).Do(ctx, func(ctx context.Context) error {
		stream, err := c.openObject(ctx, st, http.MethodHead, key)
		if err != nil {
			return err
		}
		stream.Close()
		obj = &Object{Head: stream.Head, Meta: stream.Meta}
		return nil
	})
	return obj, err
}

// HeadThenGet resolves the header phase as soon as status and headers
// arrive, so the caller can act on metadata before the body finishes.
// Retries apply up to the header phase only; a failure while the body
// streams fails the body phase and leaves the resolved header untouched.
func (c *Client) HeadThenGet(ctx context.Context, key string) (*ObjectStream, error) {
	st := c.snapshot()

	var stream *ObjectStream
	err := c.retrier(st).Do(ctx, func(ctx context.Context) error {
		s, err := c.openObject(ctx, st, http.MethodGet, key)
		if err != nil {
			return err
		}
		stream = s
		return nil
	})
	return stream, err
}
