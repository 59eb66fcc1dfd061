package s3

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// Transport is the minimal do-request contract the client consumes.
// *http.Client satisfies it.
type Transport interface {
	Do(req *http.Request) (*http.Response, error)
}

// progressClock records the wall time of the last transfer progress, shared
// between a body reader and the stall watcher.
type progressClock struct {
	last atomic.Int64
}

func (p *progressClock) touch() {
	p.last.Store(time.Now().UnixNano())
}

func (p *progressClock) idle() time.Duration {
	return time.Since(time.Unix(0, p.last.Load()))
}

// progressReader reports every successful read to the clock and an optional
// per-chunk callback.
type progressReader struct {
	r       io.Reader
	clock   *progressClock
	onBytes func(n int64)
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 {
		pr.clock.touch()
		if pr.onBytes != nil {
			pr.onBytes(int64(n))
		}
	}
	return n, err
}

// watchStall returns a context that is cancelled with cause ErrStalled when
// no progress is observed on the clock for longer than the window. The
// returned stop function must be called once the transfer has settled.
func watchStall(parent context.Context, clock *progressClock, window time.Duration) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(parent)
	if window <= 0 {
		return ctx, func() { cancel(nil) }
	}

	clock.touch()

	interval := window / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if clock.idle() > window {
					cancel(ErrStalled)
					return
				}
			}
		}
	}()

	return ctx, func() { cancel(nil) }
}

// transferErr maps a cancellation caused by the stall watcher back to
// ErrStalled so the retry coordinator classifies it as transient.
func transferErr(ctx context.Context, op string, err error) error {
	if cause := context.Cause(ctx); cause != nil && errors.Is(cause, ErrStalled) {
		return fmt.Errorf("%s: %w", op, ErrStalled)
	}
	return err
}

// checkResponse converts a non-2xx response into a RequestError, pulling the
// S3 error code from the XML body when one is present. The response body is
// consumed and closed on failure.
func checkResponse(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	defer resp.Body.Close()

	reqErr := &RequestError{Op: op, StatusCode: resp.StatusCode}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err == nil && len(body) > 0 {
		var s3err S3ErrorResponse
		if xml.Unmarshal(body, &s3err) == nil {
			reqErr.Code = s3err.Code
			reqErr.Message = s3err.Message
		}
	}

	return reqErr
}

// drainClose discards any unread body so the connection can be reused.
func drainClose(body io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(body, 64*1024))
	body.Close()
}
