package s3

import (
	"context"
	"log/slog"
	"net/http"
)

// Delete removes an object. Success is any 2xx response with an empty body.
func (c *Client) Delete(ctx context.Context, key string) error {
	st := c.snapshot()
	op := "delete " + key

	return c.retrier(st).Do(ctx, func(ctx context.Context) error {
		tctx, cancel := context.WithTimeout(ctx, st.timeout)
		defer cancel()

		req, err := c.newRequest(st, requestInput{
			method: http.MethodDelete,
			path:   objectPath(st, key),
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
		drainClose(resp.Body)

		slog.Debug("Deleted object", "key", key)
		return nil
	})
}
