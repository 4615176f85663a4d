package kvapi

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pkg/errors"

	"github.com/ndlib/chunkkv/transport"
)

// Get returns the value stored at key.
func (c *Connection) Get(ctx context.Context, key string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.valueURL(key), nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, false, requestError("get", key, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case 200:
		data, err := ioutil.ReadAll(resp.Body)
		if err != nil {
			return nil, false, requestError("get", key, err)
		}
		if data == nil {
			data = []byte{}
		}
		return data, true, nil
	case 404:
		return nil, false, nil
	default:
		body, _ := ioutil.ReadAll(io.LimitReader(resp.Body, maxEnvelopeSize))
		return nil, false, statusError(resp.StatusCode, "get", key, body)
	}
}

// Put writes value at key.
func (c *Connection) Put(ctx context.Context, key string, value []byte, opts transport.PutOptions) error {
	u := c.valueURL(key)
	if q := expirationQuery(opts); q != "" {
		u += "?" + q
	}
	req, err := http.NewRequestWithContext(ctx, "PUT", u, bytes.NewReader(value))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := c.do(req)
	if err != nil {
		return requestError("put", key, err)
	}
	defer resp.Body.Close()
	_, err = readEnvelope(resp, "put", key)
	return err
}

// Delete removes key. A 404 from the service means there was nothing to
// delete.
func (c *Connection) Delete(ctx context.Context, key string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, "DELETE", c.valueURL(key), nil)
	if err != nil {
		return false, err
	}
	resp, err := c.do(req)
	if err != nil {
		return false, requestError("delete", key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == 404 {
		return false, nil
	}
	if _, err := readEnvelope(resp, "delete", key); err != nil {
		return false, err
	}
	return true, nil
}

func expirationQuery(opts transport.PutOptions) string {
	q := url.Values{}
	if opts.Expiration > 0 {
		q.Set("expiration", strconv.FormatInt(opts.Expiration, 10))
	}
	if opts.ExpirationTTL > 0 {
		q.Set("expiration_ttl", strconv.FormatInt(opts.ExpirationTTL, 10))
	}
	return q.Encode()
}

// requestError wraps a failure to talk to the service at all. Cancellation is
// passed through as is.
func requestError(op, key string, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return context.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return context.DeadlineExceeded
	}
	return &transport.Error{Op: op, Key: key, Detail: err.Error(), Err: err}
}
