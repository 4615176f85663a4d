package kvapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ndlib/chunkkv/transport"
)

// BulkEntry is the wire form of one entry in a bulk write. Values are always
// sent base64 encoded so arbitrary bytes survive the JSON.
type BulkEntry struct {
	Key           string `json:"key"`
	Value         string `json:"value"`
	Base64        bool   `json:"base64,omitempty"`
	Expiration    int64  `json:"expiration,omitempty"`
	ExpirationTTL int64  `json:"expiration_ttl,omitempty"`
}

// PutMulti writes all the pairs with one request. Whether a partial write is
// possible is up to the service.
func (c *Connection) PutMulti(ctx context.Context, pairs []transport.Pair) error {
	if len(pairs) > MaxBulkPairs {
		return ErrTooManyPairs
	}
	entries := make([]BulkEntry, len(pairs))
	for i, p := range pairs {
		entries[i] = BulkEntry{
			Key:           p.Key,
			Value:         base64.StdEncoding.EncodeToString(p.Value),
			Base64:        true,
			Expiration:    p.Options.Expiration,
			ExpirationTTL: p.Options.ExpirationTTL,
		}
	}
	buf, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, "PUT", c.namespaceURL()+"/bulk", bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.do(req)
	if err != nil {
		return requestError("bulk", "", err)
	}
	defer resp.Body.Close()
	_, err = readEnvelope(resp, "bulk", "")
	return err
}

// List returns one page of key names.
func (c *Connection) List(ctx context.Context, opts transport.ListOptions) (transport.ListResult, error) {
	u := c.namespaceURL() + "/keys"
	q := url.Values{}
	if opts.Prefix != "" {
		q.Set("prefix", opts.Prefix)
	}
	if opts.Cursor != "" {
		q.Set("cursor", opts.Cursor)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var result transport.ListResult
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return result, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.do(req)
	if err != nil {
		return result, requestError("list", "", err)
	}
	defer resp.Body.Close()
	v, err := readEnvelope(resp, "list", "")
	if err != nil {
		return result, err
	}

	items, _ := v.GetObjectArray("result")
	result.Keys = make([]transport.Key, 0, len(items))
	for _, item := range items {
		name, err := item.GetString("name")
		if err != nil {
			continue
		}
		exp, _ := item.GetInt64("expiration")
		result.Keys = append(result.Keys, transport.Key{Name: name, Expiration: exp})
	}
	result.Count = len(result.Keys)
	if info, err := v.GetObject("result_info"); err == nil {
		result.Cursor, _ = info.GetString("cursor")
	}
	return result, nil
}
