package kvapi

import (
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"net/http"

	"github.com/antonholmquist/jason"

	"github.com/ndlib/chunkkv/transport"
)

// readEnvelope parses the JSON envelope in resp. A response which is not a
// successful envelope is returned as a *transport.Error for op and key.
func readEnvelope(resp *http.Response, op, key string) (*jason.Object, error) {
	body, err := ioutil.ReadAll(io.LimitReader(resp.Body, maxEnvelopeSize))
	if err != nil {
		return nil, &transport.Error{Op: op, Key: key, Status: resp.StatusCode, Detail: err.Error(), Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, op, key, body)
	}
	v, err := jason.NewObjectFromBytes(body)
	if err != nil {
		return nil, &transport.Error{Op: op, Key: key, Status: resp.StatusCode, Detail: "malformed response: " + err.Error(), Err: err}
	}
	success, err := v.GetBoolean("success")
	if err != nil || !success {
		detail := envelopeMessage(v)
		if detail == "" {
			detail = "response not marked successful"
		}
		return nil, &transport.Error{Op: op, Key: key, Status: resp.StatusCode, Detail: detail}
	}
	return v, nil
}

// the most of an envelope we will read. Key listings are the largest.
const maxEnvelopeSize = 64 * 1024 * 1024

// envelopeMessage returns the first error message in v, if there is one.
func envelopeMessage(v *jason.Object) string {
	errs, err := v.GetObjectArray("errors")
	if err != nil || len(errs) == 0 {
		return ""
	}
	msg, _ := errs[0].GetString("message")
	if code, err := errs[0].GetInt64("code"); err == nil {
		return fmt.Sprintf("%s (code %d)", msg, code)
	}
	return msg
}

// statusError makes an error for a response we did not expect, using the
// envelope message from body if there is one.
func statusError(status int, op, key string, body []byte) error {
	log.Printf("Received HTTP status %d for %s %s", status, op, key)
	detail := http.StatusText(status)
	if v, err := jason.NewObjectFromBytes(body); err == nil {
		if msg := envelopeMessage(v); msg != "" {
			detail = msg
		}
	}
	return &transport.Error{Op: op, Key: key, Status: status, Detail: detail}
}
