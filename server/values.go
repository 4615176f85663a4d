package server

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"io/ioutil"
	"log"
	"net/http"
	"strconv"
	"strings"

	raven "github.com/getsentry/raven-go"
	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"

	"github.com/ndlib/chunkkv/store"
	"github.com/ndlib/chunkkv/transport"
)

// namespace returns the part of the store holding the namespace named in
// the request.
func (s *RESTServer) namespace(ps httprouter.Params) store.Store {
	return store.NewWithPrefix(s.Store, ps.ByName("namespace")+"/")
}

// keyParam extracts the key from the catch-all route parameter.
func keyParam(ps httprouter.Params) string {
	return strings.TrimPrefix(ps.ByName("key"), "/")
}

// GetValueHandler handles requests to GET .../values/*key
func (s *RESTServer) GetValueHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	key := keyParam(ps)
	if key == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "missing key")
		return
	}
	v, err := s.namespace(ps).Get(r.Context(), key)
	if err == store.ErrNotExist {
		writeError(w, http.StatusNotFound, codeNotFound, "key not found")
		return
	} else if err != nil {
		s.internalError(w, r, key, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(v)))
	w.WriteHeader(http.StatusOK)
	w.Write(v)
}

// PutValueHandler handles requests to PUT .../values/*key
func (s *RESTServer) PutValueHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	key := keyParam(ps)
	if key == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "missing key")
		return
	}
	opts, err := parseExpiration(r.URL.Query().Get("expiration"), r.URL.Query().Get("expiration_ttl"))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "%s", err.Error())
		return
	}
	// read one byte past the ceiling so an oversized body can be detected
	// without reading all of it
	value, err := ioutil.ReadAll(io.LimitReader(r.Body, int64(s.MaxValueSize)+1))
	r.Body.Close()
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "%s", err.Error())
		return
	}
	if len(value) > s.MaxValueSize {
		writeError(w, http.StatusRequestEntityTooLarge, codeTooLarge,
			"value exceeds %d bytes", s.MaxValueSize)
		return
	}
	err = s.namespace(ps).Put(r.Context(), key, value, opts.Deadline(s.Clock.Now()))
	if err == store.ErrTooLarge {
		writeError(w, http.StatusRequestEntityTooLarge, codeTooLarge, "value too large")
		return
	} else if err != nil {
		s.internalError(w, r, key, err)
		return
	}
	writeSuccess(w, nil, nil)
}

// DeleteValueHandler handles requests to DELETE .../values/*key
func (s *RESTServer) DeleteValueHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	key := keyParam(ps)
	if key == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "missing key")
		return
	}
	err := s.namespace(ps).Delete(r.Context(), key)
	if err == store.ErrNotExist {
		writeError(w, http.StatusNotFound, codeNotFound, "key not found")
		return
	} else if err != nil {
		s.internalError(w, r, key, err)
		return
	}
	writeSuccess(w, nil, nil)
}

// bulkEntry is the form of one entry in a bulk write request body.
type bulkEntry struct {
	Key           string `json:"key"`
	Value         string `json:"value"`
	Base64        bool   `json:"base64"`
	Expiration    int64  `json:"expiration"`
	ExpirationTTL int64  `json:"expiration_ttl"`
}

// BulkHandler handles requests to PUT .../bulk. Every entry is checked
// before any is written, so a malformed request writes nothing. A store
// failure partway through can still leave some entries written.
func (s *RESTServer) BulkHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var entries []bulkEntry
	err := json.NewDecoder(r.Body).Decode(&entries)
	r.Body.Close()
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "bad request body: %s", err.Error())
		return
	}
	if len(entries) > s.MaxBulkPairs {
		writeError(w, http.StatusBadRequest, codeBadRequest,
			"too many entries: %d > %d", len(entries), s.MaxBulkPairs)
		return
	}
	values := make([][]byte, len(entries))
	for i, e := range entries {
		if e.Key == "" {
			writeError(w, http.StatusBadRequest, codeBadRequest, "entry %d has no key", i)
			return
		}
		if e.Base64 {
			values[i], err = base64.StdEncoding.DecodeString(e.Value)
			if err != nil {
				writeError(w, http.StatusBadRequest, codeBadRequest, "entry %s: %s", e.Key, err.Error())
				return
			}
		} else {
			values[i] = []byte(e.Value)
		}
		if len(values[i]) > s.MaxValueSize {
			writeError(w, http.StatusRequestEntityTooLarge, codeTooLarge,
				"entry %s exceeds %d bytes", e.Key, s.MaxValueSize)
			return
		}
	}
	ns := s.namespace(ps)
	now := s.Clock.Now()
	for i, e := range entries {
		opts := transport.PutOptions{Expiration: e.Expiration, ExpirationTTL: e.ExpirationTTL}
		err := ns.Put(r.Context(), e.Key, values[i], opts.Deadline(now))
		if err != nil {
			s.internalError(w, r, e.Key, err)
			return
		}
	}
	writeSuccess(w, nil, nil)
}

type keyResult struct {
	Name       string `json:"name"`
	Expiration int64  `json:"expiration,omitempty"`
}

type keyResultInfo struct {
	Count  int    `json:"count"`
	Cursor string `json:"cursor"`
}

// ListKeysHandler handles requests to GET .../keys
func (s *RESTServer) ListKeysHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	q := r.URL.Query()
	limit := store.DefaultListLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > store.DefaultListLimit {
			writeError(w, http.StatusBadRequest, codeBadRequest, "bad limit %q", v)
			return
		}
		limit = n
	}
	keys, next, err := s.namespace(ps).List(r.Context(), q.Get("prefix"), q.Get("cursor"), limit)
	if err != nil {
		s.internalError(w, r, "", err)
		return
	}
	result := make([]keyResult, 0, len(keys))
	for _, k := range keys {
		kr := keyResult{Name: k.Name}
		if !k.Expiration.IsZero() {
			kr.Expiration = k.Expiration.Unix()
		}
		result = append(result, kr)
	}
	writeSuccess(w, result, keyResultInfo{Count: len(result), Cursor: next})
}

var errBadExpiration = errors.New("expiration must be a positive integer")

// parseExpiration reads the expiration query parameters of a write.
func parseExpiration(expiration, ttl string) (transport.PutOptions, error) {
	var opts transport.PutOptions
	var err error
	if expiration != "" {
		opts.Expiration, err = strconv.ParseInt(expiration, 10, 64)
		if err != nil || opts.Expiration <= 0 {
			return opts, errBadExpiration
		}
	}
	if ttl != "" {
		opts.ExpirationTTL, err = strconv.ParseInt(ttl, 10, 64)
		if err != nil || opts.ExpirationTTL <= 0 {
			return opts, errBadExpiration
		}
	}
	return opts, nil
}

func (s *RESTServer) internalError(w http.ResponseWriter, r *http.Request, key string, err error) {
	log.Println(r.Method, r.URL, err)
	raven.CaptureError(err, map[string]string{"Method": r.Method, "Key": key})
	writeError(w, http.StatusInternalServerError, codeInternal, "%s", err.Error())
}
