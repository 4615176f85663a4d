// Package server exposes a store.Store through the same REST API that the
// kvapi transport speaks. It is useful for running a shared backend for
// several processes, and for testing the remote transport against a real
// HTTP endpoint.
package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/facebookgo/clock"
	"github.com/facebookgo/httpdown"
	"github.com/julienschmidt/httprouter"

	"github.com/ndlib/chunkkv/store"
)

// Version is reported at startup and by the welcome page.
var Version = "0.1.0"

// RESTServer holds the configuration for a key-value REST API server.
//
// Set all the public fields and then call Run. Run will listen on the given
// port and handle requests. Do not change any fields after calling Run or
// Handler.
type RESTServer struct {
	// Port number to listen on. defaults to 14001
	PortNumber string

	// Store holds every namespace. Each namespace is kept under the key
	// prefix "<namespace>/". Run will panic if Store is nil.
	Store store.Store

	// AccountID, if set, is the only account accepted in request paths.
	AccountID string

	// MaxValueSize is the per-entry ceiling. Larger values are refused
	// with status 413. Defaults to DefaultMaxValueSize.
	MaxValueSize int

	// MaxBulkPairs is the most entries accepted in one bulk write.
	// Defaults to DefaultMaxBulkPairs.
	MaxBulkPairs int

	// Validator does authentication by validating any user tokens
	// presented to the API. If this is nil then no authentication will be
	// done.
	Validator TokenValidator

	// Clock turns relative expirations into absolute ones.
	Clock clock.Clock

	server   httpdown.Server // used to close our listening socket
	initOnce sync.Once
}

const (
	DefaultPort         = "14001"
	DefaultMaxValueSize = 25 * 1024 * 1024
	DefaultMaxBulkPairs = 10000
)

// Run initializes the server and then blocks listening for and handling
// http requests.
func (s *RESTServer) Run() error {
	log.Println("==========")
	log.Printf("Starting KV Server version %s", Version)

	if s.Store == nil {
		panic("No base storage given. Store is nil.")
	}
	s.init()
	log.Printf("MaxValueSize = %d", s.MaxValueSize)
	log.Printf("MaxBulkPairs = %d", s.MaxBulkPairs)
	log.Println("Listening on", s.PortNumber)

	var err error
	h := httpdown.HTTP{}
	s.server, err = h.ListenAndServe(&http.Server{
		Addr:    ":" + s.PortNumber,
		Handler: s.Handler(),
	})
	if err != nil {
		log.Println(err)
		return err
	}
	return s.server.Wait()
}

// Stop closes the listening socket and returns once the in-flight requests
// have finished.
func (s *RESTServer) Stop() error {
	if s.server == nil {
		return nil
	}
	return s.server.Stop()
}

func (s *RESTServer) init() {
	s.initOnce.Do(func() {
		if s.PortNumber == "" {
			s.PortNumber = DefaultPort
		}
		if s.MaxValueSize <= 0 {
			s.MaxValueSize = DefaultMaxValueSize
		}
		if s.MaxBulkPairs <= 0 {
			s.MaxBulkPairs = DefaultMaxBulkPairs
		}
		if s.Validator == nil {
			log.Println("No Validator given")
			s.Validator = NobodyValidator{}
		}
		if s.Clock == nil {
			s.Clock = clock.New()
		}
	})
}

// Handler returns the routes of this server. It may be used with an
// httptest.Server instead of calling Run.
func (s *RESTServer) Handler() http.Handler {
	s.init()
	const ns = "/accounts/:account/storage/kv/namespaces/:namespace"
	var routes = []struct {
		method  string
		route   string
		role    Role // RoleUnknown means no API key is needed to access
		handler httprouter.Handle
	}{
		{"GET", ns + "/values/*key", RoleRead, s.GetValueHandler},
		{"PUT", ns + "/values/*key", RoleWrite, s.PutValueHandler},
		{"DELETE", ns + "/values/*key", RoleWrite, s.DeleteValueHandler},
		{"PUT", ns + "/bulk", RoleWrite, s.BulkHandler},
		{"GET", ns + "/keys", RoleRead, s.ListKeysHandler},

		// other
		{"GET", "/", RoleUnknown, s.welcomeHandler},
	}

	r := httprouter.New()
	for _, route := range routes {
		r.Handle(route.method,
			route.route,
			logWrapper(s.authzWrapper(route.handler, route.role)))
	}
	return r
}

// General route handlers and convenience functions

// welcomeHandler reports the server version, so a client can check it has
// found a server without any credentials.
func (s *RESTServer) welcomeHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	writeSuccess(w, map[string]string{"server": "kvserver", "version": Version}, nil)
}

// apiError is one entry in the "errors" list of an envelope.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type envelope struct {
	Success    bool        `json:"success"`
	Errors     []apiError  `json:"errors"`
	Messages   []string    `json:"messages"`
	Result     interface{} `json:"result"`
	ResultInfo interface{} `json:"result_info,omitempty"`
}

// error codes used in envelopes
const (
	codeInternal   = 10001
	codeBadRequest = 10002
	codeNotFound   = 10009
	codeTooLarge   = 10011
	codeForbidden  = 10000
)

func writeEnvelope(w http.ResponseWriter, status int, env envelope) {
	if env.Errors == nil {
		env.Errors = []apiError{}
	}
	if env.Messages == nil {
		env.Messages = []string{}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}

func writeSuccess(w http.ResponseWriter, result, info interface{}) {
	writeEnvelope(w, http.StatusOK, envelope{Success: true, Result: result, ResultInfo: info})
}

func writeError(w http.ResponseWriter, status int, code int, format string, args ...interface{}) {
	writeEnvelope(w, status, envelope{
		Errors: []apiError{{Code: code, Message: fmt.Sprintf(format, args...)}},
	})
}

// authzWrapper returns a Handler which will first verify the user token as
// having at least the given Role. The user name is added as a parameter
// "username". Requests for an account other than AccountID are refused.
func (s *RESTServer) authzWrapper(handler httprouter.Handle, leastRole Role) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if account := ps.ByName("account"); s.AccountID != "" && account != "" && account != s.AccountID {
			writeError(w, http.StatusNotFound, codeNotFound, "no account %s", account)
			return
		}
		user, role, err := s.Validator.TokenValid(requestToken(r))
		if err != nil {
			writeError(w, http.StatusInternalServerError, codeInternal, "%s", err.Error())
			return
		}

		// is role valid?
		if role < leastRole {
			writeError(w, http.StatusUnauthorized, codeForbidden, "Forbidden")
			return
		}

		// remove any previous username
		for i := range ps {
			if ps[i].Key == "username" {
				ps[i].Value = user
				goto out
			}
		}
		// add a new username if none found
		ps = append(ps, httprouter.Param{Key: "username", Value: user})
	out:
		handler(w, r, ps)
	}
}

// logWrapper takes a handler and returns a handler which does the same thing,
// after first logging the request URL.
func logWrapper(handler httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		log.Println(r.Method, r.URL)
		handler(w, r, ps)
	}
}
