// Package kvapi is the remote transport. A Connection speaks the REST API of
// a hosted key-value service, authenticating every request, and satisfies
// transport.Transport.
//
// The API paths are relative to
//
//	{HostURL}/accounts/{account}/storage/kv/namespaces/{namespace}
//
// and are
//
//	GET    /values/{key}                 raw value, 404 if missing
//	PUT    /values/{key}?expiration=&expiration_ttl=
//	DELETE /values/{key}
//	PUT    /bulk                         JSON list of entries
//	GET    /keys?prefix=&cursor=&limit=
//
// Everything except a successful value read answers with a JSON envelope
// carrying a "success" flag and a list of errors.
package kvapi

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/ndlib/chunkkv/transport"
)

// DefaultHostURL is used when a Connection has no HostURL.
const DefaultHostURL = "https://api.cloudflare.com/client/v4"

// MaxBulkPairs is the most entries the service accepts in one bulk write.
const MaxBulkPairs = 10000

// Exported errors
var (
	ErrTooManyPairs = errors.New("too many pairs for one bulk write")
	ErrNoCredential = errors.New("no credentials given")
)

// Credentials authenticate requests. Set either Token, which is sent as a
// bearer token, or both Email and Key.
type Credentials struct {
	Token string
	Email string
	Key   string
}

// Valid reports whether c has enough to authenticate with.
func (c Credentials) Valid() bool {
	return c.Token != "" || (c.Email != "" && c.Key != "")
}

// A Connection represents a connection with one namespace of the service.
// It can be shared between multiple goroutines. Do not change its fields
// after first use.
type Connection struct {
	HostURL     string
	AccountID   string
	NamespaceID string
	Credentials Credentials

	// Client is used for every request. If nil a client with a long
	// timeout is made on first use.
	Client *http.Client

	initOnce sync.Once
}

var (
	// ensure Connection satisfies the Transport interface
	_ transport.Transport = &Connection{}
)

// New returns a Connection for the given namespace. An empty hostURL uses
// DefaultHostURL.
func New(hostURL, accountID, namespaceID string, cred Credentials) (*Connection, error) {
	if !cred.Valid() {
		return nil, ErrNoCredential
	}
	return &Connection{
		HostURL:     hostURL,
		AccountID:   accountID,
		NamespaceID: namespaceID,
		Credentials: cred,
	}, nil
}

func (c *Connection) init() {
	c.initOnce.Do(func() {
		if c.HostURL == "" {
			c.HostURL = DefaultHostURL
		}
		c.HostURL = strings.TrimSuffix(c.HostURL, "/")
		if c.Client == nil {
			c.Client = &http.Client{
				Timeout: 10 * time.Minute, // arbitrary
			}
		}
	})
}

// namespaceURL returns the base of every path for this connection.
func (c *Connection) namespaceURL() string {
	c.init()
	return c.HostURL +
		"/accounts/" + url.PathEscape(c.AccountID) +
		"/storage/kv/namespaces/" + url.PathEscape(c.NamespaceID)
}

func (c *Connection) valueURL(key string) string {
	return c.namespaceURL() + "/values/" + url.PathEscape(key)
}

// do performs an http request using our client, after adding the
// authentication headers. The client timeout is only there so we don't hang
// indefinitely should the server never close the connection.
func (c *Connection) do(req *http.Request) (*http.Response, error) {
	c.init()
	cred := c.Credentials
	if cred.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cred.Token)
	} else {
		req.Header.Set("X-Auth-Email", cred.Email)
		req.Header.Set("X-Auth-Key", cred.Key)
	}
	return c.Client.Do(req)
}
