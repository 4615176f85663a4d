package chunkkv

import (
	"net/http"

	"github.com/ndlib/chunkkv/kvapi"
	"github.com/ndlib/chunkkv/store"
	"github.com/ndlib/chunkkv/transport"
)

// Config describes how to reach a backend. Set Binding to use a store in
// this process. Otherwise the remote service is used, and AccountID,
// NamespaceID and Credentials are required.
type Config struct {
	Binding store.Store

	HostURL     string // defaults to kvapi.DefaultHostURL
	AccountID   string
	NamespaceID string
	Credentials *kvapi.Credentials

	// HTTPClient, if set, is used for every request to the remote service.
	HTTPClient *http.Client

	// BlockSize is the size above which values are split. It must not be
	// more than the backend's entry ceiling. Defaults to DefaultBlockSize.
	BlockSize int
}

// New returns an Engine for the backend described by config.
func New(config Config) (*Engine, error) {
	if config.Binding != nil {
		return NewWithTransport(transport.NewLocal(config.Binding), config.BlockSize), nil
	}
	if config.AccountID == "" || config.NamespaceID == "" || config.Credentials == nil {
		return nil, ErrMissingConfig
	}
	conn, err := kvapi.New(config.HostURL, config.AccountID, config.NamespaceID, *config.Credentials)
	if err != nil {
		return nil, err
	}
	if config.HTTPClient != nil {
		conn.Client = config.HTTPClient
	}
	return NewWithTransport(conn, config.BlockSize), nil
}
