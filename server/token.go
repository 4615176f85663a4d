package server

import (
	"bufio"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// A TokenValidator maps an API token to a user and a role. A token which is
// not known gives the user "" and RoleUnknown. The error is only for a failed
// lookup, when the status of the token cannot be decided.
type TokenValidator interface {
	TokenValid(token string) (user string, role Role, err error)
}

// A Role orders what a token may do. Each role includes the ones before it.
type Role int

const (
	RoleUnknown Role = iota
	RoleRead
	RoleWrite
	RoleAdmin
)

var roleNames = map[string]Role{
	"read":  RoleRead,
	"write": RoleWrite,
	"admin": RoleAdmin,
}

// parseRole is case insensitive. Unrecognized names are RoleUnknown.
func parseRole(s string) Role {
	return roleNames[strings.ToLower(s)]
}

// requestToken finds the API token in a request. Either a bearer token or
// an X-Auth-Key header is accepted.
func requestToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		const bearer = "bearer "
		if len(auth) > len(bearer) && strings.ToLower(auth[:len(bearer)]) == bearer {
			return strings.TrimSpace(auth[len(bearer):])
		}
	}
	return r.Header.Get("X-Auth-Key")
}

// NobodyValidator accepts every token, as the admin user "nobody". It is
// used when a server is given no token list.
type NobodyValidator struct{}

func (NobodyValidator) TokenValid(token string) (user string, role Role, err error) {
	return "nobody", RoleAdmin, nil
}

// a grant is what a single token allows.
type grant struct {
	user string
	role Role
}

// tokenTable is a TokenValidator holding a fixed set of tokens.
type tokenTable map[string]grant

func (tt tokenTable) TokenValid(token string) (string, Role, error) {
	g, ok := tt[token]
	if !ok || token == "" {
		return "", RoleUnknown, nil
	}
	return g.user, g.role, nil
}

// NewListValidator reads a token list from r. Each line has three fields
// separated by whitespace:
//
//	<user>  <role>  <token>
//
// where role is read, write, or admin. Blank lines and lines starting with
// '#' are ignored, as are lines without exactly three fields. If a token
// appears more than once the last line wins.
func NewListValidator(r io.Reader) (TokenValidator, error) {
	tt := make(tokenTable)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 3 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		tt[fields[2]] = grant{user: fields[0], role: parseRole(fields[1])}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading token list")
	}
	return tt, nil
}

// NewListValidatorFile is NewListValidator reading the named file.
func NewListValidatorFile(fname string) (TokenValidator, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewListValidator(f)
}

// NewListValidatorString is NewListValidator reading from a string.
func NewListValidatorString(data string) (TokenValidator, error) {
	return NewListValidator(strings.NewReader(data))
}
