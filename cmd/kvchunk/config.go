package main

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/ndlib/chunkkv"
	"github.com/ndlib/chunkkv/kvapi"
	"github.com/ndlib/chunkkv/store"
)

// fileConfig is the layout of the configuration file. Exactly one of the
// local and remote sections should be given.
//
//	block_size = 26214400
//
//	[remote]
//	url = "https://api.cloudflare.com/client/v4"
//	account = "..."
//	namespace = "..."
//	token = "..."          # or both email and key
//	email = "..."
//	key = "..."
//
//	[local]
//	location = "s3:/bucket/prefix"
type fileConfig struct {
	BlockSize int `toml:"block_size"`

	Remote struct {
		URL       string `toml:"url"`
		Account   string `toml:"account"`
		Namespace string `toml:"namespace"`
		Token     string `toml:"token"`
		Email     string `toml:"email"`
		Key       string `toml:"key"`
	} `toml:"remote"`

	Local struct {
		Location string `toml:"location"`
	} `toml:"local"`
}

// tokenEnv, if set, overrides the token in the configuration file.
const tokenEnv = "CHUNKKV_TOKEN"

var errBothBackends = errors.New("configuration has both [local] and [remote] sections")

func readConfigFile(fname string) (fileConfig, error) {
	var fc fileConfig
	_, err := toml.DecodeFile(fname, &fc)
	return fc, err
}

func parseConfig(data string) (fileConfig, error) {
	var fc fileConfig
	_, err := toml.Decode(data, &fc)
	return fc, err
}

// engineConfig turns the file settings into an engine configuration.
func (fc fileConfig) engineConfig() (chunkkv.Config, error) {
	config := chunkkv.Config{BlockSize: fc.BlockSize}
	if token := os.Getenv(tokenEnv); token != "" {
		fc.Remote.Token = token
	}
	remote := fc.Remote.Account != "" || fc.Remote.Namespace != ""
	if fc.Local.Location != "" {
		if remote {
			return config, errBothBackends
		}
		s, err := store.ParseLocation(fc.Local.Location, "")
		if err != nil {
			return config, err
		}
		config.Binding = s
		return config, nil
	}
	config.HostURL = fc.Remote.URL
	config.AccountID = fc.Remote.Account
	config.NamespaceID = fc.Remote.Namespace
	config.Credentials = &kvapi.Credentials{
		Token: fc.Remote.Token,
		Email: fc.Remote.Email,
		Key:   fc.Remote.Key,
	}
	return config, nil
}
