// Package config loads and validates the segmentd service configuration.
// Config files are JSON5 with ${ENV} substitution so deployments can keep
// backend URLs and ports out of the file itself.
package config

import (
	"bytes"
	"io"

	"github.com/a8m/envsubst"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/yosuke-furukawa/json5/encoding/json5"

	"github.com/promptseg/segmentd/backend/localseg"
	"github.com/promptseg/segmentd/backend/remote"
)

// DefaultBindAddress is used when the config does not set one.
const DefaultBindAddress = "localhost:8001"

// Config is the root service configuration.
type Config struct {
	Server   Server   `json:"server"`
	Backends Backends `json:"backends"`
}

// Server configures the HTTP front end.
type Server struct {
	BindAddress string `json:"bind_address,omitempty"`
	Debug       bool   `json:"debug,omitempty"`
}

// Backends configures the candidate backends, richest first. The selector
// order is fixed: remote, then local, then none.
type Backends struct {
	// Remote, when set, is tried first.
	Remote *remote.Config `json:"remote,omitempty"`
	// Local tunes the CPU backend; nil means defaults.
	Local *localseg.Config `json:"local,omitempty"`
	// DisableLocal removes the CPU backend from the candidate list,
	// leaving only the remote backend and the geometry fallback.
	DisableLocal bool `json:"disable_local,omitempty"`
}

// Validate checks the whole tree and applies defaults.
func (c *Config) Validate() error {
	if c.Server.BindAddress == "" {
		c.Server.BindAddress = DefaultBindAddress
	}
	if c.Backends.Remote != nil {
		if err := c.Backends.Remote.Validate(); err != nil {
			return errors.Wrap(err, "backends.remote")
		}
	}
	return nil
}

// Read loads a config from a JSON5 file, substituting environment
// variables first.
func Read(filePath string, logger golog.Logger) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read config at %s", filePath)
	}
	return FromReader(bytes.NewReader(buf), logger)
}

// FromReader parses and validates a config.
func FromReader(r io.Reader, logger golog.Logger) (*Config, error) {
	cfg := &Config{}
	if err := json5.NewDecoder(r).Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "cannot parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Backends.Remote == nil {
		logger.Debug("no remote backend configured")
	}
	return cfg, nil
}
