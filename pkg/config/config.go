// Copyright 2018 The Kura Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config holds the Freemount server configuration.
//
// Values come from command-line flags and, optionally, a YAML file named by
// -config. Flags given explicitly on the command line take precedence over
// the file, which takes precedence over the defaults.
//
//	root: /srv/share
//	backend: bolt
//	bolt-path: ${HOME}/.cache/freemount.db
//	listen: ":4564"
//	admin: "127.0.0.1:4565"
//	window: 65536
package config

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Backends a server can export.
const (
	BackendOS   = "os"
	BackendMem  = "mem"
	BackendBolt = "bolt"
)

// Config is the server configuration.
type Config struct {
	// Root is the exported directory of the os backend.
	Root string `yaml:"root"`

	// Backend is one of os, mem or bolt.
	Backend string `yaml:"backend"`

	// BoltPath is the database file of the bolt backend.
	BoltPath string `yaml:"bolt-path"`

	// Stdio serves a single session over standard input and output.
	Stdio bool `yaml:"stdio"`

	// Listen, Unix and QUIC are the TCP address, unix socket path and UDP
	// address to accept sessions on. Empty disables each.
	Listen string `yaml:"listen"`
	Unix   string `yaml:"unix"`
	QUIC   string `yaml:"quic"`

	// Admin is the address of the health and status endpoint.
	Admin string `yaml:"admin"`

	// Window is the per-session flow control window in bytes, zero for none.
	Window int64 `yaml:"window"`

	// MaxConns caps concurrently served connections, zero for no cap.
	MaxConns int `yaml:"max-conns"`

	// MaxWriteSize caps the data a single write request may carry.
	MaxWriteSize int `yaml:"max-write-size"`

	// Quiet suppresses logging to standard error.
	Quiet bool `yaml:"quiet"`

	// LogDir is where log files are written, if anywhere.
	LogDir string `yaml:"log-dir"`
}

// Default returns the configuration used for anything not set.
func Default() *Config {
	return &Config{
		Root:         ".",
		Backend:      BackendOS,
		MaxWriteSize: 64 << 20,
	}
}

// RegisterFlags defines a flag for every field but LogDir on fs, bound to c.
// LogDir is set through the -log-dir flag of package logflags. The file flag,
// if non-nil, receives -config.
func (c *Config) RegisterFlags(fs *flag.FlagSet, file *string) {
	fs.StringVar(&c.Root, "root", c.Root, "Directory to export with the os backend")
	fs.StringVar(&c.Backend, "backend", c.Backend, "Filesystem backend: os, mem or bolt")
	fs.StringVar(&c.BoltPath, "bolt-path", c.BoltPath, "Database file for the bolt backend")
	fs.BoolVar(&c.Stdio, "stdio", c.Stdio, "Serve one session over standard input and output")
	fs.StringVar(&c.Listen, "listen", c.Listen, "TCP address to accept sessions on [host:port]")
	fs.StringVar(&c.Unix, "unix", c.Unix, "Unix socket to accept sessions on")
	fs.StringVar(&c.QUIC, "quic", c.QUIC, "UDP address to accept QUIC sessions on [host:port]")
	fs.StringVar(&c.Admin, "admin", c.Admin, "Address of the health and status endpoint [host:port]")
	fs.Int64Var(&c.Window, "window", c.Window, "Flow control window per session in bytes, 0 for none")
	fs.IntVar(&c.MaxConns, "max-conns", c.MaxConns, "Maximum concurrent connections, 0 for no limit")
	fs.IntVar(&c.MaxWriteSize, "max-write-size", c.MaxWriteSize, "Maximum bytes a single write request may carry")
	fs.BoolVar(&c.Quiet, "q", c.Quiet, "Suppress logging to standard error")
	if file != nil {
		fs.StringVar(file, "config", "", "YAML configuration file")
	}
}

var errUnknownSetting = errors.New("unknown setting")

// Set assigns the field registered as flag name from its string form.
func (c *Config) Set(name, value string) error {
	var err error
	switch name {
	case "root":
		c.Root = value
	case "backend":
		c.Backend = value
	case "bolt-path":
		c.BoltPath = value
	case "stdio":
		c.Stdio, err = strconv.ParseBool(value)
	case "listen":
		c.Listen = value
	case "unix":
		c.Unix = value
	case "quic":
		c.QUIC = value
	case "admin":
		c.Admin = value
	case "window":
		c.Window, err = strconv.ParseInt(value, 10, 64)
	case "max-conns":
		c.MaxConns, err = strconv.Atoi(value)
	case "max-write-size":
		c.MaxWriteSize, err = strconv.Atoi(value)
	case "q":
		c.Quiet, err = strconv.ParseBool(value)
	case "log-dir":
		c.LogDir = value
	default:
		return fmt.Errorf("%w %q", errUnknownSetting, name)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Load builds the configuration of a parsed fs whose flags were registered
// through RegisterFlags. It returns the defaults overlaid with file, if not
// empty, and then with every flag set explicitly. Flags fs defines for other
// purposes are left alone.
func Load(fs *flag.FlagSet, file string) (*Config, error) {
	c := Default()
	if file != "" {
		if err := c.LoadFile(file); err != nil {
			return nil, err
		}
	}

	var err error
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "config" || err != nil {
			return
		}
		if serr := c.Set(f.Name, f.Value.String()); !errors.Is(serr, errUnknownSetting) {
			err = serr
		}
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// LoadFile merges the YAML file at path into c. Unknown keys are rejected,
// and ${VAR} and ${VAR:-default} references in paths are expanded.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s: %w", path, err)
	}

	c.Root = expandVars(c.Root)
	c.BoltPath = expandVars(c.BoltPath)
	c.Unix = expandVars(c.Unix)
	c.LogDir = expandVars(c.LogDir)
	return nil
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate reports every invalid field, each error naming its field.
func (c *Config) Validate() error {
	var errs []error

	switch c.Backend {
	case BackendOS:
		if c.Root == "" {
			errs = append(errs, errors.New("root: required with the os backend"))
		}
	case BackendMem:
	case BackendBolt:
		if c.BoltPath == "" {
			errs = append(errs, errors.New("bolt-path: required with the bolt backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("backend: unknown backend %q (want os, mem or bolt)", c.Backend))
	}

	for _, addr := range []struct{ field, value string }{
		{"listen", c.Listen},
		{"quic", c.QUIC},
		{"admin", c.Admin},
	} {
		if addr.value == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(addr.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %v", addr.field, err))
		}
	}
	if !c.Stdio && c.Listen == "" && c.Unix == "" && c.QUIC == "" {
		errs = append(errs, errors.New("listen: no listener configured (set listen, unix, quic or stdio)"))
	}

	if c.Window < 0 {
		errs = append(errs, fmt.Errorf("window: %d is negative", c.Window))
	}
	if c.MaxConns < 0 {
		errs = append(errs, fmt.Errorf("max-conns: %d is negative", c.MaxConns))
	}
	if c.MaxWriteSize <= 0 {
		errs = append(errs, fmt.Errorf("max-write-size: %d is not positive", c.MaxWriteSize))
	}

	return errors.Join(errs...)
}
