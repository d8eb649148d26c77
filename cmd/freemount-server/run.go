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

package freemountserver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"sync"

	"github.com/quic-go/quic-go"

	"github.com/kurafs/freemount/pkg/admin"
	"github.com/kurafs/freemount/pkg/config"
	"github.com/kurafs/freemount/pkg/log"
	"github.com/kurafs/freemount/pkg/server"
	"github.com/kurafs/freemount/pkg/transport"
	"github.com/kurafs/freemount/pkg/vfs"
	"github.com/kurafs/freemount/pkg/vfs/boltfs"
	"github.com/kurafs/freemount/pkg/vfs/memfs"
	"github.com/kurafs/freemount/pkg/vfs/osfs"
)

// Listeners are the endpoints a server accepts connections on. Nil fields
// are not configured.
type Listeners struct {
	TCP   net.Listener
	Unix  net.Listener
	QUIC  *quic.Listener
	Admin net.Listener
}

// Listen binds every endpoint cfg configures.
func Listen(cfg *config.Config) (ls *Listeners, err error) {
	ls = &Listeners{}
	defer func() {
		if err != nil {
			ls.Close()
		}
	}()

	if cfg.Listen != "" {
		if ls.TCP, err = net.Listen("tcp", cfg.Listen); err != nil {
			return nil, err
		}
	}
	if cfg.Unix != "" {
		if err := removeStaleSocket(cfg.Unix); err != nil {
			return nil, err
		}
		if ls.Unix, err = net.Listen("unix", cfg.Unix); err != nil {
			return nil, err
		}
	}
	if cfg.QUIC != "" {
		if ls.QUIC, err = transport.ListenQUIC(cfg.QUIC); err != nil {
			return nil, err
		}
	}
	if cfg.Admin != "" {
		if ls.Admin, err = net.Listen("tcp", cfg.Admin); err != nil {
			return nil, err
		}
	}
	return ls, nil
}

// Close closes every listener.
func (ls *Listeners) Close() {
	for _, l := range []net.Listener{ls.TCP, ls.Unix, ls.Admin} {
		if l != nil {
			l.Close()
		}
	}
	if ls.QUIC != nil {
		ls.QUIC.Close()
	}
}

// removeStaleSocket removes a unix socket left behind by an earlier server.
// Anything else at path is left for net.Listen to fail on.
func removeStaleSocket(path string) error {
	fi, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return err
	}
	if fi.Mode()&fs.ModeSocket == 0 {
		return nil
	}
	return os.Remove(path)
}

// OpenFS returns the file system cfg exports and a func releasing it.
func OpenFS(cfg *config.Config) (vfs.FS, func() error, error) {
	switch cfg.Backend {
	case config.BackendOS:
		fs, err := osfs.New(cfg.Root)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() error { return nil }, nil
	case config.BackendMem:
		return memfs.New(), func() error { return nil }, nil
	case config.BackendBolt:
		fs, err := boltfs.Open(cfg.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		return fs, fs.Close, nil
	}
	return nil, nil, fmt.Errorf("backend: unknown backend %q", cfg.Backend)
}

// Start binds the endpoints cfg configures and serves them, see Serve.
func Start(logger *log.Logger, cfg *config.Config) (wait func(), shutdown func(), err error) {
	ls, err := Listen(cfg)
	if err != nil {
		return nil, nil, err
	}
	wait, shutdown, err = Serve(logger, cfg, ls)
	if err != nil {
		ls.Close()
		return nil, nil, err
	}
	return wait, shutdown, nil
}

// Serve exports the file system cfg describes on ls, and over stdio if cfg
// says so. wait returns once every session has ended and the file system is
// released, which happens after shutdown is called or the stdio session
// ends.
func Serve(logger *log.Logger, cfg *config.Config, ls *Listeners) (wait func(), shutdown func(), err error) {
	fsys, closeFS, err := OpenFS(cfg)
	if err != nil {
		return nil, nil, err
	}

	srv := server.New(logger, fsys, server.Config{
		Window:       cfg.Window,
		MaxConns:     cfg.MaxConns,
		MaxWriteSize: cfg.MaxWriteSize,
	})
	ctx, cancel := context.WithCancel(context.Background())

	var wg, serving sync.WaitGroup
	serve := func(name string, fn func() error) {
		serving.Add(1)
		go func() {
			defer serving.Done()
			if err := fn(); err != nil {
				logger.Errorf("%s server error: %v", name, err)
			}
		}()
	}

	if ls.TCP != nil {
		logger.Infof("serving on %s", ls.TCP.Addr())
		serve("tcp", func() error { return srv.Serve(ctx, ls.TCP) })
	}
	if ls.Unix != nil {
		logger.Infof("serving on unix socket %s", ls.Unix.Addr())
		serve("unix", func() error { return srv.Serve(ctx, ls.Unix) })
	}
	if ls.QUIC != nil {
		logger.Infof("serving QUIC on %s", ls.QUIC.Addr())
		serve("quic", func() error { return srv.ServeQUIC(ctx, ls.QUIC) })
	}
	if cfg.Stdio {
		serve("stdio", func() error {
			// A session over stdio is the server's only purpose.
			defer cancel()
			err := srv.ServeConn(ctx, os.Stdin, os.Stdout)
			var pv *server.ProtocolViolation
			if err == nil || errors.As(err, &pv) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	adminWait, adminShutdown := func() {}, func() {}
	if ls.Admin != nil {
		adminWait, adminShutdown = admin.Start(logger, ls.Admin, srv.Stats())
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		<-ctx.Done()
		adminShutdown()
		adminWait()
		if ls.QUIC != nil {
			ls.QUIC.Close()
		}
		serving.Wait()
		if err := closeFS(); err != nil {
			logger.Errorf("closing file system: %v", err)
		}
		logger.Info("server stopped")
	}()

	return wg.Wait, cancel, nil
}
