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
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kurafs/freemount/pkg/client"
	"github.com/kurafs/freemount/pkg/config"
	"github.com/kurafs/freemount/pkg/log"
)

func TestOpenFS(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		backend string
		mutate  func(c *config.Config)
	}{
		{config.BackendOS, func(c *config.Config) { c.Root = dir }},
		{config.BackendMem, func(c *config.Config) {}},
		{config.BackendBolt, func(c *config.Config) { c.BoltPath = filepath.Join(dir, "fm.db") }},
	}
	for _, test := range tests {
		cfg := config.Default()
		cfg.Backend = test.backend
		test.mutate(cfg)

		fs, closeFS, err := OpenFS(cfg)
		if err != nil {
			t.Fatalf("%s: %v", test.backend, err)
		}
		if st, err := fs.Stat("/"); err != nil || !st.IsDir() {
			t.Errorf("%s: Stat(/) = %+v, %v", test.backend, st, err)
		}
		if err := closeFS(); err != nil {
			t.Errorf("%s: close: %v", test.backend, err)
		}
	}

	cfg := config.Default()
	cfg.Backend = "zfs"
	if _, _, err := OpenFS(cfg); err == nil {
		t.Error("OpenFS with an unknown backend succeeded")
	}
}

func TestStart(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = config.BackendMem
	cfg.Listen = "127.0.0.1:0"
	cfg.Unix = filepath.Join(t.TempDir(), "fm.sock")
	cfg.Admin = "127.0.0.1:0"
	cfg.Window = 4096

	ls, err := Listen(cfg)
	if err != nil {
		t.Fatal(err)
	}
	wait, shutdown, err := Serve(log.Discarder(), cfg, ls)
	if err != nil {
		ls.Close()
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Both listeners export the same file system.
	tcp, err := net.Dial("tcp", ls.TCP.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	c := client.New(tcp)
	if err := c.Put(ctx, "/shared", []byte(strings.Repeat("x", 10000))); err != nil {
		t.Fatal(err)
	}

	unix, err := net.Dial("unix", cfg.Unix)
	if err != nil {
		t.Fatal(err)
	}
	u := client.New(unix)
	got, err := u.Get(ctx, "/shared")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 10000 {
		t.Errorf("Get over unix returned %d bytes, want 10000", len(got))
	}

	resp, err := http.Get("http://" + ls.Admin.Addr().String() + "/status")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "sessions 2\n") {
		t.Errorf("/status = %q, want 2 sessions", body)
	}

	c.Close()
	u.Close()
	shutdown()

	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}
