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

// Package admin serves a Freemount server's operational endpoint: the gRPC
// health service, reachable over both gRPC and gRPC-Web, and a plain-text
// /status page, all multiplexed over one listener.
package admin

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/improbable-eng/grpc-web/go/grpcweb"
	"github.com/kurafs/freemount/pkg/log"
	"github.com/kurafs/freemount/pkg/server"
	"github.com/soheilhy/cmux"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service is the health service name the endpoint reports on, besides the
// empty name for the process as a whole.
const Service = "freemount"

// Start serves the endpoint on lis, reporting stats, until shutdown is
// called. wait blocks until every server goroutine has exited.
func Start(logger *log.Logger, lis net.Listener, stats *server.Stats) (wait func(), shutdown func()) {
	var (
		wg      sync.WaitGroup
		closing atomic.Bool
	)

	// Match connections in order: first grpc, then everything else for web.
	mux := cmux.New(lis)
	grpcL := mux.MatchWithWriters(cmux.HTTP2MatchHeaderFieldSendSettings("content-type", "application/grpc"))
	httpL := mux.Match(cmux.Any())

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(Service, healthpb.HealthCheckResponse_SERVING)

	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	httpServer := http.Server{Handler: Handler(grpcweb.WrapServer(grpcServer), stats)}

	serve := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && !closing.Load() {
				logger.Errorf("admin %s server error: %v", name, err)
			}
		}()
	}
	serve("grpc", func() error { return grpcServer.Serve(grpcL) })
	serve("http", func() error { return httpServer.Serve(httpL) })
	serve("cmux", mux.Serve)
	logger.Infof("serving admin endpoint on %s", lis.Addr())

	shutdown = func() {
		closing.Store(true)
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		healthServer.SetServingStatus(Service, healthpb.HealthCheckResponse_NOT_SERVING)
		lis.Close()
		grpcServer.Stop()
		httpServer.Shutdown(context.Background())
	}
	return wg.Wait, shutdown
}

// Handler routes gRPC-Web requests to grpcWeb and serves /status from stats.
func Handler(grpcWeb *grpcweb.WrappedGrpcServer, stats *server.Stats) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		WriteStatus(w, stats.Snapshot())
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if grpcWeb.IsGrpcWebRequest(r) {
			grpcWeb.ServeHTTP(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})
}

// WriteStatus writes one "name value" line per counter.
func WriteStatus(w io.Writer, snap server.StatsSnapshot) {
	fmt.Fprintf(w, "sessions %d\n", snap.Sessions)
	fmt.Fprintf(w, "total_sessions %d\n", snap.TotalSessions)
	fmt.Fprintf(w, "requests %d\n", snap.Requests)
	fmt.Fprintf(w, "tasks %d\n", snap.Tasks)
	fmt.Fprintf(w, "violations %d\n", snap.Violations)
}
