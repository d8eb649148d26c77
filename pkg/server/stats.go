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

package server

import "sync/atomic"

// Stats counts server activity. All fields are updated atomically.
type Stats struct {
	Sessions      atomic.Int64 // Active sessions.
	TotalSessions atomic.Int64
	Requests      atomic.Int64 // Submitted requests.
	Tasks         atomic.Int64 // Running background tasks.
	Violations    atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Sessions      int64
	TotalSessions int64
	Requests      int64
	Tasks         int64
	Violations    int64
}

// Snapshot returns the current counter values.
func (st *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Sessions:      st.Sessions.Load(),
		TotalSessions: st.TotalSessions.Load(),
		Requests:      st.Requests.Load(),
		Tasks:         st.Tasks.Load(),
		Violations:    st.Violations.Load(),
	}
}
