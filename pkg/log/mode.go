// Copyright 2018 Irfan Sharif.
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

package log

import (
	"fmt"
	"strings"
)

// Mode is a bitset of log levels. A logging statement is emitted if its mode
// intersects the mode configured for its file, or failing that, the global
// mode.
type Mode int

const (
	InfoMode Mode = 1 << iota
	WarnMode
	ErrorMode
	FatalMode
	DebugMode

	// The zero-value of DisableMode can also be used to check if modes
	// intersect, i.e.  (lmode&gmode) != DisabledMode checks if the local
	// logger mode is filtered through by the global mode.
	DisabledMode = 0
	DefaultMode  = InfoMode | WarnMode | ErrorMode
)

func (m Mode) byte() byte {
	switch m {
	case InfoMode:
		return 'I'
	case WarnMode:
		return 'W'
	case ErrorMode:
		return 'E'
	case FatalMode:
		return 'F'
	case DebugMode:
		return 'D'
	default:
		return '?'
	}
}

// String renders the mode in the form accepted by ParseMode, for e.g.
// "info|warn|error".
func (m Mode) String() string {
	if m == DisabledMode {
		return "disabled"
	}

	var parts []string
	if m&InfoMode != DisabledMode {
		parts = append(parts, "info")
	}
	if m&WarnMode != DisabledMode {
		parts = append(parts, "warn")
	}
	if m&ErrorMode != DisabledMode {
		parts = append(parts, "error")
	}
	if m&DebugMode != DisabledMode {
		parts = append(parts, "debug")
	}
	return strings.Join(parts, "|")
}

// ParseMode parses a '|' separated list of levels (info, warn, error, debug),
// or the single word "disabled".
func ParseMode(value string) (Mode, error) {
	var m Mode
	for _, mode := range strings.Split(value, "|") {
		switch mode {
		case "info":
			m |= InfoMode
		case "debug":
			m |= DebugMode
		case "warn":
			m |= WarnMode
		case "error":
			m |= ErrorMode
		case "disabled":
			return DisabledMode, nil
		default:
			return m, fmt.Errorf("unrecognized mode: %q", mode)
		}
	}
	return m, nil
}
