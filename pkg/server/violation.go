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

import (
	"fmt"

	"github.com/kurafs/freemount/pkg/vfs"
)

// ProtocolViolation is returned when the peer breaks the protocol. It ends
// the session it occurred in.
type ProtocolViolation struct {
	Code vfs.Errno
	Msg  string
}

var _ vfs.ErrorNumber = (*ProtocolViolation)(nil)

func violation(code vfs.Errno, format string, v ...interface{}) error {
	return &ProtocolViolation{Code: code, Msg: fmt.Sprintf(format, v...)}
}

func (v *ProtocolViolation) Error() string {
	return fmt.Sprintf("protocol violation: %s (%s)", v.Msg, v.Code.ErrnoName())
}

func (v *ProtocolViolation) Errno() vfs.Errno {
	return v.Code
}
