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

package frame

import (
	"errors"
	"io"

	"github.com/kurafs/freemount/pkg/streaming"
)

// RunEventLoop reads r in ReadChunkSize chunks and feeds them to ra until the
// stream ends or frame handling fails. End of stream and ErrStop return nil;
// every other read or handler error is returned.
func RunEventLoop(r io.Reader, ra *Reassembler) error {
	buf := make([]byte, streaming.ReadChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if ferr := ra.Feed(buf[:n]); ferr != nil {
				if errors.Is(ferr, ErrStop) {
					return nil
				}
				return ferr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
