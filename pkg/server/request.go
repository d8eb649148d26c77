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
	"context"

	"github.com/kurafs/freemount/pkg/frame"
)

// Request accumulates the arguments of one request id until it is
// submitted. Unset numeric arguments are -1.
type Request struct {
	Type   frame.RequestType
	Path   string
	Target string // Second path argument, the new name of a link.
	Data   []byte
	Count  int64
	Offset int64
	FD     int64

	paths int
	task  *task

	// file is the open file named by FD, held from submission until the
	// handler releases it.
	file *openFile
}

func newRequest(rt frame.RequestType) *Request {
	return &Request{
		Type:   rt,
		Count:  -1,
		Offset: -1,
		FD:     -1,
	}
}

// handler performs a submitted request. Any frames other than the final
// result are sent by the handler itself; the returned error becomes the
// result's error number.
type handler func(ctx context.Context, s *Session, id uint8, r *Request) error

const (
	maskReq    = 1<<frame.Request | 1<<frame.Submit
	maskPath   = 1 << frame.ArgPath
	maskFD     = 1 << frame.ArgFD
	maskData   = 1 << frame.SendData
	maskCount  = 1 << frame.IOCount
	maskOffset = 1 << frame.SeekOffset

	// maskArgs is every frame type that belongs to a request.
	maskArgs = maskReq | maskPath | maskFD | maskData | maskCount | maskOffset
)

type requestDesc struct {
	handler    handler
	mask       uint64
	background bool
}

var requestDescs = [...]requestDesc{
	frame.ReqNone:    {},
	frame.ReqVersion: {},
	frame.ReqAuth:    {handler: authOp, mask: maskReq},
	frame.ReqStat:    {handler: statOp, mask: maskReq | maskPath},
	frame.ReqList:    {handler: listOp, mask: maskReq | maskPath},
	frame.ReqRead:    {handler: readOp, mask: maskReq | maskPath | maskFD | maskCount | maskOffset, background: true},
	frame.ReqWrite:   {handler: writeOp, mask: maskReq | maskPath | maskFD | maskData | maskCount | maskOffset, background: true},
	frame.ReqOpen:    {handler: openOp, mask: maskReq | maskPath | maskFD},
	frame.ReqClose:   {handler: closeOp, mask: maskReq | maskFD},
	frame.ReqLink:    {handler: linkOp, mask: maskReq | maskPath},
}

func lookupRequest(rt frame.RequestType) (requestDesc, bool) {
	if int(rt) >= len(requestDescs) || requestDescs[rt].handler == nil {
		return requestDesc{}, false
	}
	return requestDescs[rt], true
}
