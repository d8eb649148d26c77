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

// Package server implements the serving side of the Freemount protocol.
//
// A Session owns one connection. Its frame loop reassembles incoming frames
// and feeds them to the dispatcher, which drives every request id through
//
//      absent -> declared -> accumulating -> submitted -> absent
//
// A request frame declares an id and its request type, argument frames fill
// in the request, and a submit frame runs it. Operations that touch file
// contents (read and write) run as background tasks so that a slow transfer
// never stalls the frame loop; everything else runs inline. Every submitted
// request is answered by exactly one result frame carrying zero or an error
// number.
//
// Peer misbehaviour (a duplicate id, an argument the request type doesn't
// take, an undecodable value) is a ProtocolViolation: the session sends a
// fatal frame, tears down and returns the violation, leaving every other
// session untouched.
package server
