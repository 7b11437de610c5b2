// BSD 2-Clause License
//
// Copyright (c) 2020, Andrea Giacomo Baldan
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are met:
//
// * Redistributions of source code must retain the above copyright notice, this
//   list of conditions and the following disclaimer.
//
// * Redistributions in binary form must reproduce the above copyright notice,
//   this list of conditions and the following disclaimer in the documentation
//   and/or other materials provided with the distribution.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE
// FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL
// DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER
// CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY,
// OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

// Package workerr defines the error kinds the dispatcher needs to tell apart
// when deciding whether a delivery goes to the dead-letter queue, is
// propagated as fatal, or is simply a verdict.
package workerr

import "errors"

// Kind classifies a failure for the dispatcher's ack/nack policy.
type Kind int

const (
	// KindParse means the delivery body could not be decoded into a WorkerTask.
	KindParse Kind = iota
	// KindDatabase means a query failed even after the retry envelope was exhausted.
	KindDatabase
	// KindDocker means the container daemon rejected a pool-get or exec call.
	KindDocker
	// KindQueue means an ack/nack/basic_consume call against the broker failed.
	KindQueue
)

// Error wraps an underlying error with the Kind the dispatcher needs to
// decide what to do with the delivery that triggered it.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ParseError wraps err as a KindParse failure.
func ParseError(err error) error {
	return &Error{Kind: KindParse, Err: err}
}

// DatabaseError wraps err as a KindDatabase failure.
func DatabaseError(err error) error {
	return &Error{Kind: KindDatabase, Err: err}
}

// DockerError wraps err as a KindDocker failure.
func DockerError(err error) error {
	return &Error{Kind: KindDocker, Err: err}
}

// QueueError wraps err as a KindQueue failure.
func QueueError(err error) error {
	return &Error{Kind: KindQueue, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// ErrNoExitCode is returned by the sandbox driver when docker still reports
// an exec as running after its output has been drained, so no exit code is
// available; the driver must never invent a verdict in that case.
var ErrNoExitCode = errors.New("docker: exec inspect returned no exit code")
