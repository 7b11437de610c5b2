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

// Package tasktracker tracks in-flight handler goroutines for one
// environment's dispatcher, so a shutdown can wait for every delivery
// currently being judged before the pool and connections are torn down.
package tasktracker

import (
	"errors"
	"sync"
)

// Tracker counts goroutines spawned through Spawn and lets a caller wait for
// all of them to finish. Once Close is called, no further Spawn calls are
// accepted.
type Tracker struct {
	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

// New returns an open Tracker.
func New() *Tracker {
	return &Tracker{}
}

// ErrClosed is returned by Spawn once the tracker has been closed.
var ErrClosed = errors.New("tasktracker: closed, no more tasks accepted")

// Spawn runs fn in a new goroutine tracked by the Tracker. It returns
// ErrClosed without running fn if the tracker has already been closed.
func (t *Tracker) Spawn(fn func()) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		fn()
	}()
	return nil
}

// Close marks the tracker closed; subsequent Spawn calls fail.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

// Wait blocks until every spawned task has returned. Callers should Close
// the tracker first so Wait has a stable population to wait for.
func (t *Tracker) Wait() {
	t.wg.Wait()
}
