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

package tasktracker

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestWaitBlocksUntilEverySpawnedTaskReturns(t *testing.T) {
	tr := New()
	var done int32

	release := make(chan struct{})
	for i := 0; i < 5; i++ {
		if err := tr.Spawn(func() {
			<-release
			atomic.AddInt32(&done, 1)
		}); err != nil {
			t.Fatalf("Spawn errored: %s", err)
		}
	}

	waitDone := make(chan struct{})
	go func() {
		tr.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
		t.Fatal("Wait returned before tasks were released")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	select {
	case <-waitDone:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after tasks completed")
	}

	if atomic.LoadInt32(&done) != 5 {
		t.Errorf("expected all 5 tasks to complete, got %d", done)
	}
}

func TestSpawnRejectsAfterClose(t *testing.T) {
	tr := New()
	tr.Close()

	if err := tr.Spawn(func() {}); err != ErrClosed {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}
}

func TestCloseThenWaitDrainsInFlightTasks(t *testing.T) {
	tr := New()
	var ran int32
	if err := tr.Spawn(func() { atomic.AddInt32(&ran, 1) }); err != nil {
		t.Fatalf("Spawn errored: %s", err)
	}
	tr.Close()
	tr.Wait()

	if atomic.LoadInt32(&ran) != 1 {
		t.Errorf("expected the spawned task to have run, got ran=%d", ran)
	}
}
