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

package supervisor

import (
	"context"
	"errors"
	"testing"

	"github.com/streadway/amqp"
)

type fakeListener struct {
	err       error
	sawCtx    context.Context
	sawDelivs <-chan amqp.Delivery
}

func (f *fakeListener) Listen(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	f.sawCtx = ctx
	f.sawDelivs = deliveries
	return f.err
}

type fakeDisposer struct {
	closed bool
}

func (f *fakeDisposer) Close(ctx context.Context) {
	f.closed = true
}

func TestRunTransitionsThroughExpectedStates(t *testing.T) {
	l := &fakeListener{}
	d := &fakeDisposer{}
	s := New("python3", l, d)

	if s.State() != StateInitializing {
		t.Fatalf("expected a fresh Supervisor to start Initializing, got %s", s.State())
	}

	deliveries := make(chan amqp.Delivery)
	close(deliveries)
	if err := s.Run(context.Background(), deliveries); err != nil {
		t.Fatalf("Run errored: %s", err)
	}

	if s.State() != StateTerminated {
		t.Errorf("expected Terminated after Run completes, got %s", s.State())
	}
	if !d.closed {
		t.Error("expected Run to close the pool")
	}
}

func TestRunClosesPoolEvenWhenListenFails(t *testing.T) {
	l := &fakeListener{err: errors.New("broker connection dropped")}
	d := &fakeDisposer{}
	s := New("cpp17", l, d)

	deliveries := make(chan amqp.Delivery)
	close(deliveries)
	err := s.Run(context.Background(), deliveries)
	if err == nil {
		t.Fatal("expected Run to propagate the listener's error")
	}
	if !d.closed {
		t.Error("expected Run to close the pool even after a listener failure")
	}
	if s.State() != StateTerminated {
		t.Errorf("expected Terminated even on failure, got %s", s.State())
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateInitializing: "initializing",
		StateRunning:      "running",
		StateDraining:     "draining",
		StateTerminated:   "terminated",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
