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

// Package supervisor owns one execution environment end to end: pulling its
// image, building its container pool, declaring its queue topology, and
// running its dispatcher until the broker connection drops or the process
// is asked to shut down. cmd/worker fans one Supervisor out per configured
// environment.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/streadway/amqp"

	"github.com/CatinPajama/crabjudge/internal/broker"
	"github.com/CatinPajama/crabjudge/internal/dispatcher"
	"github.com/CatinPajama/crabjudge/internal/logging"
	"github.com/CatinPajama/crabjudge/internal/model"
	"github.com/CatinPajama/crabjudge/internal/pool"
	"github.com/CatinPajama/crabjudge/internal/sandbox"
	"github.com/CatinPajama/crabjudge/internal/tasktracker"
	"github.com/CatinPajama/crabjudge/internal/verdict"
)

// State is a point in a Supervisor's lifecycle.
type State int32

const (
	StateInitializing State = iota
	StateRunning
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// listener is the subset of *dispatcher.Dispatcher a Supervisor drives.
type listener interface {
	Listen(ctx context.Context, deliveries <-chan amqp.Delivery) error
}

// disposer is the subset of *pool.Pool[pool.ContainerLease] a Supervisor
// tears down on shutdown.
type disposer interface {
	Close(ctx context.Context)
}

// Supervisor runs one environment's dispatcher loop and guarantees its
// container pool is torn down however the loop ends.
type Supervisor struct {
	Env string

	mu    sync.Mutex
	state State

	listener listener
	pool     disposer

	logger *log.Logger
}

// New builds a Supervisor around an already-wired dispatcher and pool. Use
// Bootstrap to additionally perform the image pull / pool build / queue
// declare steps against real Docker and AMQP connections.
func New(env string, l listener, p disposer) *Supervisor {
	return &Supervisor{
		Env:      env,
		state:    StateInitializing,
		listener: l,
		pool:     p,
		logger:   logging.New(fmt.Sprintf("supervisor:%s", env)),
	}
}

func (s *Supervisor) logf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// State reports the Supervisor's current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(v State) {
	s.mu.Lock()
	s.state = v
	s.mu.Unlock()
}

// Run drives the dispatcher's consume loop until deliveries closes or ctx
// is cancelled, then unconditionally tears the container pool down; a
// dispatcher error does not skip cleanup. Listen runs in its own goroutine
// so a signal delivered through ctx is observed immediately even if Listen
// itself is still draining in-flight work; either way Run only proceeds to
// Close once Listen has actually returned.
func (s *Supervisor) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	s.setState(StateRunning)
	s.logf("running")

	errCh := make(chan error, 1)
	go func() { errCh <- s.listener.Listen(ctx, deliveries) }()

	var err error
	select {
	case <-ctx.Done():
		s.logf("shutdown signal received, draining")
		s.setState(StateDraining)
		err = <-errCh
	case err = <-errCh:
		s.logf("dispatcher loop ended, draining")
		s.setState(StateDraining)
	}

	s.pool.Close(context.Background())
	s.setState(StateTerminated)
	s.logf("terminated")
	return err
}

// Bootstrap pulls the environment's image, builds its container pool,
// declares its queue topology, and returns a ready-to-run Supervisor along
// with the delivery channel to feed it. The caller is only responsible for
// deriving a cancellable context (signal.NotifyContext or similar) and
// passing it to Run; Run itself races the dispatcher loop against that
// context's cancellation.
func Bootstrap(ctx context.Context, driver *sandbox.Driver, ch *amqp.Channel, store *verdict.Store, rt model.RuntimeConfig) (*Supervisor, <-chan amqp.Delivery, error) {
	if err := driver.PullImage(ctx, rt.Image); err != nil {
		return nil, nil, err
	}

	manager := pool.NewContainerGroup(driver, rt.Image, rt.Memory)
	manager.SetLogger(logging.New(fmt.Sprintf("pool:%s", rt.Env)))
	p := pool.New[pool.ContainerLease](manager, rt.EffectivePoolSize())
	p.SetLogger(logging.New(fmt.Sprintf("pool:%s", rt.Env)))

	deliveries, err := broker.Consume(ch, rt.Env)
	if err != nil {
		p.Close(ctx)
		return nil, nil, err
	}

	d := &dispatcher.Dispatcher{
		Pool:    p,
		Runner:  driver,
		Store:   store,
		Runtime: rt,
		Tracker: tasktracker.New(),
		Logger:  logging.New(fmt.Sprintf("dispatcher:%s", rt.Env)),
	}

	return New(rt.Env, d, p), deliveries, nil
}
