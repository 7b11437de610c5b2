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

// Package pool implements a small bounded async resource pool: Get blocks
// until a slot is free, a slot lazily creates its resource on first use
// and recycles it (via a health probe) on every later use, and Close tears
// every created resource down best-effort. It is generalized behind a
// Manager interface so it isn't tied to containers specifically.
package pool

import (
	"context"
	"log"
	"sync"
)

// Manager is the behavior a pooled resource type must provide: how to
// create one, how to check that an existing one is still usable, and how
// to dispose of one at shutdown.
type Manager[T any] interface {
	Create(ctx context.Context) (T, error)
	Recycle(ctx context.Context, item T) error
	Dispose(ctx context.Context, item T)
}

// slot owns one resource instance; at most one Lease ever holds it at a
// time because slots only ever travel through the pool's free channel.
type slot[T any] struct {
	item   T
	inited bool
}

// Pool is a fixed-capacity set of lazily created, recycled resources.
// Capacity is enforced by the size of the free-slot channel: a Get call
// blocks until a slot comes back from a prior Release, so at most
// `capacity` leases are ever outstanding at once.
type Pool[T any] struct {
	manager Manager[T]
	free    chan *slot[T]

	mu      sync.Mutex
	created []*slot[T]

	logger *log.Logger
}

// SetLogger attaches a logger to the pool for lease and teardown
// visibility. A nil Pool logger is valid and simply disables logging.
func (p *Pool[T]) SetLogger(l *log.Logger) {
	p.logger = l
}

func (p *Pool[T]) logf(format string, args ...interface{}) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}

// New builds a Pool of the given capacity backed by manager. No resource
// is created until the first Get call for a given slot.
func New[T any](manager Manager[T], capacity int) *Pool[T] {
	p := &Pool[T]{
		manager: manager,
		free:    make(chan *slot[T], capacity),
	}
	for i := 0; i < capacity; i++ {
		s := &slot[T]{}
		p.created = append(p.created, s)
		p.free <- s
	}
	return p
}

// Lease is a borrowed resource that must be returned via Release.
type Lease[T any] struct {
	Item T
	slot *slot[T]
	pool *Pool[T]
}

// Get blocks until a slot is available, then returns a lease over that
// slot's resource: freshly created on first use, recycled (health probed)
// on every subsequent use. A free slot whose resource already exists is
// preferred over an empty one, so a new resource is only created when no
// existing one is free. A failed recycle probe replaces the resource with a
// freshly created one.
func (p *Pool[T]) Get(ctx context.Context) (*Lease[T], error) {
	var s *slot[T]
	select {
	case s = <-p.free:
	default:
		p.logf("waiting for a free slot")
		select {
		case s = <-p.free:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	for n := len(p.free); !s.inited && n > 0; n-- {
		select {
		case other := <-p.free:
			if other.inited {
				p.free <- s
				s = other
			} else {
				p.free <- other
			}
		default:
			n = 1
		}
	}

	if !s.inited {
		item, err := p.manager.Create(ctx)
		if err != nil {
			p.free <- s
			p.logf("create failed: %v", err)
			return nil, err
		}
		s.item = item
		s.inited = true
		return &Lease[T]{Item: item, slot: s, pool: p}, nil
	}

	if err := p.manager.Recycle(ctx, s.item); err != nil {
		p.logf("recycle probe failed, replacing: %v", err)
		p.manager.Dispose(ctx, s.item)
		item, err := p.manager.Create(ctx)
		if err != nil {
			s.inited = false
			p.free <- s
			p.logf("create failed: %v", err)
			return nil, err
		}
		s.item = item
		return &Lease[T]{Item: item, slot: s, pool: p}, nil
	}

	return &Lease[T]{Item: s.item, slot: s, pool: p}, nil
}

// Release returns a lease's slot to the pool for the next Get to reuse.
// It does not dispose of the underlying resource; that only happens at
// Close or on a failed recycle probe. Release on a standalone lease built
// by NewLeaseForTest is a no-op.
func (l *Lease[T]) Release() {
	if l.pool == nil {
		return
	}
	l.pool.free <- l.slot
}

// NewLeaseForTest builds a Lease not backed by any Pool, so callers that
// depend on a *Lease[T] can be exercised in tests without standing up a
// full Pool. Release on the result is a no-op.
func NewLeaseForTest[T any](item T) *Lease[T] {
	return &Lease[T]{Item: item}
}

// Close disposes every resource this pool has ever created, ignoring
// individual failures (best-effort; the daemon reaps anything that
// survives).
func (p *Pool[T]) Close(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	disposed := 0
	for _, s := range p.created {
		if s.inited {
			p.manager.Dispose(ctx, s.item)
			s.inited = false
			disposed++
		}
	}
	p.logf("closed, disposed %d of %d slots", disposed, len(p.created))
}
