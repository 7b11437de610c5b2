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

package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingManager struct {
	created int32
	disposed int32
	failRecycleOnce sync.Once
	failRecycle bool
}

func (m *countingManager) Create(ctx context.Context) (int, error) {
	n := atomic.AddInt32(&m.created, 1)
	return int(n), nil
}

func (m *countingManager) Recycle(ctx context.Context, item int) error {
	if m.failRecycle {
		return errors.New("unhealthy")
	}
	return nil
}

func (m *countingManager) Dispose(ctx context.Context, item int) {
	atomic.AddInt32(&m.disposed, 1)
}

func TestPoolReusesSlotAcrossGets(t *testing.T) {
	m := &countingManager{}
	p := New[int](m, 2)

	l1, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("Get errored: %s", err)
	}
	l1.Release()

	l2, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("Get errored: %s", err)
	}
	if l2.Item != l1.Item {
		t.Errorf("expected the second Get to recycle the first slot's item, got %d vs %d", l2.Item, l1.Item)
	}
	if atomic.LoadInt32(&m.created) != 1 {
		t.Errorf("expected exactly one Create call, got %d", m.created)
	}
}

func TestPoolCapacityBound(t *testing.T) {
	m := &countingManager{}
	p := New[int](m, 2)

	l1, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("Get errored: %s", err)
	}
	l2, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("Get errored: %s", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Get(ctx); err == nil {
		t.Fatal("expected a third concurrent Get to block until a slot is released")
	}

	l1.Release()
	l2.Release()
}

func TestPoolReplacesSlotOnFailedRecycle(t *testing.T) {
	m := &countingManager{failRecycle: true}
	p := New[int](m, 1)

	l1, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("Get errored: %s", err)
	}
	l1.Release()

	l2, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("Get errored: %s", err)
	}
	if atomic.LoadInt32(&m.created) != 2 {
		t.Errorf("expected a fresh Create after a failed recycle probe, got %d creates", m.created)
	}
	if atomic.LoadInt32(&m.disposed) != 1 {
		t.Errorf("expected the unhealthy item to be disposed, got %d disposes", m.disposed)
	}
	l2.Release()
}

func TestPoolCloseDisposesEveryCreatedItem(t *testing.T) {
	m := &countingManager{}
	p := New[int](m, 3)

	l1, _ := p.Get(context.Background())
	l2, _ := p.Get(context.Background())
	l1.Release()
	l2.Release()

	p.Close(context.Background())
	if atomic.LoadInt32(&m.disposed) != 2 {
		t.Errorf("expected Close to dispose every created item, got %d", m.disposed)
	}
}
