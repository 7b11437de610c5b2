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
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/CatinPajama/crabjudge/internal/workerr"
)

// ContainerLease is the resource type leased out of a container Pool: the
// daemon-assigned id of a preheated, reusable container plus an opaque
// correlation label for log lines.
type ContainerLease struct {
	ID    string
	Label string
}

// containerDriver is the subset of sandbox.Driver a ContainerGroup needs.
type containerDriver interface {
	CreateContainer(ctx context.Context, image string, memory int64) (string, error)
	Inspect(ctx context.Context, id string) error
	Kill(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
}

// ContainerGroup is the per-environment pool Manager: it knows how to
// create a hardened container for its image/memory budget, recycle one via
// an inspect probe, and dispose of one via kill+remove. It also records
// every id it has ever created (read back through CreatedIDs), guarded by a
// mutex against concurrent Create calls. Teardown goes through Pool.Close,
// which disposes each slot's current container; a container replaced after
// a failed recycle probe is disposed at replacement time.
type ContainerGroup struct {
	driver containerDriver
	image  string
	memory int64

	mu   sync.Mutex
	ids  []string

	logger *log.Logger
}

// NewContainerGroup builds a ContainerGroup for one execution environment.
// The caller must have already pulled image before leases are handed out;
// pulling is the Supervisor's job at startup.
func NewContainerGroup(driver containerDriver, image string, memory int64) *ContainerGroup {
	return &ContainerGroup{driver: driver, image: image, memory: memory}
}

// SetLogger attaches a logger to the group for container lifecycle
// visibility. A nil logger is valid and simply disables logging.
func (g *ContainerGroup) SetLogger(l *log.Logger) {
	g.logger = l
}

func (g *ContainerGroup) logf(format string, args ...interface{}) {
	if g.logger != nil {
		g.logger.Printf(format, args...)
	}
}

// Create implements Manager: makes a fresh hardened container and records
// its id for later teardown.
func (g *ContainerGroup) Create(ctx context.Context) (ContainerLease, error) {
	id, err := g.driver.CreateContainer(ctx, g.image, g.memory)
	if err != nil {
		g.logf("create failed for image %s: %v", g.image, err)
		return ContainerLease{}, workerr.DockerError(err)
	}

	g.mu.Lock()
	g.ids = append(g.ids, id)
	g.mu.Unlock()

	g.logf("created container %s from image %s", id, g.image)
	return ContainerLease{ID: id, Label: uuid.NewString()}, nil
}

// Recycle implements Manager: an inspect probe decides whether a
// previously created container can be reused.
func (g *ContainerGroup) Recycle(ctx context.Context, lease ContainerLease) error {
	if err := g.driver.Inspect(ctx, lease.ID); err != nil {
		g.logf("recycle probe failed for container %s: %v", lease.ID, err)
		return err
	}
	return nil
}

// Dispose implements Manager: kill then remove, ignoring individual
// failures (the daemon reaps anything that survives).
func (g *ContainerGroup) Dispose(ctx context.Context, lease ContainerLease) {
	g.logf("disposing container %s", lease.ID)
	_ = g.driver.Kill(ctx, lease.ID)
	_ = g.driver.Remove(ctx, lease.ID)
}

// CreatedIDs returns every container id this group has ever created, for
// diagnostics/tests.
func (g *ContainerGroup) CreatedIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.ids))
	copy(out, g.ids)
	return out
}
