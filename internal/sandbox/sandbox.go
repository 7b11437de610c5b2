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

// Package sandbox wraps the container daemon client with the narrow set of
// operations the worker needs: create a long-lived hardened container,
// exec a command inside it with stdin attached, inspect it for recycling,
// and tear it down. Every container created here disables networking, caps
// pids, and drops new privileges so that untrusted submission code cannot
// escape or exhaust the host.
package sandbox

import (
	"bytes"
	"context"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/CatinPajama/crabjudge/internal/workerr"
)

// pidsLimit caps fork bombs inside the sandbox.
const pidsLimit = 16

// Result is what RunExec recovers from a single command execution.
type Result struct {
	Output   string
	ExitCode int
}

// dockerAPI is the subset of *client.Client the driver needs; narrowing it
// to an interface keeps the driver unit-testable against a fake.
type dockerAPI interface {
	ImagePull(ctx context.Context, ref string, options types.ImagePullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *container.NetworkingConfig, platform interface{}, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options types.ContainerStartOptions) error
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options types.ContainerRemoveOptions) error
	ContainerExecCreate(ctx context.Context, containerID string, config types.ExecConfig) (types.IDResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config types.ExecStartCheck) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (types.ContainerExecInspect, error)
}

// Driver is the sandbox driver, backed by a real docker daemon connection.
type Driver struct {
	cli dockerAPI
}

// New connects to the local container daemon using the standard
// environment-derived options (DOCKER_HOST, TLS material, API negotiation).
func New() (*Driver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, workerr.DockerError(err)
	}
	return &Driver{cli: cli}, nil
}

// PullImage pulls image and blocks until the pull stream is drained. No
// lease for an environment may be handed out before this completes.
func (d *Driver) PullImage(ctx context.Context, image string) error {
	reader, err := d.cli.ImagePull(ctx, image, types.ImagePullOptions{})
	if err != nil {
		return workerr.DockerError(err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return workerr.DockerError(err)
	}
	return nil
}

// CreateContainer creates and starts a long-lived hardened container for
// image, budgeted to memory bytes of RAM with swap disabled.
func (d *Driver) CreateContainer(ctx context.Context, image string, memory int64) (string, error) {
	cfg := &container.Config{
		Image:     image,
		Tty:       true,
		OpenStdin: true,
	}
	hostCfg := &container.HostConfig{
		NetworkMode: "none",
		Resources: container.Resources{
			Memory:     memory,
			MemorySwap: memory,
			PidsLimit:  ptrInt64(pidsLimit),
		},
		SecurityOpt: []string{"no-new-privileges"},
	}

	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return "", workerr.DockerError(err)
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return "", workerr.DockerError(err)
	}

	return resp.ID, nil
}

// Inspect checks whether the daemon can still inspect the container; used
// by the pool to decide whether a container can be recycled. Only the
// inspect call's error is checked; the container's run state is not.
func (d *Driver) Inspect(ctx context.Context, id string) error {
	if _, err := d.cli.ContainerInspect(ctx, id); err != nil {
		return workerr.DockerError(err)
	}
	return nil
}

// Kill sends SIGKILL to the container, best-effort.
func (d *Driver) Kill(ctx context.Context, id string) error {
	return d.cli.ContainerKill(ctx, id, "SIGKILL")
}

// Remove deletes the container, best-effort.
func (d *Driver) Remove(ctx context.Context, id string) error {
	return d.cli.ContainerRemove(ctx, id, types.ContainerRemoveOptions{Force: true})
}

// RunExec runs argv inside container id, streams testcase to stdin then
// closes it, drains the combined stdout+stderr stream in arrival order,
// and recovers the exit code. If docker still reports the exec as running
// once the output stream is drained, no exit code is available and RunExec
// fails rather than guessing a verdict.
func (d *Driver) RunExec(ctx context.Context, id string, argv []string, testcase string) (Result, error) {
	created, err := d.cli.ContainerExecCreate(ctx, id, types.ExecConfig{
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          argv,
	})
	if err != nil {
		return Result{}, workerr.DockerError(err)
	}

	attached, err := d.cli.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{})
	if err != nil {
		return Result{}, workerr.DockerError(err)
	}
	defer attached.Close()

	if _, err := attached.Conn.Write([]byte(testcase)); err != nil {
		return Result{}, workerr.DockerError(err)
	}
	attached.CloseWrite()

	// Demultiplex stdout and stderr into the same buffer so the combined
	// capture preserves arrival order.
	var combined bytes.Buffer
	if _, err := stdcopy.StdCopy(&combined, &combined, attached.Reader); err != nil {
		return Result{}, workerr.DockerError(err)
	}

	inspect, err := d.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return Result{}, workerr.DockerError(err)
	}
	if inspect.Running {
		return Result{}, workerr.DockerError(workerr.ErrNoExitCode)
	}

	return Result{Output: combined.String(), ExitCode: inspect.ExitCode}, nil
}

func ptrInt64(v int64) *int64 { return &v }
