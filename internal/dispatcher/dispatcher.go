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

// Package dispatcher forwards broker deliveries to a leased container,
// judges the result, and acks/nacks according to the outcome. One
// Dispatcher serves one environment's queue.
package dispatcher

import (
	"context"
	"encoding/json"
	"log"

	"github.com/streadway/amqp"

	"github.com/CatinPajama/crabjudge/internal/executor"
	"github.com/CatinPajama/crabjudge/internal/model"
	"github.com/CatinPajama/crabjudge/internal/pool"
	"github.com/CatinPajama/crabjudge/internal/tasktracker"
	"github.com/CatinPajama/crabjudge/internal/verdict"
	"github.com/CatinPajama/crabjudge/internal/workerr"
)

// delivery is the subset of amqp.Delivery the dispatcher acts on, narrowed
// for testability; amqp.Delivery itself satisfies it.
type delivery interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// containerPool is the subset of *pool.Pool[pool.ContainerLease] the
// dispatcher needs.
type containerPool interface {
	Get(ctx context.Context) (*pool.Lease[pool.ContainerLease], error)
}

// store is the subset of *verdict.Store the dispatcher needs.
type store interface {
	FetchTestcase(ctx context.Context, problemID int64) (model.Testcase, error)
	Persist(ctx context.Context, submissionID int64, output string, v verdict.Verdict) error
}

// Dispatcher wires one environment's container pool, sandbox runner, and
// verdict store into a broker consume loop.
type Dispatcher struct {
	Pool    containerPool
	Runner  executor.Runner
	Store   store
	Runtime model.RuntimeConfig
	Tracker *tasktracker.Tracker

	// Logger receives per-delivery lifecycle lines. A nil Logger disables
	// logging; Dispatcher is usable zero-valued in tests for this reason.
	Logger *log.Logger
}

func (d *Dispatcher) logf(format string, args ...interface{}) {
	if d.Logger != nil {
		d.Logger.Printf(format, args...)
	}
}

// Listen drains deliveries until the channel closes (the broker connection
// dropped) or ctx is cancelled; either is a graceful shutdown and Listen
// returns nil once every in-flight delivery has finished. Every delivery is
// handled in a tracked goroutine so a cancellation can still let in-flight
// work finish reporting before Listen returns; cancelled-but-still-running
// deliveries are nacked with requeue=true so another worker can pick them
// up. A parse failure is nacked immediately without requeue. A pool.Get
// failure is fatal to the whole loop unless it was caused by ctx itself
// being cancelled, in which case it is just the shutdown signal. Every
// other outcome is decided by handleMessage's error.
func (d *Dispatcher) Listen(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			d.logf("env=%s shutting down, draining in-flight deliveries", d.Runtime.Env)
			d.Tracker.Close()
			d.Tracker.Wait()
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				d.logf("env=%s delivery channel closed, draining in-flight deliveries", d.Runtime.Env)
				d.Tracker.Close()
				d.Tracker.Wait()
				return nil
			}

			var task model.WorkerTask
			if err := json.Unmarshal(msg.Body, &task); err != nil {
				d.logf("env=%s dropping delivery with unparseable body: %v", d.Runtime.Env, err)
				msg.Nack(false, false)
				continue
			}

			lease, err := d.Pool.Get(ctx)
			if err != nil {
				if ctx.Err() != nil {
					d.logf("env=%s submission_id=%d pool.Get interrupted by shutdown", d.Runtime.Env, task.SubmissionID)
					d.Tracker.Close()
					d.Tracker.Wait()
					return nil
				}
				return workerr.DockerError(err)
			}

			msg := msg
			lease := lease
			task := task
			if err := d.Tracker.Spawn(func() {
				d.handleDelivery(ctx, msg, lease, task)
			}); err != nil {
				lease.Release()
				d.logf("env=%s submission_id=%d rejected at shutdown, requeuing", d.Runtime.Env, task.SubmissionID)
				msg.Nack(true, true)
			}
		}
	}
}

// handleDelivery runs handleMessage to completion, always releasing the
// lease only once that run has actually finished so a cancelled-but-still-
// running exec can never have its container handed back out to a
// concurrent Get. If ctx is cancelled before handleMessage returns, the
// delivery is nacked with requeue immediately so no verdict is lost to a
// shutdown mid-flight, but the lease release still waits for the goroutine.
func (d *Dispatcher) handleDelivery(ctx context.Context, msg delivery, lease *pool.Lease[pool.ContainerLease], task model.WorkerTask) {
	result := make(chan error, 1)
	go func() {
		result <- d.handleMessage(ctx, lease.Item, task)
	}()

	select {
	case <-ctx.Done():
		d.logf("env=%s submission_id=%d cancelled, requeuing", d.Runtime.Env, task.SubmissionID)
		msg.Nack(true, true)
		<-result
	case err := <-result:
		if err == nil {
			d.logf("env=%s submission_id=%d acked", d.Runtime.Env, task.SubmissionID)
			msg.Ack(false)
		} else {
			d.logf("env=%s submission_id=%d failed: %v", d.Runtime.Env, task.SubmissionID, err)
			msg.Nack(false, false)
		}
	}
	lease.Release()
}

// handleMessage fetches the reference testcase, runs the submission inside
// the leased container, classifies the outcome, and persists it.
func (d *Dispatcher) handleMessage(ctx context.Context, lease pool.ContainerLease, task model.WorkerTask) error {
	testcase, err := d.Store.FetchTestcase(ctx, task.ProblemID)
	if err != nil {
		return err
	}

	out, err := executor.Run(ctx, d.Runner, lease.ID, d.Runtime, task, testcase.Testcase)
	if err != nil {
		return err
	}

	v := verdict.Classify(out.ExitCode, out.Output, testcase.Output)
	return d.Store.Persist(ctx, task.SubmissionID, out.Output, v)
}
