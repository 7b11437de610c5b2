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

// Package executor builds the sandboxed shell invocation for a submission
// and runs it through a container lease. Code bytes are passed as a
// positional shell argument ($1), never interpolated into the command
// template, so braces/quotes/backticks/`$()` in user code cannot alter the
// argv structure.
package executor

import (
	"context"
	"fmt"
	"log"

	"github.com/CatinPajama/crabjudge/internal/model"
	"github.com/CatinPajama/crabjudge/internal/sandbox"
)

// logger receives exec lifecycle lines; nil by default so packages that
// never call SetLogger (including every test in this tree) stay silent.
var logger *log.Logger

// SetLogger attaches a logger for exec start/finish visibility. Callers
// must never pass a logger that reveals submission code; Run only ever
// logs submission/env identifiers and exit codes.
func SetLogger(l *log.Logger) {
	logger = l
}

func logf(format string, args ...interface{}) {
	if logger != nil {
		logger.Printf(format, args...)
	}
}

// Runner is the sandbox operation the executor needs: run argv inside a
// container, streaming testcase to stdin and returning the combined
// output plus exit code.
type Runner interface {
	RunExec(ctx context.Context, containerID string, argv []string, testcase string) (sandbox.Result, error)
}

// BuildArgv constructs the sandboxed sh -c invocation:
//
//	sh -c "printf '%s' \"$1\" > /tmp/file && {COMMAND}" -- CODE
//
// where COMMAND is "compile && timeout Ts run" if compile is set, else
// "timeout Ts run". Code never appears anywhere except as the final
// positional argument.
func BuildArgv(compile *string, run string, timeout uint8, code string) []string {
	var command string
	if compile != nil && *compile != "" {
		command = fmt.Sprintf("%s && timeout %ds %s", *compile, timeout, run)
	} else {
		command = fmt.Sprintf("timeout %ds %s", timeout, run)
	}

	script := fmt.Sprintf(`printf '%%s' "$1" > /tmp/file && %s`, command)
	return []string{"sh", "-c", script, "--", code}
}

// Run executes the sandboxed invocation for task against containerID and
// returns the captured combined output and exit code. The submission's
// code is never logged, only its identifiers and the outcome.
func Run(ctx context.Context, runner Runner, containerID string, rt model.RuntimeConfig, task model.WorkerTask, testcase string) (model.ExecOutput, error) {
	logf("env=%s submission_id=%d starting exec in container %s", rt.Env, task.SubmissionID, containerID)
	argv := BuildArgv(rt.Compile, rt.Run, rt.Timeout, task.Code)
	out, err := runner.RunExec(ctx, containerID, argv, testcase)
	if err != nil {
		logf("env=%s submission_id=%d exec failed: %v", rt.Env, task.SubmissionID, err)
		return model.ExecOutput{}, err
	}
	logf("env=%s submission_id=%d exec finished with exit code %d", rt.Env, task.SubmissionID, out.ExitCode)
	return model.ExecOutput{Output: out.Output, ExitCode: out.ExitCode}, nil
}
