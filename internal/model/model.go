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

// Package model holds the data shapes shared across the worker: the runtime
// configuration per execution environment, the broker task payload, and the
// testcase/verdict types the execution pipeline passes around.
package model

// RuntimeConfig describes one execution environment: the container image
// used to run submissions, the compile/run shell commands, and the
// resource/time budget applied to every exec inside it.
type RuntimeConfig struct {
	Env      string  `yaml:"env"`
	Image    string  `yaml:"image"`
	Run      string  `yaml:"run"`
	Compile  *string `yaml:"compile,omitempty"`
	Timeout  uint8   `yaml:"timeout"`
	Memory   int64   `yaml:"memory"`
	PoolSize int     `yaml:"pool_size,omitempty"`
}

// EffectivePoolSize returns PoolSize when set, otherwise the worker's
// default container pool capacity of 2.
func (r RuntimeConfig) EffectivePoolSize() int {
	if r.PoolSize > 0 {
		return r.PoolSize
	}
	return 2
}

// WorkerTask is the JSON payload published by the Submitter for a single
// submission awaiting execution.
type WorkerTask struct {
	SubmissionID int64  `json:"submission_id"`
	UserID       int64  `json:"user_id"`
	ProblemID    int64  `json:"problem_id"`
	Code         string `json:"code"`
}

// Testcase is the reference stdin/stdout pair fetched for a problem.
type Testcase struct {
	Testcase string
	Output   string
}

// ExecOutput is what the Executor recovers from one sandboxed run: the
// combined stdout+stderr capture and the process exit code.
type ExecOutput struct {
	Output   string
	ExitCode int
}
