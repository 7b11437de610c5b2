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

// Package verdict classifies a sandboxed run's exit code and output against
// the reference testcase, and persists the result with a bounded retry
// envelope.
package verdict

import (
	"context"
	"database/sql"
	"log"
	"time"
	"unicode"

	"github.com/cenkalti/backoff/v4"

	"github.com/CatinPajama/crabjudge/internal/model"
	"github.com/CatinPajama/crabjudge/internal/workerr"
)

// Verdict is the judged outcome of one submission run.
type Verdict string

const (
	Passed               Verdict = "PASSED"
	WrongAnswer          Verdict = "WRONG ANSWER"
	MemoryLimitExceeded  Verdict = "MEMORY LIMIT EXCEEDED"
	SegmentationFault    Verdict = "SEGMENTATION FAULT"
	TimeLimitExceeded    Verdict = "TIME LIMIT EXCEEDED"
)

const (
	exitOOMKilled  = 137
	exitSegfault   = 139
	exitTimeout    = 124
)

// Classify maps an exit code and captured output to a Verdict. Exit codes
// that mark an abnormal termination (OOM kill, segfault, timeout) take
// priority over output comparison, since in those cases the program never
// ran to completion and any partial output is meaningless.
func Classify(exitCode int, output, reference string) Verdict {
	switch exitCode {
	case exitOOMKilled:
		return MemoryLimitExceeded
	case exitSegfault:
		return SegmentationFault
	case exitTimeout:
		return TimeLimitExceeded
	}
	if equalIgnoringWhitespace(output, reference) {
		return Passed
	}
	return WrongAnswer
}

// equalIgnoringWhitespace compares two strings ignoring all whitespace runs:
// trailing newlines, extra blank lines, and differing line-ending styles
// must not turn a correct answer into a wrong one.
func equalIgnoringWhitespace(a, b string) bool {
	ra, rb := []rune(a), []rune(b)
	i, j := 0, 0
	for {
		for i < len(ra) && unicode.IsSpace(ra[i]) {
			i++
		}
		for j < len(rb) && unicode.IsSpace(rb[j]) {
			j++
		}
		if i == len(ra) || j == len(rb) {
			break
		}
		if ra[i] != rb[j] {
			return false
		}
		i++
		j++
	}
	for i < len(ra) && unicode.IsSpace(ra[i]) {
		i++
	}
	for j < len(rb) && unicode.IsSpace(rb[j]) {
		j++
	}
	return i == len(ra) && j == len(rb)
}

// rowScanner is the part of *sql.Row the store needs, narrowed for
// testability.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// querier is the subset of *sql.DB the store needs, narrowed for testability.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) rowScanner
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// dbAdapter adapts *sql.DB to querier: *sql.DB.QueryRowContext returns the
// concrete *sql.Row rather than an interface, so it can't satisfy querier
// directly.
type dbAdapter struct {
	db *sql.DB
}

func (a dbAdapter) QueryRowContext(ctx context.Context, query string, args ...interface{}) rowScanner {
	return a.db.QueryRowContext(ctx, query, args...)
}

func (a dbAdapter) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return a.db.ExecContext(ctx, query, args...)
}

// Store persists and fetches the Postgres-backed state the verdict pipeline
// needs, retrying every query against a 10 second exponential backoff
// envelope.
type Store struct {
	db     querier
	logger *log.Logger
}

// NewStore wraps db for use by the verdict pipeline.
func NewStore(db *sql.DB) *Store {
	return &Store{db: dbAdapter{db: db}}
}

// SetLogger attaches a logger for fetch/persist visibility. A nil Store
// logger is valid (the zero Store used directly in tests included) and
// simply disables logging.
func (s *Store) SetLogger(l *log.Logger) {
	s.logger = l
}

func (s *Store) logf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

func retryEnvelope() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 10 * time.Second
	return b
}

// FetchTestcase retrieves the reference stdin/stdout pair for problemID.
func (s *Store) FetchTestcase(ctx context.Context, problemID int64) (model.Testcase, error) {
	var tc model.Testcase
	op := func() error {
		row := s.db.QueryRowContext(ctx,
			`SELECT testcase, output FROM problem_testcases WHERE problem_id = $1`, problemID)
		return row.Scan(&tc.Testcase, &tc.Output)
	}
	if err := backoff.Retry(op, backoff.WithContext(retryEnvelope(), ctx)); err != nil {
		s.logf("problem_id=%d fetch failed: %v", problemID, err)
		return model.Testcase{}, workerr.DatabaseError(err)
	}
	s.logf("problem_id=%d testcase fetched", problemID)
	return tc, nil
}

// Persist writes the judged verdict and captured output back for submissionID.
func (s *Store) Persist(ctx context.Context, submissionID int64, output string, v Verdict) error {
	op := func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE submit_status SET output = $1, status = $2 WHERE submission_id = $3`,
			output, string(v), submissionID)
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(retryEnvelope(), ctx)); err != nil {
		s.logf("submission_id=%d persist failed: %v", submissionID, err)
		return workerr.DatabaseError(err)
	}
	s.logf("submission_id=%d status=%s persisted", submissionID, v)
	return nil
}
