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

package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/streadway/amqp"
	_ "github.com/lib/pq"

	"github.com/CatinPajama/crabjudge/internal/config"
	"github.com/CatinPajama/crabjudge/internal/executor"
	"github.com/CatinPajama/crabjudge/internal/logging"
	"github.com/CatinPajama/crabjudge/internal/sandbox"
	"github.com/CatinPajama/crabjudge/internal/supervisor"
	"github.com/CatinPajama/crabjudge/internal/verdict"
)

func main() {
	configPath := flag.String("config", "configuration", "Directory holding <APP_ENV>.yaml")
	flag.Parse()

	logger := logging.New("worker")
	executor.SetLogger(logging.New("executor"))

	settings, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal(err)
	}

	db, err := sql.Open("postgres", settings.Database.URL())
	if err != nil {
		logger.Fatal(err)
	}
	defer db.Close()
	store := verdict.NewStore(db)
	store.SetLogger(logging.New("verdict"))

	driver, err := sandbox.New()
	if err != nil {
		logger.Fatal(err)
	}

	conn, err := amqp.Dial(settings.RabbitMQ.URL())
	if err != nil {
		logger.Fatal(err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for _, rt := range settings.RuntimeConfigs {
		rt := rt
		ch, err := conn.Channel()
		if err != nil {
			logger.Fatalf("environment %s: opening channel: %s", rt.Env, err)
		}

		sup, deliveries, err := supervisor.Bootstrap(ctx, driver, ch, store, rt)
		if err != nil {
			logger.Fatalf("environment %s: bootstrap failed: %s", rt.Env, err)
		}

		logger.Printf("environment %s: started with pool size %d", rt.Env, rt.EffectivePoolSize())

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sup.Run(ctx, deliveries); err != nil {
				logger.Printf("environment %s: stopped: %s", rt.Env, err)
			}
		}()
	}

	wg.Wait()
	logger.Println("all environments drained, exiting")
}
