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

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeLocalYAML(t *testing.T, dir string) {
	t.Helper()
	content := `
database:
  user: api
  password: secret
  host: localhost
  dbname: judge
  port: 5432
rabbitmq:
  host: localhost
  port: 5672
  vhost: /
runtimeconfigs:
  - env: python3
    image: python:3.12-slim
    run: python3 /tmp/file
    timeout: 5
    memory: 67108864
  - env: cpp
    image: gcc:13
    compile: g++ -O2 -o /tmp/a.out /tmp/file
    run: /tmp/a.out
    timeout: 2
    memory: 134217728
`
	if err := os.WriteFile(filepath.Join(dir, "local.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture: %s", err)
	}
}

func TestLoadParsesRuntimeConfigs(t *testing.T) {
	dir := t.TempDir()
	writeLocalYAML(t, dir)
	os.Setenv("APP_ENV", "local")
	defer os.Unsetenv("APP_ENV")

	settings, err := Load(dir)
	if err != nil {
		t.Fatalf("Load errored: %s", err)
	}
	if len(settings.RuntimeConfigs) != 2 {
		t.Fatalf("expected 2 runtime configs, got %d", len(settings.RuntimeConfigs))
	}
	python := settings.RuntimeConfigs[0]
	if python.Env != "python3" || python.Compile != nil {
		t.Errorf("python3 runtime parsed wrong: %+v", python)
	}
	cpp := settings.RuntimeConfigs[1]
	if cpp.Compile == nil || *cpp.Compile == "" {
		t.Errorf("cpp runtime should carry a compile command")
	}
	if python.EffectivePoolSize() != 2 {
		t.Errorf("expected default pool size of 2, got %d", python.EffectivePoolSize())
	}
}

func TestLoadDefaultsEnvironmentToLocal(t *testing.T) {
	dir := t.TempDir()
	writeLocalYAML(t, dir)
	os.Unsetenv("APP_ENV")

	if _, err := Load(dir); err != nil {
		t.Fatalf("Load with unset APP_ENV should default to local: %s", err)
	}
}

func TestLoadRejectsMissingTimeout(t *testing.T) {
	dir := t.TempDir()
	content := `
database: {user: a, password: b, host: c, dbname: d, port: 5432}
rabbitmq: {host: c, port: 5672, vhost: /}
runtimeconfigs:
  - env: broken
    image: alpine
    run: sh
`
	if err := os.WriteFile(filepath.Join(dir, "local.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture: %s", err)
	}
	os.Setenv("APP_ENV", "local")
	defer os.Unsetenv("APP_ENV")

	if _, err := Load(dir); err == nil {
		t.Errorf("expected an error for a runtime config missing a timeout")
	}
}

func TestDatabaseConfigURL(t *testing.T) {
	d := DatabaseConfig{User: "api", Password: "p", Host: "db", DBName: "judge", Port: 5432}
	want := "postgres://api:p@db:5432/judge?sslmode=disable"
	if got := d.URL(); got != want {
		t.Errorf("URL() = %q, want %q", got, want)
	}
}

func TestRabbitMQConfigURL(t *testing.T) {
	r := RabbitMQConfig{Host: "mq", Port: 5672, Vhost: "/"}
	want := "amqp://mq:5672//"
	if got := r.URL(); got != want {
		t.Errorf("URL() = %q, want %q", got, want)
	}
}
