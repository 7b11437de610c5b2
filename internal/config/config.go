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

// Package config loads the worker's settings from a YAML file selected by
// the APP_ENV environment variable, the same load-from-disk idiom the rest
// of the repository already uses for CI configuration.
package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"github.com/CatinPajama/crabjudge/internal/model"
)

// DatabaseConfig carries the Postgres connection parameters.
type DatabaseConfig struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
	DBName   string `yaml:"dbname"`
	Port     uint16 `yaml:"port"`
}

// URL builds the postgres:// DSN used by database/sql.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.DBName)
}

// RabbitMQConfig carries the broker connection parameters.
type RabbitMQConfig struct {
	Host  string `yaml:"host"`
	Port  uint16 `yaml:"port"`
	Vhost string `yaml:"vhost"`
}

// URL builds the amqp:// DSN used by streadway/amqp.
func (r RabbitMQConfig) URL() string {
	vhost := r.Vhost
	if vhost == "" {
		vhost = "/"
	}
	return fmt.Sprintf("amqp://%s:%d/%s", r.Host, r.Port, vhost)
}

// Settings is the fully loaded worker configuration: where to find the
// database and broker, and the set of execution environments to serve.
type Settings struct {
	Database       DatabaseConfig        `yaml:"database"`
	RabbitMQ       RabbitMQConfig        `yaml:"rabbitmq"`
	RuntimeConfigs []model.RuntimeConfig `yaml:"runtimeconfigs"`
}

// Environment names the deployment environment selected via APP_ENV.
type Environment string

const (
	Local      Environment = "local"
	Production Environment = "production"
)

// CurrentEnvironment reads APP_ENV, defaulting to Local when unset.
func CurrentEnvironment() Environment {
	switch os.Getenv("APP_ENV") {
	case string(Production):
		return Production
	case "", string(Local):
		return Local
	default:
		return Environment(os.Getenv("APP_ENV"))
	}
}

// Load reads "<basePath>/<APP_ENV>.yaml" and unmarshals it into Settings.
func Load(basePath string) (*Settings, error) {
	env := CurrentEnvironment()
	path := filepath.Join(basePath, string(env)+".yaml")

	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var settings Settings
	if err := yaml.Unmarshal(raw, &settings); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	const minMemory = 1 << 20 // 1 MiB

	for i := range settings.RuntimeConfigs {
		if settings.RuntimeConfigs[i].Timeout == 0 {
			return nil, fmt.Errorf("config: runtime %q is missing a timeout",
				settings.RuntimeConfigs[i].Env)
		}
		if settings.RuntimeConfigs[i].Memory < minMemory {
			return nil, fmt.Errorf("config: runtime %q memory %d is below the 1 MiB floor",
				settings.RuntimeConfigs[i].Env, settings.RuntimeConfigs[i].Memory)
		}
	}

	return &settings, nil
}
