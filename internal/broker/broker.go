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

// Package broker declares the per-environment queue topology and wraps
// basic_consume into the worker's Consumer type. One shared direct exchange
// ("code") carries every environment's routing key; a dead-letter
// exchange/queue ("dlx"/"dlq") parks anything nacked without requeue.
package broker

import (
	"github.com/streadway/amqp"
)

const (
	// CodeExchange is the shared direct exchange every environment queue
	// binds to, routed by environment name.
	CodeExchange = "code"
	// DeadLetterExchange is the direct exchange bad/failed deliveries land on.
	DeadLetterExchange = "dlx"
	// DeadLetterQueue is where DeadLetterExchange routes everything.
	DeadLetterQueue = "dlq"
)

// amqpChannel is the subset of *amqp.Channel the topology/consumer code
// needs, narrowed to an interface for testability.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// DeclareTopology declares the dead-letter exchange/queue, the shared
// direct exchange, and the per-environment queue bound to it with the
// dead-letter arguments that route rejected-without-requeue messages to dlq.
func DeclareTopology(ch amqpChannel, env string) error {
	if err := ch.ExchangeDeclare(DeadLetterExchange, "direct", true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(DeadLetterQueue, true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.QueueBind(DeadLetterQueue, DeadLetterQueue, DeadLetterExchange, false, nil); err != nil {
		return err
	}

	if err := ch.ExchangeDeclare(CodeExchange, "direct", true, false, false, false, nil); err != nil {
		return err
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    DeadLetterExchange,
		"x-dead-letter-routing-key": DeadLetterQueue,
	}
	if _, err := ch.QueueDeclare(env, true, false, false, false, args); err != nil {
		return err
	}
	if err := ch.QueueBind(env, env, CodeExchange, false, nil); err != nil {
		return err
	}

	return nil
}

// Consume declares the environment's topology then opens a consumer on its
// queue with a broker-generated consumer tag.
func Consume(ch amqpChannel, env string) (<-chan amqp.Delivery, error) {
	if err := DeclareTopology(ch, env); err != nil {
		return nil, err
	}
	return ch.Consume(env, "", false, false, false, false, nil)
}

// Connect dials the broker and opens one channel.
func Connect(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}
