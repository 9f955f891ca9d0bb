/*
Copyright 2021 U. Cirello (cirello.io and github.com/cirello-io)

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package dynamolock

import "context"

// Logger is the minimal logging interface this package depends on. It is
// satisfied by *log.Logger out of the box.
type Logger interface {
	Println(v ...interface{})
}

// LeveledLogger splits log output by level, without context awareness. Use
// WithLeveledLogger to plug one in.
type LeveledLogger interface {
	Info(v ...interface{})
	Error(v ...interface{})
}

// ContextLeveledLogger is a LeveledLogger that also receives the context
// active at the call site, so a caller-supplied logger can thread
// request-scoped fields (trace IDs, and the like) through. Use
// WithContextLeveledLogger to plug one in; this is the interface the client
// uses internally regardless of which With*Logger option was used.
type ContextLeveledLogger interface {
	Info(ctx context.Context, v ...interface{})
	Error(ctx context.Context, v ...interface{})
}

// plainLogger adapts a bare Logger (e.g. *log.Logger) into a
// ContextLeveledLogger, treating every line as informational and ignoring
// context.
type plainLogger struct {
	logger Logger
}

func (p *plainLogger) Info(_ context.Context, v ...interface{}) {
	if p.logger == nil {
		return
	}
	p.logger.Println(v...)
}

func (p *plainLogger) Error(_ context.Context, v ...interface{}) {
	if p.logger == nil {
		return
	}
	p.logger.Println(v...)
}

// contextLoggerAdapter adapts a LeveledLogger into a ContextLeveledLogger by
// discarding the context.
type contextLoggerAdapter struct {
	logger LeveledLogger
}

func (c *contextLoggerAdapter) Info(_ context.Context, v ...interface{}) {
	if c.logger == nil {
		return
	}
	c.logger.Info(v...)
}

func (c *contextLoggerAdapter) Error(_ context.Context, v ...interface{}) {
	if c.logger == nil {
		return
	}
	c.logger.Error(v...)
}
