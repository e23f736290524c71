// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package workers provides the fixed goroutine pool that runs blocking
// collaborator calls (camera HTTP requests, relay teardown) off the
// orchestrator's coordination loop.
package workers

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/camrelay/internal/log"
)

var (
	ErrClosed    = errors.New("worker pool closed")
	ErrQueueFull = errors.New("worker pool queue full")
)

// Task is a unit of work. ctx is cancelled when the pool closes.
type Task func(ctx context.Context)

// Pool runs submitted tasks on a fixed number of goroutines.
type Pool struct {
	name   string
	tasks  chan Task
	ctx    context.Context
	cancel context.CancelFunc
	g      *errgroup.Group
	logger zerolog.Logger

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

// New starts a pool with size workers and a queue of queueLen pending tasks.
func New(name string, size, queueLen int) *Pool {
	if size <= 0 {
		size = 2
	}
	if queueLen <= 0 {
		queueLen = 16
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:   name,
		tasks:  make(chan Task, queueLen),
		ctx:    ctx,
		cancel: cancel,
		g:      &errgroup.Group{},
		logger: log.WithComponent("workers").With().Str("pool", name).Logger(),
	}
	for i := 0; i < size; i++ {
		p.g.Go(p.worker)
	}
	return p
}

func (p *Pool) worker() error {
	for task := range p.tasks {
		p.run(task)
	}
	return nil
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Interface("panic", r).
				Str(log.FieldEvent, "workers.task_panic").
				Msg("task panicked")
		}
	}()
	task(p.ctx)
}

// Submit enqueues a task without blocking.
// It returns ErrQueueFull when all workers are busy and the queue is full.
func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close cancels the task context, stops accepting work and waits until every
// queued and running task returned. It is safe to call more than once.
func (p *Pool) Close() {
	p.once.Do(func() {
		p.cancel()
		p.mu.Lock()
		p.closed = true
		close(p.tasks)
		p.mu.Unlock()
		_ = p.g.Wait()
	})
}
