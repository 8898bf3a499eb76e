// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package dispatch runs subtask executions on a bounded in-process worker
// pool. The engine only knows Enqueue/EnqueueAfter/Close; swapping in a
// distributed queue later means implementing those three methods.
//
// Jobs carry IDs, not state: the job body re-reads everything from the
// store, so a job enqueued before a pause or redirect observes the world
// as it is when it finally runs, not as it was when it was queued.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/investigator-ai/investigator/services/investigator/observability"
)

// ErrClosed is returned by Enqueue once the pool is shutting down.
var ErrClosed = errors.New("dispatch: pool is closed")

// ErrQueueFull is returned when the queue cannot take another job.
// Callers treat it like a transient failure; the janitor's stuck sweep
// is the backstop if work is lost this way.
var ErrQueueFull = errors.New("dispatch: queue is full")

// Job is one unit of background work. Run receives the pool's root
// context, which is cancelled only when a Close deadline expires.
type Job struct {
	// Name labels the job in logs ("subtask:<id>").
	Name string
	Run  func(ctx context.Context)
}

// Config sizes the pool.
type Config struct {
	// Workers is the number of concurrent job executors. Default 4.
	Workers int
	// QueueSize bounds how many jobs may wait. Default 256.
	QueueSize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	return c
}

// Pool is a fixed-size worker pool over a FIFO queue.
//
// Enqueue never blocks the caller beyond a full-queue check; EnqueueAfter
// parks the job on a timer first (retry backoff). Close stops intake,
// drains queued and running jobs, and only cancels outright when the
// caller's context expires.
type Pool struct {
	cfg    Config
	jobs   chan Job
	group  *errgroup.Group
	runCtx context.Context
	cancel context.CancelFunc

	closing chan struct{}
	timers  sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewPool creates and starts a pool with cfg.Workers executors.
func NewPool(cfg Config) *Pool {
	cfg = cfg.withDefaults()

	runCtx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:     cfg,
		jobs:    make(chan Job, cfg.QueueSize),
		runCtx:  runCtx,
		cancel:  cancel,
		closing: make(chan struct{}),
	}

	g := &errgroup.Group{}
	g.SetLimit(cfg.Workers)
	p.group = g
	for i := 0; i < cfg.Workers; i++ {
		g.Go(p.worker)
	}

	slog.Info("dispatch pool started", "workers", cfg.Workers, "queue_size", cfg.QueueSize)
	return p
}

// Enqueue adds a job to the back of the queue.
func (p *Pool) Enqueue(job Job) error {
	if job.Run == nil {
		return fmt.Errorf("dispatch: job %q has no body", job.Name)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.mu.Unlock()

	select {
	case p.jobs <- job:
		observability.DefaultMetrics.QueueDepth.Inc()
		return nil
	case <-p.closing:
		return ErrClosed
	default:
		return ErrQueueFull
	}
}

// EnqueueAfter schedules a job to join the queue after delay. Used for
// retry backoff. Jobs still waiting on their timer when Close begins are
// dropped; the stuck sweep re-fails anything that mattered.
func (p *Pool) EnqueueAfter(delay time.Duration, job Job) error {
	if delay <= 0 {
		return p.Enqueue(job)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.timers.Add(1)
	p.mu.Unlock()

	timer := time.NewTimer(delay)
	go func() {
		defer p.timers.Done()
		defer timer.Stop()
		select {
		case <-timer.C:
			if err := p.Enqueue(job); err != nil {
				slog.Warn("delayed job dropped", "job", job.Name, "error", err)
			}
		case <-p.closing:
		}
	}()
	return nil
}

// Close stops intake, waits for queued and running jobs to finish, and
// returns. If ctx expires first, running jobs are cancelled through their
// context and Close returns ctx.Err().
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.closing)
	p.mu.Unlock()

	// No new timers can start after closed=true; wait out the ones that
	// already saw the closing channel.
	p.timers.Wait()
	close(p.jobs)

	done := make(chan struct{})
	go func() {
		_ = p.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("dispatch pool drained")
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		slog.Warn("dispatch pool close deadline hit, jobs cancelled")
		return ctx.Err()
	}
}

// worker runs jobs until the queue closes.
func (p *Pool) worker() error {
	for job := range p.jobs {
		p.runJob(job)
	}
	return nil
}

// runJob executes one job with panic isolation. A panicking job must not
// take down the process or its worker; it is logged, counted, and the
// worker moves on.
func (p *Pool) runJob(job Job) {
	defer observability.DefaultMetrics.QueueDepth.Dec()
	defer func() {
		if r := recover(); r != nil {
			observability.RecordPanic()
			slog.Error("job panicked", "job", job.Name, "panic", r)
		}
	}()
	job.Run(p.runCtx)
}
