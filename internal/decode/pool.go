/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package decode runs the decoder worker pool. Workers pull requests off a
// priority queue, decode the passage's file into its ring buffer at the
// working sample rate, and honor the buffer's watermark hysteresis so a full
// buffer parks the producer instead of spinning.
package decode

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/melisma/internal/passage"
	"github.com/friendsincode/melisma/internal/ringbuf"
)

// Priority orders decode requests. Lower values are served first.
type Priority int

const (
	// PriorityImmediate marks the passage that is (about to be) audible.
	PriorityImmediate Priority = iota
	// PriorityNext marks the passage in the next slot.
	PriorityNext
	// PriorityPrefetch marks passages buffered ahead of need.
	PriorityPrefetch
)

func (p Priority) String() string {
	switch p {
	case PriorityImmediate:
		return "immediate"
	case PriorityNext:
		return "next"
	case PriorityPrefetch:
		return "prefetch"
	default:
		return "unknown"
	}
}

// Request asks the pool to decode one passage into its ring buffer.
type Request struct {
	QueueEntryID uuid.UUID
	Passage      passage.Passage
	Buffer       *ringbuf.Buffer
	Priority     Priority

	// Ctx cancels this request; the worker exits at the next chunk
	// boundary. A nil Ctx means context.Background().
	Ctx context.Context

	// OnDiscoveredEnd is invoked (from the worker goroutine, before
	// MarkComplete) when the passage end was undefined and the decoder
	// reached EOF. May be nil.
	OnDiscoveredEnd func(queueEntryID uuid.UUID, endTick int64)

	// OnDone is invoked after the buffer is marked complete or failed.
	// May be nil.
	OnDone func(queueEntryID uuid.UUID, err error)
}

// DefaultWorkers is the decode pool size when the caller does not override
// it. Two workers keep a current and a next passage decoding in parallel on
// resource-constrained hosts.
const DefaultWorkers = 2

// Pool schedules decode requests across worker goroutines.
type Pool struct {
	logger zerolog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending []Request
	closed  bool

	// immediateWaiting gates prefetch decoders: while an Immediate
	// request is queued, lower-priority workers yield at chunk
	// boundaries so the urgent passage gets the decode bandwidth.
	immediateWaiting atomic.Int32

	wg         sync.WaitGroup
	sampleRate uint32
}

// NewPool starts numWorkers decode workers targeting the working sample rate.
func NewPool(numWorkers int, sampleRate uint32, logger zerolog.Logger) *Pool {
	if numWorkers < 1 {
		numWorkers = DefaultWorkers
	}

	p := &Pool{
		logger:     logger.With().Str("component", "decoder_pool").Logger(),
		sampleRate: sampleRate,
	}
	p.cond = sync.NewCond(&p.mu)

	p.logger.Info().Int("workers", numWorkers).Msg("decoder pool starting")
	for i := 0; i < numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// Submit queues a decode request. Returns false after Shutdown.
func (p *Pool) Submit(req Request) bool {
	if req.Ctx == nil {
		req.Ctx = context.Background()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.insert(req)
	if req.Priority == PriorityImmediate {
		p.immediateWaiting.Add(1)
	}
	p.mu.Unlock()

	p.cond.Signal()
	return true
}

// insert keeps pending sorted by priority, FIFO within a priority. Called
// with the lock held.
func (p *Pool) insert(req Request) {
	idx := len(p.pending)
	for i, queued := range p.pending {
		if req.Priority < queued.Priority {
			idx = i
			break
		}
	}
	p.pending = append(p.pending, Request{})
	copy(p.pending[idx+1:], p.pending[idx:])
	p.pending[idx] = req
}

// Shutdown stops accepting requests and waits for the workers to exit. A
// worker exits only once no request is pending: in-flight decodes are not
// cancelled and run to the end of their passage, and requests already queued
// are still decoded.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
	p.wg.Wait()
	p.logger.Info().Msg("decoder pool stopped")
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	logger := p.logger.With().Int("worker", id).Logger()
	logger.Debug().Msg("decoder worker started")

	for {
		p.mu.Lock()
		for len(p.pending) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.pending) == 0 && p.closed {
			p.mu.Unlock()
			logger.Debug().Msg("decoder worker shutting down")
			return
		}
		req := p.pending[0]
		p.pending = p.pending[1:]
		if req.Priority == PriorityImmediate {
			p.immediateWaiting.Add(-1)
		}
		p.mu.Unlock()

		logger.Debug().
			Str("queue_entry", req.QueueEntryID.String()).
			Str("priority", req.Priority.String()).
			Str("file", req.Passage.FilePath).
			Msg("decoding passage")

		err := p.decode(req, logger)
		if err != nil {
			logger.Error().Err(err).
				Str("queue_entry", req.QueueEntryID.String()).
				Str("file", req.Passage.FilePath).
				Msg("decode failed")
			req.Buffer.MarkFailed()
		}
		if req.OnDone != nil {
			req.OnDone(req.QueueEntryID, err)
		}
	}
}

// shouldYield reports whether a lower-priority decode should give way at the
// next chunk boundary.
func (p *Pool) shouldYield(pri Priority) bool {
	return pri != PriorityImmediate && p.immediateWaiting.Load() > 0
}
