// Package observe implements the observation pipeline: materializing
// request/response bodies into reusable buffers and dispatching a single
// (request, response) snapshot to at most one configured sink, with the
// "poisoned lock" discipline described in the spec's concurrency model.
package observe

import (
	"log"
	"sync"

	"github.com/rustyproxy/rustyproxy/internal/message"
)

// Sink observes one completed exchange. Dispatch runs each invocation on
// its own goroutine (see below), so a slow sink — persistence, scanning
// triggers, ... — never blocks the forwarding path or holds the pipeline
// lock for longer than it takes to read the sink pointer.
type Sink func(req message.Request, resp message.Response)

// Pipeline owns the single sink slot and its poisoned-lock state. Go's
// sync.Mutex doesn't poison on panic the way a Rust std::sync::Mutex
// does, so the sticky "poisoned" flag here is the explicit stand-in: once
// a panic escapes a sink invocation, every later Dispatch call is skipped
// and logged rather than retried.
type Pipeline struct {
	mu       sync.Mutex
	sink     Sink
	poisoned bool
}

// New returns a Pipeline with no sink configured; Dispatch is then a
// no-op.
func New() *Pipeline {
	return &Pipeline{}
}

// SetSink installs (or replaces) the single sink. A poisoned pipeline
// stays poisoned even after a new sink is installed — the lock itself is
// what's poisoned, not the sink value, matching the spec's "a poisoned
// lock is logged and the sink is skipped" wording.
func (p *Pipeline) SetSink(sink Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = sink
}

// Dispatch delivers one completed exchange to the sink, at most once.
// Never called when forwarding failed before a response was produced.
// The sink itself runs on its own goroutine so that expensive sink work
// (persistence, scanning triggers, ...) never wedges the forwarding path
// that called Dispatch, and the mutex is only ever held long enough to
// snapshot the sink pointer or record a panic.
func (p *Pipeline) Dispatch(req message.Request, resp message.Response) {
	p.mu.Lock()
	if p.poisoned {
		p.mu.Unlock()
		log.Printf("observe: sink lock poisoned, skipping dispatch")
		return
	}
	sink := p.sink
	p.mu.Unlock()
	if sink == nil {
		return
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.mu.Lock()
				p.poisoned = true
				p.mu.Unlock()
				log.Printf("observe: sink panicked, poisoning lock: %v", r)
			}
		}()
		sink(req, resp)
	}()
}

// HasSink reports whether a sink is currently installed and the lock
// isn't poisoned — callers use this to decide whether response-body
// materialization is worth paying for (§4.4: only when a sink is
// configured).
func (p *Pipeline) HasSink() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sink != nil && !p.poisoned
}

// Poisoned reports whether a prior sink panic has poisoned the pipeline.
// Exposed for diagnostics/tests; the core never branches on it.
func (p *Pipeline) Poisoned() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.poisoned
}
