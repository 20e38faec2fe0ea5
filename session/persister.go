package session

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type writeOp struct {
	name string
	run  func(ctx context.Context) error
	done chan struct{}
}

// persister applies store writes one at a time, in the order they were queued.
// Enqueue never blocks on the store.
type persister struct {
	logger *zap.Logger

	mu     sync.Mutex
	queue  []writeOp
	closed bool
	wake   chan struct{}
	exited chan struct{}
}

func newPersister(logger *zap.Logger) *persister {
	p := &persister{
		logger: logger,
		wake:   make(chan struct{}, 1),
		exited: make(chan struct{}),
	}
	go p.loop()
	return p
}

func (p *persister) enqueue(op writeOp) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		if op.done != nil {
			close(op.done)
		}
		return false
	}
	p.queue = append(p.queue, op)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return true
}

func (p *persister) loop() {
	defer close(p.exited)
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			closed := p.closed
			p.mu.Unlock()
			if closed {
				return
			}
			<-p.wake
			continue
		}
		op := p.queue[0]
		p.queue[0] = writeOp{}
		p.queue = p.queue[1:]
		p.mu.Unlock()

		if op.run != nil {
			if err := op.run(context.Background()); err != nil {
				p.logger.Warn("session persistence failed",
					zap.String("op", op.name),
					zap.Error(err))
			}
		}
		if op.done != nil {
			close(op.done)
		}
	}
}

// flush waits until every write queued before the call has been applied.
func (p *persister) flush(ctx context.Context) error {
	done := make(chan struct{})
	p.enqueue(writeOp{name: "flush", done: done})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close drains queued writes and stops the worker.
func (p *persister) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.exited
		return
	}
	p.closed = true
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	<-p.exited
}
