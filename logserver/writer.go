// File: logserver/writer.go
// Package logserver
// Author: momentics <momentics@gmail.com>
//
// LogWriter is the single background consumer draining payloads enqueued by
// every LogServer it is passed to, guaranteeing one consumer's ordering
// across those listeners. It is not a package-level singleton: the embedder
// constructs it and passes the same instance to each NewServer call;
// server.MultiServer does not create or own one.

package logserver

import (
	"sync"

	"github.com/eapache/queue"
	"go.uber.org/zap"
)

// Record is a single decoded-or-not log frame handed to a Sink.
type Record struct {
	Payload []byte
	LogName string
}

// Sink receives records in enqueue order, one at a time, off the
// LogWriter's single background goroutine.
type Sink interface {
	Handle(Record)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Record)

func (f SinkFunc) Handle(r Record) { f(r) }

type item struct {
	rec      Record
	sentinel bool
}

// LogWriter owns a bounded FIFO and one background goroutine draining it
// into a Sink.
type LogWriter struct {
	log  *zap.Logger
	sink Sink

	mu       sync.Mutex
	cond     *sync.Cond
	q        *queue.Queue
	maxLen   int
	stopping bool
	done     chan struct{}
}

// NewLogWriter starts the background consumer immediately; call Close to
// request a graceful drain-then-stop.
func NewLogWriter(sink Sink, maxLen int, log *zap.Logger) *LogWriter {
	if log == nil {
		log = zap.NewNop()
	}
	if maxLen <= 0 {
		maxLen = 10000
	}
	w := &LogWriter{
		log:    log,
		sink:   sink,
		q:      queue.New(),
		maxLen: maxLen,
		done:   make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	go w.run()
	return w
}

// Enqueue adds rec to the FIFO, blocking briefly via the condition variable
// wakeup rather than dropping — callers are reactor-driven network reads,
// not producers that can tolerate silent loss.
func (w *LogWriter) Enqueue(rec Record) {
	w.mu.Lock()
	if w.stopping {
		w.mu.Unlock()
		return
	}
	for w.q.Length() >= w.maxLen {
		w.cond.Wait()
		if w.stopping {
			w.mu.Unlock()
			return
		}
	}
	w.q.Add(item{rec: rec})
	w.cond.Signal()
	w.mu.Unlock()
}

func (w *LogWriter) run() {
	defer close(w.done)
	for {
		w.mu.Lock()
		for w.q.Length() == 0 {
			w.cond.Wait()
		}
		it := w.q.Peek().(item)
		w.q.Remove()
		w.cond.Signal()
		w.mu.Unlock()

		if it.sentinel {
			return
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.log.Error("logserver: sink panicked", zap.Any("recover", r))
				}
			}()
			w.sink.Handle(it.rec)
		}()
	}
}

// Close enqueues a sentinel and blocks until the consumer has drained up to
// it and exited.
func (w *LogWriter) Close() error {
	w.mu.Lock()
	if w.stopping {
		w.mu.Unlock()
		<-w.done
		return nil
	}
	w.stopping = true
	w.q.Add(item{sentinel: true})
	w.cond.Broadcast()
	w.mu.Unlock()
	<-w.done
	return nil
}
