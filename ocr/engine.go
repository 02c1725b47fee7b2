package ocr

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrClosed is returned by Recognize after Close.
var ErrClosed = errors.New("ocr: engine closed")

// Engine owns the recognizer. The recognizer is built on first use by a
// single worker goroutine and every recognition runs on that goroutine, so
// the model is never touched concurrently. A failed build is retried on the
// next request. One Engine lives for the whole process.
type Engine struct {
	factory func() (Recognizer, error)
	logger  *slog.Logger

	start   sync.Once
	stop    sync.Once
	reqs    chan request
	quit    chan struct{}
	stopped chan struct{}
}

type request struct {
	ctx   context.Context
	png   []byte
	reply chan result
}

type result struct {
	rec Recognition
	err error
}

// NewEngine returns an idle engine. factory is called on the first
// Recognize and again after each failure, until it succeeds once.
func NewEngine(factory func() (Recognizer, error), logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		factory: factory,
		logger:  logger,
		reqs:    make(chan request),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Recognize queues png for the worker and waits for its answer.
func (e *Engine) Recognize(ctx context.Context, png []byte) (Recognition, error) {
	e.start.Do(func() { go e.run() })
	req := request{ctx: ctx, png: png, reply: make(chan result, 1)}
	select {
	case e.reqs <- req:
	case <-e.quit:
		return Recognition{}, ErrClosed
	case <-ctx.Done():
		return Recognition{}, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res.rec, res.err
	case <-ctx.Done():
		return Recognition{}, ctx.Err()
	}
}

func (e *Engine) run() {
	defer close(e.stopped)
	var rec Recognizer
	for {
		select {
		case <-e.quit:
			return
		case req := <-e.reqs:
			if req.ctx.Err() != nil {
				req.reply <- result{err: req.ctx.Err()}
				continue
			}
			if rec == nil {
				r, err := e.factory()
				if err != nil {
					e.logger.Error("ocr: engine init failed", "error", err)
					req.reply <- result{err: err}
					continue
				}
				e.logger.Info("ocr: engine ready")
				rec = r
			}
			r, err := rec.Recognize(req.ctx, req.png)
			req.reply <- result{rec: r, err: err}
		}
	}
}

// Close stops the worker if it was started.
func (e *Engine) Close() {
	e.stop.Do(func() {
		close(e.quit)
		started := true
		e.start.Do(func() { started = false })
		if started {
			<-e.stopped
		}
	})
}
