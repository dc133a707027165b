// Package worker runs tasks one at a time on a dedicated goroutine.
package worker

import (
	"sync"

	"github.com/pingcap/log"
	"go.uber.org/zap"
)

type TaskStop struct{}

type Task interface{}

type Worker struct {
	name     string
	sender   chan<- Task
	receiver <-chan Task
	wg       *sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

type TaskHandler interface {
	Handle(t Task)
}

type Starter interface {
	Start()
}

// Start launches the worker goroutine. Tasks are handled in submission
// order until Stop.
func (w *Worker) Start(handler TaskHandler) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if s, ok := handler.(Starter); ok {
			s.Start()
		}
		log.Debug("worker started", zap.String("name", w.name))
		for task := range w.receiver {
			if _, ok := task.(TaskStop); ok {
				log.Debug("worker stopped", zap.String("name", w.name))
				return
			}
			handler.Handle(task)
		}
	}()
}

func (w *Worker) Name() string {
	return w.name
}

// Submit queues t, blocking while the queue is full. It returns false once
// the worker has been stopped.
func (w *Worker) Submit(t Task) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return false
	}
	w.sender <- t
	return true
}

// Stop asks the worker to exit after the tasks already queued.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	w.sender <- TaskStop{}
}

const defaultWorkerCapacity = 128

func NewWorker(name string, wg *sync.WaitGroup) *Worker {
	ch := make(chan Task, defaultWorkerCapacity)
	return &Worker{
		sender:   (chan<- Task)(ch),
		receiver: (<-chan Task)(ch),
		name:     name,
		wg:       wg,
	}
}
