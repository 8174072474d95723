package backend

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/nci/soapproxy/utils"
)

const DefaultQueueSize = 400

type Task struct {
	Ctx     context.Context
	Request []byte
	Resp    chan io.ReadCloser
	Error   chan error
}

// Pool runs backend requests on a fixed set of workers. It is itself a
// Transport, so callers do not need to know about it.
type Pool struct {
	TaskQueue chan *Task

	mu        sync.RWMutex
	transport Transport
}

func NewPool(t Transport, n, queueSize int) *Pool {
	if n <= 0 {
		n = 1
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	p := &Pool{
		TaskQueue: make(chan *Task, queueSize),
		transport: t,
	}
	for i := 0; i < n; i++ {
		go p.worker()
	}
	return p
}

// SetTransport replaces the transport used for new tasks.
func (p *Pool) SetTransport(t Transport) {
	p.mu.Lock()
	p.transport = t
	p.mu.Unlock()
}

func (p *Pool) Transport() Transport {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.transport
}

func (p *Pool) Mode() utils.BackendMode {
	return p.Transport().Mode()
}

func (p *Pool) AddQueue(task *Task) {
	select {
	case p.TaskQueue <- task:
	default:
		task.Error <- utils.NewError(utils.ErrBackendExec, "pool task queue is full")
	}
}

func (p *Pool) worker() {
	for task := range p.TaskQueue {
		if err := task.Ctx.Err(); err != nil {
			task.Error <- utils.WrapError(utils.ErrBackendExec, errors.Wrap(err, "request expired in queue"))
			continue
		}
		out, err := p.Transport().Execute(task.Ctx, task.Request)
		if err != nil {
			task.Error <- err
			continue
		}
		task.Resp <- out
	}
}

func (p *Pool) Execute(ctx context.Context, request []byte) (io.ReadCloser, error) {
	task := &Task{
		Ctx:     ctx,
		Request: request,
		Resp:    make(chan io.ReadCloser, 1),
		Error:   make(chan error, 1),
	}
	p.AddQueue(task)

	select {
	case out := <-task.Resp:
		return out, nil
	case err := <-task.Error:
		return nil, err
	case <-ctx.Done():
		go func() {
			select {
			case out := <-task.Resp:
				out.Close()
			case <-task.Error:
			}
		}()
		return nil, utils.WrapError(utils.ErrBackendExec, ctx.Err())
	}
}

func (p *Pool) Version(ctx context.Context) (*VersionInfo, error) {
	vr, ok := p.Transport().(VersionReporter)
	if !ok {
		return nil, utils.NewError(utils.ErrNotImplemented, "backend version is only available in exec mode")
	}
	return vr.Version(ctx)
}

// Close stops the workers once the queued tasks are done.
func (p *Pool) Close() {
	close(p.TaskQueue)
}
