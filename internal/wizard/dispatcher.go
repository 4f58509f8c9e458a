package wizard

import (
	"sync"
)

// Dispatcher serializes work onto a single goroutine with UI affinity.
// Background workers compute results on their own goroutines and hand all
// mutation of UI-observable state to the dispatcher, so that state is only
// ever touched from one place.
type Dispatcher struct {
	work chan func()
	stop chan struct{}
	done chan struct{}

	stopOnce sync.Once
}

// NewDispatcher starts the dispatch goroutine.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		work: make(chan func(), 64),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case <-d.stop:
			// Drain what was queued before the stop, then exit.
			for {
				select {
				case fn := <-d.work:
					fn()
				default:
					return
				}
			}
		case fn := <-d.work:
			fn()
		}
	}
}

// Invoke queues fn onto the dispatch goroutine. Work posted after Stop is
// dropped. Invoke never holds a lock across the queue send, so a full
// queue can delay this caller but never block Stop or other posters.
func (d *Dispatcher) Invoke(fn func()) {
	select {
	case <-d.stop:
		return
	default:
	}
	select {
	case d.work <- fn:
	case <-d.stop:
	}
}

// InvokeSync runs fn on the dispatch goroutine and waits for it to finish.
// Calling it from the dispatch goroutine itself would deadlock; callers
// that may already be on it use Invoke.
func (d *Dispatcher) InvokeSync(fn func()) {
	doneCh := make(chan struct{})
	d.Invoke(func() {
		defer close(doneCh)
		fn()
	})

	select {
	case <-doneCh:
	case <-d.done:
	}
}

// Stop drains queued work and stops the dispatch goroutine. Posters
// blocked on a full queue are released without their work running.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stop)
	})
	<-d.done
}
