// Package simulator provides a virtual-time event loop for running a
// whole cluster of cooperating processes inside a single test binary.
//
// Each simulated process runs in its own goroutine and interacts with
// the world only by scheduling and polling events. Virtual time only
// advances while every process is blocked in Poll, so computation is
// free and communication cost is fully controlled by the network model.
package simulator

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/pkg/errors"
	"github.com/unixpickle/essentials"
)

// An EventStream is a uni-directional channel of events passed through
// an EventLoop. A stream may only be used with the loop that created
// it.
type EventStream struct {
	loop    *EventLoop
	pending []interface{}
}

// An Event is a message received on some EventStream.
type Event struct {
	Message interface{}
	Stream  *EventStream
}

// A Timer is a single delivery that will happen in the virtual future.
type Timer struct {
	time  float64
	event *Event
}

// Time returns the virtual time at which the timer fires.
func (t *Timer) Time() float64 {
	return t.time
}

// A Handle is one goroutine's access point to an EventLoop. Handles
// must not be shared between goroutines.
type Handle struct {
	*EventLoop

	// Set while the goroutine is polling.
	pollStreams []*EventStream
	pollChan    chan<- *Event
}

// Poll blocks until the next event arrives on any of the streams.
func (h *Handle) Poll(streams ...*EventStream) *Event {
	ch := make(chan *Event, 1)
	h.modifyHandles(func() {
		if h.pollStreams != nil {
			panic("simulator: Handle is shared between goroutines")
		}
		for _, stream := range streams {
			if len(stream.pending) > 0 {
				msg := stream.pending[0]
				essentials.OrderedDelete(&stream.pending, 0)
				ch <- &Event{Message: msg, Stream: stream}
				return
			}
		}
		h.pollStreams = streams
		h.pollChan = ch
	})
	return <-ch
}

// Schedule arranges for msg to be delivered on stream after delay units
// of virtual time.
func (h *Handle) Schedule(stream *EventStream, msg interface{}, delay float64) *Timer {
	if stream.loop != h.EventLoop {
		panic("simulator: EventStream belongs to a different EventLoop")
	}
	var timer *Timer
	h.modify(func() {
		timer = &Timer{
			time:  h.time + delay,
			event: &Event{Message: msg, Stream: stream},
		}
		if math.IsInf(timer.time, 0) || math.IsNaN(timer.time) {
			panic(fmt.Sprintf("simulator: invalid deadline: %f", timer.time))
		}
		h.timers = append(h.timers, timer)
	})
	return timer
}

// Sleep waits for virtual time to elapse.
func (h *Handle) Sleep(delay float64) {
	stream := h.Stream()
	h.Schedule(stream, nil, delay)
	h.Poll(stream)
}

// An EventLoop is the global scheduler of a simulated cluster.
//
// All goroutines that use a loop must be started through Go. The loop
// makes progress only while every active goroutine is polling, and it
// delivers same-deadline events in random order so that simulations
// exercise different message interleavings across runs.
type EventLoop struct {
	lock    sync.Mutex
	timers  []*Timer
	handles []*Handle

	time float64

	running  bool
	notifyCh chan struct{}
}

// NewEventLoop creates an event loop with its clock at 0.
func NewEventLoop() *EventLoop {
	return &EventLoop{notifyCh: make(chan struct{}, 1)}
}

// Stream creates a new EventStream.
func (e *EventLoop) Stream() *EventStream {
	return &EventStream{loop: e}
}

// Go runs f in a goroutine with its own Handle.
func (e *EventLoop) Go(f func(h *Handle)) {
	h := &Handle{EventLoop: e}
	e.lock.Lock()
	e.handles = append(e.handles, h)
	e.lock.Unlock()
	go func() {
		f(h)
		e.modifyHandles(func() {
			for i, handle := range e.handles {
				if handle == h {
					essentials.UnorderedDelete(&e.handles, i)
					return
				}
			}
			panic("simulator: freeing unknown handle")
		})
	}()
}

// Run drives the loop until every goroutine has returned. It returns
// an error if the simulation deadlocks.
//
// Run may only be called from one goroutine at a time.
func (e *EventLoop) Run() error {
	e.lock.Lock()
	if e.running {
		e.lock.Unlock()
		panic("simulator: EventLoop is already running")
	}
	e.running = true
	e.lock.Unlock()

	defer func() {
		e.lock.Lock()
		e.running = false
		e.lock.Unlock()
	}()

	for range e.notifyCh {
		if shouldContinue, err := e.step(); !shouldContinue {
			return err
		}
	}

	panic("unreachable")
}

// MustRun is like Run but panics on deadlock.
func (e *EventLoop) MustRun() {
	if err := e.Run(); err != nil {
		panic(err)
	}
}

// Time returns the current virtual time.
func (e *EventLoop) Time() float64 {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.time
}

// modify runs f under the loop lock without waking the scheduler.
func (e *EventLoop) modify(f func()) {
	e.lock.Lock()
	defer e.lock.Unlock()
	f()
}

// modifyHandles runs f under the loop lock and wakes the scheduler,
// for state changes that can unblock or block goroutines.
func (e *EventLoop) modifyHandles(f func()) {
	e.lock.Lock()
	defer func() {
		e.lock.Unlock()
		select {
		case e.notifyCh <- struct{}{}:
		default:
		}
	}()
	f()
}

func (e *EventLoop) step() (bool, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	if len(e.handles) == 0 {
		return false, nil
	}

	for _, h := range e.handles {
		if len(h.pollStreams) == 0 {
			// A goroutine is computing in real time; let it finish.
			return true, nil
		}
	}

	for len(e.timers) > 0 {
		// Shuffle so that equal deadlines fire in no particular
		// order.
		indices := rand.Perm(len(e.timers))
		minIdx := indices[0]
		for _, i := range indices[1:] {
			if e.timers[i].time < e.timers[minIdx].time {
				minIdx = i
			}
		}
		timer := e.timers[minIdx]

		essentials.UnorderedDelete(&e.timers, minIdx)
		e.time = math.Max(e.time, timer.time)
		if e.deliver(timer.event) {
			return true, nil
		}
	}

	return false, errors.New("simulator: deadlock, all goroutines are polling")
}

func (e *EventLoop) deliver(event *Event) bool {
	// Shuffle so that multiple receivers on one stream are not served
	// in a deterministic order.
	indices := rand.Perm(len(e.handles))
	for _, i := range indices {
		h := e.handles[i]
		for _, stream := range h.pollStreams {
			if stream == event.Stream {
				h.pollChan <- event
				h.pollChan = nil
				h.pollStreams = nil
				return true
			}
		}
	}
	event.Stream.pending = append(event.Stream.pending, event.Message)
	return false
}
