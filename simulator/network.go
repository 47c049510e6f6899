package simulator

import (
	"math/rand"
	"sync"
)

// A Port is one endpoint on a simulated network. Messages sent to a
// Port arrive on its Incoming stream.
type Port struct {
	Incoming *EventStream
}

// NewPort creates a Port on the given loop.
func NewPort(loop *EventLoop) *Port {
	return &Port{Incoming: loop.Stream()}
}

// A Message is a chunk of data sent between ports.
type Message struct {
	Source  *Port
	Dest    *Port
	Payload interface{}

	// Size is the payload size in bytes, for transmission timing.
	Size float64
}

// A Network delivers messages between ports.
type Network interface {
	// Send schedules the delivery of messages. It never blocks.
	Send(h *Handle, msgs ...*Message)
}

// A LinkNetwork models links with a fixed byte rate and a bounded
// random latency. Deliveries to the same destination port are
// serialized in send order, so for each ordered pair of ports messages
// arrive in the order they were sent.
type LinkNetwork struct {
	// Rate is the transmission rate in bytes per virtual time unit.
	Rate float64

	// MaxRandomLatency bounds the per-message random latency.
	MaxRandomLatency float64

	lock      sync.Mutex
	nextTimes map[*Port]float64
}

// NewLinkNetwork creates a LinkNetwork.
func NewLinkNetwork(rate, maxRandomLatency float64) *LinkNetwork {
	return &LinkNetwork{
		Rate:             rate,
		MaxRandomLatency: maxRandomLatency,
		nextTimes:        map[*Port]float64{},
	}
}

// Send schedules the messages, keeping per-destination deliveries in
// order.
func (l *LinkNetwork) Send(h *Handle, msgs ...*Message) {
	l.lock.Lock()
	defer l.lock.Unlock()

	curTime := h.Time()
	for _, msg := range msgs {
		arrival := curTime + rand.Float64()*l.MaxRandomLatency + msg.Size/l.Rate
		if next, ok := l.nextTimes[msg.Dest]; ok && arrival <= next {
			// Keep arrival times strictly increasing per port so
			// the loop's tie shuffling cannot reorder them.
			arrival = next * (1 + 1e-12)
			if arrival <= next {
				arrival = next + 1e-9
			}
		}
		l.nextTimes[msg.Dest] = arrival
		h.Schedule(msg.Dest.Incoming, msg, arrival-curTime)
	}
}
