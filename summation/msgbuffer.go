package summation

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/stelzch/binary-tree-summation/comm"
)

// DefaultMaxMessageLength is the default number of (index, value)
// entries coalesced into one message.
const DefaultMaxMessageLength = 256

// Wire size of one entry: u64 index plus f64 value, little-endian.
const entryWireSize = 16

// MessageStats counts a MessageBuffer's traffic.
type MessageStats struct {
	SentMessages     uint64
	SentSummands     uint64
	ReceivedMessages uint64
}

// A MessageBuffer batches small (index, value) messages to a single
// current target and serves point-to-point index lookups from peers.
//
// The protocol invariant behind Get is established by the reduction
// schedule: whenever Get(source, i) runs, the source has already
// finished computing i, so the value is either in the inbox or part of
// the very next message from that source.
type MessageBuffer struct {
	transport comm.Transport
	maxLen    int

	target int
	outbox []byte
	nOut   int

	reqs      []comm.Request
	sendClear bool

	inbox   map[uint64]float64
	recvBuf []byte

	stats MessageStats
}

// NewMessageBuffer creates a buffer coalescing up to maxLen entries per
// message; maxLen <= 0 selects DefaultMaxMessageLength.
func NewMessageBuffer(t comm.Transport, maxLen int) *MessageBuffer {
	if maxLen <= 0 {
		maxLen = DefaultMaxMessageLength
	}
	return &MessageBuffer{
		transport: t,
		maxLen:    maxLen,
		target:    -1,
		outbox:    make([]byte, 0, maxLen*entryWireSize),
		sendClear: true,
		inbox:     map[uint64]float64{},
		recvBuf:   make([]byte, maxLen*entryWireSize),
	}
}

// Put queues (index, value) for delivery to target, flushing first if
// the outbox is full or aimed at a different rank.
func (m *MessageBuffer) Put(target int, index uint64, value float64) error {
	if m.nOut >= m.maxLen || (m.target != -1 && m.target != target) {
		if err := m.Flush(); err != nil {
			return err
		}
	}
	// The send is asynchronous; reclaim the outbox storage before
	// writing into it again.
	if !m.sendClear {
		if err := m.Wait(); err != nil {
			return err
		}
	}

	m.target = target
	m.outbox = binary.LittleEndian.AppendUint64(m.outbox, index)
	m.outbox = binary.LittleEndian.AppendUint64(m.outbox, math.Float64bits(value))
	m.nOut++
	m.stats.SentSummands++

	if m.nOut == m.maxLen {
		return m.Flush()
	}
	return nil
}

// Flush dispatches the outbox as one non-blocking send.
func (m *MessageBuffer) Flush() error {
	if m.target == -1 || m.nOut == 0 {
		return nil
	}
	payload := append([]byte(nil), m.outbox...)
	req, err := m.transport.Isend(m.target, comm.TagMessageBuffer, payload)
	if err != nil {
		return errors.Wrapf(err, "summation: flushing %d entries to rank %d", m.nOut, m.target)
	}
	m.reqs = append(m.reqs, req)
	m.stats.SentMessages++

	m.target = -1
	m.outbox = m.outbox[:0]
	m.nOut = 0
	m.sendClear = false
	return nil
}

// Wait blocks until all dispatched sends have completed.
func (m *MessageBuffer) Wait() error {
	if err := m.transport.WaitAll(m.reqs); err != nil {
		return errors.Wrap(err, "summation: waiting for sends")
	}
	m.reqs = m.reqs[:0]
	m.sendClear = true
	return nil
}

// Receive blocks for one message from source and files its entries
// into the inbox.
func (m *MessageBuffer) Receive(source int) error {
	status, err := m.transport.Recv(source, comm.TagMessageBuffer, m.recvBuf)
	if err != nil {
		return errors.Wrapf(err, "summation: receiving from rank %d", source)
	}
	if status.Count%entryWireSize != 0 {
		return errors.Errorf(
			"summation: %d-byte message from rank %d is not a whole number of entries",
			status.Count, source)
	}
	for off := 0; off < status.Count; off += entryWireSize {
		index := binary.LittleEndian.Uint64(m.recvBuf[off:])
		value := math.Float64frombits(binary.LittleEndian.Uint64(m.recvBuf[off+8:]))
		m.inbox[index] = value
	}
	m.stats.ReceivedMessages++
	return nil
}

// Get consumes the value for a global index computed by source,
// receiving the source's next message if it has not arrived yet.
func (m *MessageBuffer) Get(source int, index uint64) (float64, error) {
	if v, ok := m.inbox[index]; ok {
		delete(m.inbox, index)
		return v, nil
	}

	// Before blocking, make sure nobody is blocked on our results.
	if err := m.Flush(); err != nil {
		return 0, err
	}
	if err := m.Wait(); err != nil {
		return 0, err
	}
	if err := m.Receive(source); err != nil {
		return 0, err
	}

	v, ok := m.inbox[index]
	if !ok {
		return 0, errors.Errorf(
			"summation: rank %d did not deliver index %d in its next message", source, index)
	}
	delete(m.inbox, index)
	return v, nil
}

// Stats returns the traffic counters.
func (m *MessageBuffer) Stats() MessageStats {
	return m.stats
}
