// Package simcomm implements the comm.Transport contract on top of the
// virtual-time simulator, so that a whole cluster of summation
// processes can run and be tested inside one binary.
package simcomm

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/essentials"

	"github.com/stelzch/binary-tree-summation/comm"
	"github.com/stelzch/binary-tree-summation/simulator"
)

// Internal tags for the collectives built from point-to-point sends.
const (
	tagBcast = 20240 + iota
	tagAllgather
)

// Per-message bookkeeping overhead in simulated bytes.
const envelopeOverhead = 16.0

type envelope struct {
	source  int
	tag     int
	payload []byte
}

// A Transport is one simulated process's connection to the cluster.
type Transport struct {
	handle  *simulator.Handle
	network simulator.Network
	rank    int
	ports   []*simulator.Port

	// Received but not yet consumed envelopes.
	pending []*envelope
}

// New creates a Transport for the process at the given rank. The ports
// slice is shared by all ranks, one port per rank.
func New(h *simulator.Handle, network simulator.Network, rank int,
	ports []*simulator.Port) *Transport {
	return &Transport{handle: h, network: network, rank: rank, ports: ports}
}

// Spawn creates ports for numRanks processes and calls f for each rank
// in its own goroutine. The caller still has to run the loop.
func Spawn(loop *simulator.EventLoop, network simulator.Network, numRanks int,
	f func(t *Transport)) {
	ports := make([]*simulator.Port, numRanks)
	for i := range ports {
		ports[i] = simulator.NewPort(loop)
	}
	for i := 0; i < numRanks; i++ {
		rank := i
		loop.Go(func(h *simulator.Handle) {
			f(New(h, network, rank, ports))
		})
	}
}

// Rank returns this process's rank.
func (t *Transport) Rank() int {
	return t.rank
}

// Size returns the number of ranks.
func (t *Transport) Size() int {
	return len(t.ports)
}

type sendRequest struct {
	status comm.Status
}

func (s *sendRequest) Done() bool { return true }

type recvRequest struct {
	source, tag int
	buf         []byte
	done        bool
	status      comm.Status
}

func (r *recvRequest) Done() bool { return r.done }

// Isend hands data to the network and returns a completed request; the
// simulated network buffers every message.
func (t *Transport) Isend(dest, tag int, data []byte) (comm.Request, error) {
	if dest < 0 || dest >= len(t.ports) {
		return nil, errors.Errorf("simcomm: send to rank %d of %d", dest, len(t.ports))
	}
	t.network.Send(t.handle, &simulator.Message{
		Source:  t.ports[t.rank],
		Dest:    t.ports[dest],
		Payload: &envelope{source: t.rank, tag: tag, payload: data},
		Size:    float64(len(data)) + envelopeOverhead,
	})
	return &sendRequest{status: comm.Status{Source: t.rank, Tag: tag, Count: len(data)}}, nil
}

// Send is Isend with an immediate wait.
func (t *Transport) Send(dest, tag int, data []byte) error {
	_, err := t.Isend(dest, tag, data)
	return err
}

// Recv blocks until a message from source with the given tag arrives.
// Messages for other (source, tag) pairs arriving in the meantime are
// queued.
func (t *Transport) Recv(source, tag int, buf []byte) (comm.Status, error) {
	for i, env := range t.pending {
		if env.source == source && env.tag == tag {
			essentials.OrderedDelete(&t.pending, i)
			return copyOut(env, buf)
		}
	}
	for {
		msg := t.handle.Poll(t.ports[t.rank].Incoming).Message.(*simulator.Message)
		env := msg.Payload.(*envelope)
		if env.source == source && env.tag == tag {
			return copyOut(env, buf)
		}
		t.pending = append(t.pending, env)
	}
}

func copyOut(env *envelope, buf []byte) (comm.Status, error) {
	status := comm.Status{Source: env.source, Tag: env.tag, Count: len(env.payload)}
	if len(env.payload) > len(buf) {
		return status, errors.Errorf(
			"simcomm: %d-byte message from rank %d (tag %d) exceeds %d-byte buffer",
			len(env.payload), env.source, env.tag, len(buf))
	}
	copy(buf, env.payload)
	return status, nil
}

// Irecv registers a receive that completes during Wait.
func (t *Transport) Irecv(source, tag int, buf []byte) (comm.Request, error) {
	return &recvRequest{source: source, tag: tag, buf: buf}, nil
}

// Wait completes the request.
func (t *Transport) Wait(r comm.Request) (comm.Status, error) {
	switch req := r.(type) {
	case *sendRequest:
		return req.status, nil
	case *recvRequest:
		if !req.done {
			status, err := t.Recv(req.source, req.tag, req.buf)
			if err != nil {
				return status, err
			}
			req.status = status
			req.done = true
		}
		return req.status, nil
	default:
		return comm.Status{}, errors.Errorf("simcomm: foreign request %T", r)
	}
}

// WaitAll completes every request in order.
func (t *Transport) WaitAll(rs []comm.Request) error {
	for _, r := range rs {
		if _, err := t.Wait(r); err != nil {
			return err
		}
	}
	return nil
}

// Bcast distributes buf from root to every rank.
func (t *Transport) Bcast(root int, buf []byte) error {
	if t.rank == root {
		for r := range t.ports {
			if r == root {
				continue
			}
			data := append([]byte(nil), buf...)
			if err := t.Send(r, tagBcast, data); err != nil {
				return err
			}
		}
		return nil
	}
	_, err := t.Recv(root, tagBcast, buf)
	return err
}

// AllgatherUint64 exchanges one integer with every rank.
func (t *Transport) AllgatherUint64(value uint64) ([]uint64, error) {
	out := make([]uint64, len(t.ports))
	out[t.rank] = value

	payload := comm.AppendUint64(nil, value)
	for r := range t.ports {
		if r == t.rank {
			continue
		}
		if err := t.Send(r, tagAllgather, append([]byte(nil), payload...)); err != nil {
			return nil, err
		}
	}
	var scratch [8]byte
	for r := range t.ports {
		if r == t.rank {
			continue
		}
		if _, err := t.Recv(r, tagAllgather, scratch[:]); err != nil {
			return nil, err
		}
		out[r] = comm.Uint64(scratch[:])
	}
	return out, nil
}
