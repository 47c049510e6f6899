package summation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stelzch/binary-tree-summation/simcomm"
	"github.com/stelzch/binary-tree-summation/simulator"
)

func TestMessageBufferPutGet(t *testing.T) {
	loop := simulator.NewEventLoop()
	network := simulator.NewLinkNetwork(1e9, 1e-6)
	simcomm.Spawn(loop, network, 2, func(tr *simcomm.Transport) {
		mb := NewMessageBuffer(tr, 4)
		if tr.Rank() == 1 {
			assert.NoError(t, mb.Put(0, 5, 0.5))
			assert.NoError(t, mb.Put(0, 6, 0.25))
			assert.NoError(t, mb.Flush())
			assert.NoError(t, mb.Wait())
		} else {
			v, err := mb.Get(1, 5)
			assert.NoError(t, err)
			assert.Equal(t, 0.5, v)
			// The second entry arrived in the same message.
			v, err = mb.Get(1, 6)
			assert.NoError(t, err)
			assert.Equal(t, 0.25, v)
		}
	})
	require.NoError(t, loop.Run())
}

// A full outbox flushes on its own, so the receiver sees two messages.
func TestMessageBufferAutoFlush(t *testing.T) {
	loop := simulator.NewEventLoop()
	network := simulator.NewLinkNetwork(1e9, 1e-6)
	simcomm.Spawn(loop, network, 2, func(tr *simcomm.Transport) {
		mb := NewMessageBuffer(tr, 2)
		if tr.Rank() == 1 {
			for i := uint64(0); i < 4; i++ {
				assert.NoError(t, mb.Put(0, i, float64(i)))
			}
			assert.NoError(t, mb.Flush())
			assert.NoError(t, mb.Wait())
			stats := mb.Stats()
			assert.Equal(t, uint64(2), stats.SentMessages)
			assert.Equal(t, uint64(4), stats.SentSummands)
		} else {
			for i := uint64(0); i < 4; i++ {
				v, err := mb.Get(1, i)
				assert.NoError(t, err)
				assert.Equal(t, float64(i), v)
			}
			assert.Equal(t, uint64(2), mb.Stats().ReceivedMessages)
		}
	})
	require.NoError(t, loop.Run())
}

// Changing the target rank flushes the pending batch.
func TestMessageBufferTargetSwitch(t *testing.T) {
	loop := simulator.NewEventLoop()
	network := simulator.NewLinkNetwork(1e9, 1e-6)
	simcomm.Spawn(loop, network, 3, func(tr *simcomm.Transport) {
		mb := NewMessageBuffer(tr, 16)
		switch tr.Rank() {
		case 2:
			assert.NoError(t, mb.Put(0, 10, 1.0))
			assert.NoError(t, mb.Put(1, 11, 2.0))
			assert.NoError(t, mb.Flush())
			assert.NoError(t, mb.Wait())
			assert.Equal(t, uint64(2), mb.Stats().SentMessages)
		case 0:
			v, err := mb.Get(2, 10)
			assert.NoError(t, err)
			assert.Equal(t, 1.0, v)
		case 1:
			v, err := mb.Get(2, 11)
			assert.NoError(t, err)
			assert.Equal(t, 2.0, v)
		}
	})
	require.NoError(t, loop.Run())
}

// Asking for a value the peer never computed is a protocol violation,
// not a hang.
func TestMessageBufferProtocolViolation(t *testing.T) {
	loop := simulator.NewEventLoop()
	network := simulator.NewLinkNetwork(1e9, 1e-6)
	simcomm.Spawn(loop, network, 2, func(tr *simcomm.Transport) {
		mb := NewMessageBuffer(tr, 4)
		if tr.Rank() == 1 {
			assert.NoError(t, mb.Put(0, 5, 0.5))
			assert.NoError(t, mb.Flush())
			assert.NoError(t, mb.Wait())
		} else {
			_, err := mb.Get(1, 99)
			assert.ErrorContains(t, err, "did not deliver index 99")
		}
	})
	require.NoError(t, loop.Run())
}
